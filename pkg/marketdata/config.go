package marketdata

import "time"

type Config struct {
	// DepthLevels per side kept in the snapshot
	DepthLevels     int           `yaml:"depth_levels"`
	TapeSize        int           `yaml:"tape_size"`
	CandleInterval  time.Duration `yaml:"candle_interval"`
	CandleRetention int           `yaml:"candle_retention"`
	// QueueSize bounds updates waiting for the outbound publishers
	QueueSize int `yaml:"queue_size"`
}

func DefaultConfig() Config {
	return Config{
		DepthLevels:     20,
		TapeSize:        50,
		CandleInterval:  time.Minute,
		CandleRetention: 500,
		QueueSize:       1024,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.DepthLevels <= 0 {
		c.DepthLevels = d.DepthLevels
	}
	if c.TapeSize <= 0 {
		c.TapeSize = d.TapeSize
	}
	if c.CandleInterval <= 0 {
		c.CandleInterval = d.CandleInterval
	}
	if c.CandleRetention <= 0 {
		c.CandleRetention = d.CandleRetention
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	return c
}
