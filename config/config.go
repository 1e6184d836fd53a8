package config

import (
	"errors"
	"fmt"
	"os"

	postgres_wrapper "github.com/joripage/matchcore/pkg/infra/postgres"
	redis_wrapper "github.com/joripage/matchcore/pkg/infra/redis"
	kafkawrapper "github.com/joripage/matchcore/pkg/kafka_wrapper"
	"github.com/joripage/matchcore/pkg/marketdata"
	"github.com/joripage/matchcore/pkg/simulator"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type EngineConfig struct {
	Symbol string `yaml:"symbol"`
	// ListenerDepth levels per side carried in every book update
	ListenerDepth      int    `yaml:"listener_depth"`
	OrderSequenceStart uint64 `yaml:"order_sequence_start"`
	TradeSequenceStart uint64 `yaml:"trade_sequence_start"`
}

type KafkaConfig struct {
	TradeTopic string                      `yaml:"trade_topic"`
	QueueSize  int                         `yaml:"queue_size"`
	Producer   kafkawrapper.ProducerConfig `yaml:"producer"`
	Consumer   kafkawrapper.ConsumerConfig `yaml:"consumer"`
}

type AppConfig struct {
	ServiceName string            `yaml:"service_name"`
	LogLevel    string            `yaml:"log_level"`
	PprofAddr   string            `yaml:"pprof_addr"`
	Engine      EngineConfig      `yaml:"engine"`
	MarketData  marketdata.Config `yaml:"market_data"`
	Simulator   simulator.Config  `yaml:"simulator"`

	// optional sinks, nil disables them
	Redis    *redis_wrapper.RedisConfig       `yaml:"redis"`
	Kafka    *KafkaConfig                     `yaml:"kafka"`
	LedgerDB *postgres_wrapper.PostgresConfig `yaml:"ledger_db"`
}

var ErrInvalidConfig = errors.New("invalid config")

// Load load config from file and environment variables.
func Load(filePath string) (*AppConfig, error) {
	if len(filePath) == 0 {
		filePath = os.Getenv("CONFIG_FILE")
	}

	sugar := zap.S().With("func", "config.Load", "filePath", filePath)
	sugar.Debug("Load config...")

	configBytes, err := os.ReadFile(filePath)
	if err != nil {
		sugar.Error("Failed to load config file")
		return nil, fmt.Errorf("read config %q: %w", filePath, err)
	}

	cfg, err := Parse(configBytes)
	if err != nil {
		sugar.Error("Failed to parse config file")
		return nil, err
	}

	zap.S().Debugf("config: %+v", cfg)
	return cfg, nil
}

// Parse expands ${ENV} references, decodes YAML and applies defaults.
func Parse(configBytes []byte) (*AppConfig, error) {
	configBytes = []byte(os.ExpandEnv(string(configBytes)))

	cfg := &AppConfig{}
	if err := yaml.Unmarshal(configBytes, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "matchcore"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Engine.Symbol == "" {
		c.Engine.Symbol = "BTCUSD"
	}
	c.MarketData = c.MarketData.WithDefaults()
	if c.Engine.ListenerDepth <= 0 {
		c.Engine.ListenerDepth = c.MarketData.DepthLevels
	}
	c.Simulator = c.Simulator.WithDefaults()
	if c.Kafka != nil {
		if c.Kafka.TradeTopic == "" {
			c.Kafka.TradeTopic = "trades." + c.Engine.Symbol
		}
		if c.Kafka.Consumer.Topic == "" {
			c.Kafka.Consumer.Topic = c.Kafka.TradeTopic
		}
		if len(c.Kafka.Consumer.Brokers) == 0 {
			c.Kafka.Consumer.Brokers = c.Kafka.Producer.Brokers
		}
		if c.Kafka.Consumer.GroupID == "" {
			c.Kafka.Consumer.GroupID = c.ServiceName + "-ledger"
		}
	}
}

func (c *AppConfig) Validate() error {
	if c.Kafka != nil && len(c.Kafka.Producer.Brokers) == 0 {
		return fmt.Errorf("%w: kafka.producer.brokers is empty", ErrInvalidConfig)
	}
	if c.Redis != nil && c.Redis.ConnectionURL == "" {
		return fmt.Errorf("%w: redis.connection_url is empty", ErrInvalidConfig)
	}
	if c.LedgerDB != nil && c.LedgerDB.DataSource == "" {
		return fmt.Errorf("%w: ledger_db.data_source is empty", ErrInvalidConfig)
	}
	return nil
}
