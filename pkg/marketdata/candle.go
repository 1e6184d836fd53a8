package marketdata

import (
	"time"

	"github.com/gammazero/deque"
	"github.com/joripage/matchcore/pkg/orderbook"
	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bar built from executed trades.
type Candle struct {
	Start  time.Time       `json:"start"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
	Trades int             `json:"trades"`
}

func newCandle(start time.Time, t orderbook.Trade) Candle {
	return Candle{
		Start:  start,
		Open:   t.Price,
		High:   t.Price,
		Low:    t.Price,
		Close:  t.Price,
		Volume: t.Qty,
		Trades: 1,
	}
}

func (c *Candle) add(t orderbook.Trade) {
	if t.Price.GreaterThan(c.High) {
		c.High = t.Price
	}
	if t.Price.LessThan(c.Low) {
		c.Low = t.Price
	}
	c.Close = t.Price
	c.Volume = c.Volume.Add(t.Qty)
	c.Trades++
}

// CandleSeries buckets trades into fixed intervals and keeps the newest
// retention candles. Intervals without trades produce no candle.
type CandleSeries struct {
	interval  time.Duration
	retention int
	candles   deque.Deque[Candle]
}

func NewCandleSeries(interval time.Duration, retention int) *CandleSeries {
	if retention <= 0 {
		retention = 1
	}
	return &CandleSeries{interval: interval, retention: retention}
}

func (s *CandleSeries) Add(trades ...orderbook.Trade) {
	for _, t := range trades {
		start := t.Timestamp.Truncate(s.interval)
		if s.candles.Len() > 0 {
			last := s.candles.Back()
			// a trade stamped before the open bucket still belongs to it
			if !start.After(last.Start) {
				last.add(t)
				s.candles.Set(s.candles.Len()-1, last)
				continue
			}
		}
		if s.candles.Len() == s.retention {
			s.candles.PopFront()
		}
		s.candles.PushBack(newCandle(start, t))
	}
}

func (s *CandleSeries) Len() int {
	return s.candles.Len()
}

// Last returns up to n candles, oldest first. n <= 0 returns everything.
func (s *CandleSeries) Last(n int) []Candle {
	l := s.candles.Len()
	if n <= 0 || n > l {
		n = l
	}
	out := make([]Candle, 0, n)
	for i := l - n; i < l; i++ {
		out = append(out, s.candles.At(i))
	}
	return out
}
