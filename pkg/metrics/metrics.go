// Package metrics exports engine activity as prometheus collectors.
package metrics

import (
	"sync"

	"github.com/joripage/matchcore/pkg/orderbook"
	"github.com/prometheus/client_golang/prometheus"
)

type Source interface {
	RegisterListener(fn func(orderbook.BookUpdate)) orderbook.BookUpdate
}

// EngineMetrics turns book updates into counters and gauges. It is called on
// the engine's write path, so every method stays allocation-light.
type EngineMetrics struct {
	updates    *prometheus.CounterVec
	trades     prometheus.Counter
	volume     prometheus.Counter
	notional   prometheus.Counter
	bestBid    prometheus.Gauge
	bestAsk    prometheus.Gauge
	lastPrice  prometheus.Gauge
	bidLevels  prometheus.Gauge
	askLevels  prometheus.Gauge
	collectors []prometheus.Collector

	mu      sync.Mutex
	lastSeq uint64
}

func NewEngineMetrics(symbol string) *EngineMetrics {
	labels := prometheus.Labels{"symbol": symbol}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "matchcore", Subsystem: "book", Name: name, Help: help, ConstLabels: labels,
		})
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "matchcore", Subsystem: "engine", Name: name, Help: help, ConstLabels: labels,
		})
	}

	m := &EngineMetrics{
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchcore", Subsystem: "engine", Name: "writes_total",
			Help: "Applied book writes by kind.", ConstLabels: labels,
		}, []string{"kind"}),
		trades:    counter("trades_total", "Executed trades."),
		volume:    counter("traded_qty_total", "Executed base quantity."),
		notional:  counter("traded_notional_total", "Executed quote notional."),
		bestBid:   gauge("best_bid", "Best bid price, 0 when the side is empty."),
		bestAsk:   gauge("best_ask", "Best ask price, 0 when the side is empty."),
		lastPrice: gauge("last_price", "Price of the latest trade."),
		bidLevels: gauge("bid_levels", "Bid price levels in the published depth."),
		askLevels: gauge("ask_levels", "Ask price levels in the published depth."),
	}
	m.collectors = []prometheus.Collector{
		m.updates, m.trades, m.volume, m.notional,
		m.bestBid, m.bestAsk, m.lastPrice, m.bidLevels, m.askLevels,
	}
	return m
}

func (m *EngineMetrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *EngineMetrics) Attach(src Source) {
	m.observeBook(src.RegisterListener(m.OnUpdate))
}

func (m *EngineMetrics) OnUpdate(u orderbook.BookUpdate) {
	m.updates.WithLabelValues(string(u.Kind)).Inc()
	for _, t := range u.Trades {
		m.trades.Inc()
		m.volume.Add(t.Qty.InexactFloat64())
		m.notional.Add(t.Notional().InexactFloat64())
		m.lastPrice.Set(t.Price.InexactFloat64())
	}
	m.observeBook(u)
}

// observeBook ignores book state older than what the gauges already show.
func (m *EngineMetrics) observeBook(u orderbook.BookUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.Sequence < m.lastSeq {
		return
	}
	m.lastSeq = u.Sequence
	m.bestBid.Set(nullFloat(u.BestBid.Valid, u.BestBid.Decimal.InexactFloat64))
	m.bestAsk.Set(nullFloat(u.BestAsk.Valid, u.BestAsk.Decimal.InexactFloat64))
	m.bidLevels.Set(float64(len(u.Depth.Bids)))
	m.askLevels.Set(float64(len(u.Depth.Asks)))
}

func nullFloat(valid bool, f func() float64) float64 {
	if !valid {
		return 0
	}
	return f()
}

// RegisterCounterFunc exposes a monotonically increasing value read on scrape.
func RegisterCounterFunc(reg prometheus.Registerer, symbol, subsystem, name, help string, fn func() uint64) error {
	return reg.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   "matchcore",
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"symbol": symbol},
	}, func() float64 { return float64(fn()) }))
}
