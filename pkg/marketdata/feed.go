package marketdata

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joripage/matchcore/pkg/logging"
	"github.com/joripage/matchcore/pkg/orderbook"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// BookSnapshot is the read-side view of the book after one write.
type BookSnapshot struct {
	Symbol    string              `json:"symbol"`
	BestBid   decimal.NullDecimal `json:"best_bid"`
	BestAsk   decimal.NullDecimal `json:"best_ask"`
	Spread    decimal.NullDecimal `json:"spread"`
	Bids      []orderbook.Level   `json:"bids"`
	Asks      []orderbook.Level   `json:"asks"`
	LastPrice decimal.NullDecimal `json:"last_price"`
	Sequence  uint64              `json:"sequence"`
	Timestamp time.Time           `json:"timestamp"`
}

// Source is anything that pushes book updates, normally *orderbook.MatchingEngine.
type Source interface {
	RegisterListener(fn func(orderbook.BookUpdate)) orderbook.BookUpdate
}

type Option func(*Feed)

func WithLogger(l *logging.Logger) Option {
	return func(f *Feed) {
		f.logger = l
	}
}

func WithPublishers(p ...Publisher) Option {
	return func(f *Feed) {
		f.publishers = append(f.publishers, p...)
	}
}

// Feed keeps a consistent snapshot, trade tape and candles for one symbol.
// OnUpdate runs on the engine's write path and never blocks: outbound
// delivery happens in Run.
type Feed struct {
	mu      sync.RWMutex
	cfg     Config
	symbol  string
	book    BookSnapshot
	tape    *TradeTape
	candles *CandleSeries

	publishers []Publisher
	queue      chan Update
	dropped    atomic.Uint64
	published  atomic.Uint64
	failed     atomic.Uint64

	logger *logging.Logger
}

func NewFeed(symbol string, cfg Config, opts ...Option) *Feed {
	cfg = cfg.WithDefaults()
	f := &Feed{
		cfg:     cfg,
		symbol:  symbol,
		book:    BookSnapshot{Symbol: symbol},
		tape:    NewTradeTape(cfg.TapeSize),
		candles: NewCandleSeries(cfg.CandleInterval, cfg.CandleRetention),
		queue:   make(chan Update, cfg.QueueSize),
		logger:  logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With(zap.String("component", "marketdata"), zap.String("symbol", symbol))
	return f
}

// Attach subscribes the feed to src and seeds it with src's current state.
func (f *Feed) Attach(src Source) {
	snap := src.RegisterListener(f.OnUpdate)
	f.OnUpdate(snap)
}

func (f *Feed) OnUpdate(u orderbook.BookUpdate) {
	f.mu.Lock()
	f.tape.Add(u.Trades...)
	f.candles.Add(u.Trades...)

	// a registration snapshot can arrive after a newer write
	if u.Sequence < f.book.Sequence {
		f.mu.Unlock()
		return
	}

	snap := BookSnapshot{
		Symbol:    f.symbol,
		BestBid:   u.BestBid,
		BestAsk:   u.BestAsk,
		Bids:      trimLevels(u.Depth.Bids, f.cfg.DepthLevels),
		Asks:      trimLevels(u.Depth.Asks, f.cfg.DepthLevels),
		LastPrice: f.book.LastPrice,
		Sequence:  u.Sequence,
		Timestamp: u.Timestamp,
	}
	if u.BestBid.Valid && u.BestAsk.Valid {
		snap.Spread = decimal.NullDecimal{Decimal: u.BestAsk.Decimal.Sub(u.BestBid.Decimal), Valid: true}
	}
	if last, ok := f.tape.LastTrade(); ok {
		snap.LastPrice = decimal.NullDecimal{Decimal: last.Price, Valid: true}
	}
	f.book = snap
	f.mu.Unlock()

	if len(f.publishers) == 0 {
		return
	}
	select {
	case f.queue <- Update{Book: snap, Trades: u.Trades}:
	default:
		f.dropped.Add(1)
	}
}

func trimLevels(levels []orderbook.Level, n int) []orderbook.Level {
	if n > 0 && len(levels) > n {
		levels = levels[:n]
	}
	return append([]orderbook.Level(nil), levels...)
}

// CurrentBook returns the snapshot after the latest applied update.
func (f *Feed) CurrentBook() BookSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	snap := f.book
	snap.Bids = append([]orderbook.Level(nil), f.book.Bids...)
	snap.Asks = append([]orderbook.Level(nil), f.book.Asks...)
	return snap
}

// RecentTrades returns up to n of the latest trades, oldest first.
func (f *Feed) RecentTrades(n int) []orderbook.Trade {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.tape.Last(n)
}

// Candles returns up to n of the latest candles, oldest first.
func (f *Feed) Candles(n int) []Candle {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.candles.Last(n)
}

// Dropped counts updates discarded because the outbound queue was full.
func (f *Feed) Dropped() uint64 { return f.dropped.Load() }

func (f *Feed) Published() uint64 { return f.published.Load() }

func (f *Feed) Failed() uint64 { return f.failed.Load() }

// Run delivers queued updates to every publisher until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-f.queue:
			f.publish(ctx, u)
		}
	}
}

func (f *Feed) publish(ctx context.Context, u Update) {
	for _, p := range f.publishers {
		pctx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := p.Publish(pctx, u)
		cancel()
		if err != nil {
			f.failed.Add(1)
			f.logger.Warn(ctx, "publish market data failed",
				zap.Uint64("sequence", u.Book.Sequence),
				zap.Error(err),
			)
			continue
		}
		f.published.Add(1)
	}
}
