package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/joripage/matchcore/pkg/logging"
	"github.com/joripage/matchcore/pkg/orderbook"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	priceDecimals = 2
	qtyDecimals   = 4
)

var minQty = decimal.New(1, -qtyDecimals)
var minPrice = decimal.New(1, -priceDecimals)

type Config struct {
	Enabled bool            `yaml:"enabled"`
	UserID  string          `yaml:"user_id"`
	Base    decimal.Decimal `yaml:"base_price"`
	// Levels orders per side placed by Seed within PriceRange of Base
	Levels     int             `yaml:"levels"`
	PriceRange decimal.Decimal `yaml:"price_range"`
	SeedMaxQty decimal.Decimal `yaml:"seed_max_qty"`

	Tick time.Duration `yaml:"tick"`
	// Probability that the bot posts an order on a tick
	Probability float64         `yaml:"probability"`
	MaxOffset   decimal.Decimal `yaml:"max_offset"`
	BotMaxQty   decimal.Decimal `yaml:"bot_max_qty"`
	RandSeed    int64           `yaml:"rand_seed"`
}

func DefaultConfig() Config {
	return Config{
		UserID:      "bot",
		Base:        decimal.NewFromInt(65000),
		Levels:      20,
		PriceRange:  decimal.NewFromInt(500),
		SeedMaxQty:  decimal.NewFromInt(2),
		Tick:        time.Second,
		Probability: 0.3,
		MaxOffset:   decimal.NewFromInt(50),
		BotMaxQty:   decimal.NewFromInt(1),
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.UserID == "" {
		c.UserID = d.UserID
	}
	if !c.Base.IsPositive() {
		c.Base = d.Base
	}
	if c.Levels <= 0 {
		c.Levels = d.Levels
	}
	if !c.PriceRange.IsPositive() {
		c.PriceRange = d.PriceRange
	}
	if !c.SeedMaxQty.IsPositive() {
		c.SeedMaxQty = d.SeedMaxQty
	}
	if c.Tick <= 0 {
		c.Tick = d.Tick
	}
	if c.Probability <= 0 || c.Probability > 1 {
		c.Probability = d.Probability
	}
	if !c.MaxOffset.IsPositive() {
		c.MaxOffset = d.MaxOffset
	}
	if !c.BotMaxQty.IsPositive() {
		c.BotMaxQty = d.BotMaxQty
	}
	return c
}

// NewRand returns a source seeded from cfg, or from the clock when unset.
func NewRand(cfg Config) *rand.Rand {
	seed := cfg.RandSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

type Submitter interface {
	Submit(ctx context.Context, o orderbook.Order) (*orderbook.SubmitResult, error)
}

// Engine is what the bot reads to pick a reference price.
type Engine interface {
	Submitter
	BestBid() (decimal.Decimal, bool)
	BestAsk() (decimal.Decimal, bool)
}

func randomDecimal(rng *rand.Rand, max decimal.Decimal, places int32) decimal.Decimal {
	return max.Mul(decimal.NewFromFloat(rng.Float64())).Round(places)
}

func randomQty(rng *rand.Rand, max decimal.Decimal) decimal.Decimal {
	return decimal.Max(randomDecimal(rng, max, qtyDecimals), minQty)
}

// Seed places cfg.Levels asks above and cfg.Levels bids below cfg.Base.
func Seed(ctx context.Context, engine Submitter, cfg Config, rng *rand.Rand) error {
	cfg = cfg.WithDefaults()
	for i := 0; i < cfg.Levels; i++ {
		ask := orderbook.Order{
			ID:     fmt.Sprintf("ask_%d", i),
			UserID: cfg.UserID,
			Side:   orderbook.SELL,
			Type:   orderbook.LIMIT,
			Price:  cfg.Base.Add(randomDecimal(rng, cfg.PriceRange, priceDecimals)),
			Qty:    randomQty(rng, cfg.SeedMaxQty),
		}
		if _, err := engine.Submit(ctx, ask); err != nil {
			return fmt.Errorf("seed %s: %w", ask.ID, err)
		}

		bid := orderbook.Order{
			ID:     fmt.Sprintf("bid_%d", i),
			UserID: cfg.UserID,
			Side:   orderbook.BUY,
			Type:   orderbook.LIMIT,
			Price:  decimal.Max(cfg.Base.Sub(randomDecimal(rng, cfg.PriceRange, priceDecimals)), minPrice),
			Qty:    randomQty(rng, cfg.SeedMaxQty),
		}
		if _, err := engine.Submit(ctx, bid); err != nil {
			return fmt.Errorf("seed %s: %w", bid.ID, err)
		}
	}
	return nil
}

type BotOption func(*Bot)

func WithLogger(l *logging.Logger) BotOption {
	return func(b *Bot) {
		b.logger = l
	}
}

// WithLastPrice supplies the last traded price, used when the book is one-sided.
func WithLastPrice(fn func() (decimal.Decimal, bool)) BotOption {
	return func(b *Bot) {
		b.lastPrice = fn
	}
}

// Bot keeps the book alive with small random limit orders around the
// current price.
type Bot struct {
	engine    Engine
	cfg       Config
	rng       *rand.Rand
	lastPrice func() (decimal.Decimal, bool)
	logger    *logging.Logger
}

func NewBot(engine Engine, cfg Config, rng *rand.Rand, opts ...BotOption) *Bot {
	b := &Bot{
		engine: engine,
		cfg:    cfg.WithDefaults(),
		rng:    rng,
		logger: logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(zap.String("component", "simulator"))
	return b
}

// Reference is the mid price, else the last trade, else the configured base.
func (b *Bot) Reference() decimal.Decimal {
	bid, okBid := b.engine.BestBid()
	ask, okAsk := b.engine.BestAsk()
	if okBid && okAsk {
		return bid.Add(ask).Div(decimal.NewFromInt(2)).Round(priceDecimals)
	}
	if b.lastPrice != nil {
		if p, ok := b.lastPrice(); ok {
			return p
		}
	}
	return b.cfg.Base
}

// Step posts at most one order. It reports whether an order was sent.
func (b *Bot) Step(ctx context.Context) (bool, error) {
	if b.rng.Float64() >= b.cfg.Probability {
		return false, nil
	}

	side := orderbook.SELL
	if b.rng.Float64() > 0.5 {
		side = orderbook.BUY
	}
	offset := randomDecimal(b.rng, b.cfg.MaxOffset, priceDecimals)
	ref := b.Reference()
	price := ref.Add(offset)
	if side == orderbook.BUY {
		price = decimal.Max(ref.Sub(offset), minPrice)
	}

	o := orderbook.Order{
		UserID: b.cfg.UserID,
		Side:   side,
		Type:   orderbook.LIMIT,
		Price:  price,
		Qty:    randomQty(b.rng, b.cfg.BotMaxQty),
	}
	res, err := b.engine.Submit(ctx, o)
	if err != nil {
		return false, err
	}
	b.logger.Debug(ctx, "bot order",
		zap.String("order_id", res.Order.ID),
		zap.String("side", string(side)),
		zap.Stringer("price", price),
		zap.Stringer("qty", o.Qty),
		zap.Int("trades", len(res.Trades)),
	)
	return true, nil
}

// Run calls Step every tick until ctx is done or the engine halts.
func (b *Bot) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.Tick)
	defer ticker.Stop()

	b.logger.Info(ctx, "bot started", zap.Duration("tick", b.cfg.Tick), zap.Float64("probability", b.cfg.Probability))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := b.Step(ctx); err != nil {
				if errors.Is(err, orderbook.ErrEngineHalted) {
					return err
				}
				b.logger.Warn(ctx, "bot order rejected", zap.Error(err))
			}
		}
	}
}
