package settlement

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/joripage/matchcore/pkg/logging"
	"github.com/joripage/matchcore/pkg/orderbook"
	"go.uber.org/zap"
)

var ErrPublisherClosed = errors.New("settlement publisher stopped")

// Producer is satisfied by *kafkawrapper.Producer.
type Producer interface {
	PublishJSON(ctx context.Context, topic string, key string, v any, headers map[string]string) error
}

type Source interface {
	RegisterListener(fn func(orderbook.BookUpdate)) orderbook.BookUpdate
}

type PublisherOption func(*Publisher)

func WithLogger(l *logging.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = l
	}
}

// WithRetry bounds how long Run keeps retrying one event.
func WithRetry(maxElapsed time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.maxElapsed = maxElapsed
	}
}

// Publisher forwards every trade the engine produces to the ledger topic.
// The engine callback only enqueues; Run does the network I/O.
type Publisher struct {
	producer   Producer
	topic      string
	queue      chan TradeEvent
	maxElapsed time.Duration
	logger     *logging.Logger

	enqueued  atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

func NewPublisher(producer Producer, topic string, queueSize int, opts ...PublisherOption) *Publisher {
	if queueSize <= 0 {
		queueSize = 4096
	}
	p := &Publisher{
		producer:   producer,
		topic:      topic,
		queue:      make(chan TradeEvent, queueSize),
		maxElapsed: 30 * time.Second,
		logger:     logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("component", "settlement"), zap.String("topic", topic))
	return p
}

// Attach registers p on src. Trades executed before Attach are not replayed.
func (p *Publisher) Attach(src Source) {
	src.RegisterListener(p.OnUpdate)
}

func (p *Publisher) OnUpdate(u orderbook.BookUpdate) {
	for _, t := range u.Trades {
		ev := NewTradeEvent(t)
		select {
		case p.queue <- ev:
			p.enqueued.Add(1)
		default:
			p.dropped.Add(1)
			p.logger.Error(context.Background(), "settlement queue full, trade not forwarded",
				zap.Uint64("trade_id", t.ID),
				zap.String("event_id", ev.EventID),
			)
		}
	}
}

// Run publishes queued events until ctx is done, then drains what is left
// with a short grace period.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-p.queue:
			p.publish(ctx, ev)
		case <-ctx.Done():
			return p.drain()
		}
	}
}

func (p *Publisher) drain() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-p.queue:
			p.publish(ctx, ev)
		default:
			return nil
		}
		if ctx.Err() != nil {
			return ErrPublisherClosed
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ev TradeEvent) {
	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = 50 * time.Millisecond
	boff.MaxElapsedTime = p.maxElapsed

	err := backoff.Retry(func() error {
		return p.producer.PublishJSON(ctx, p.topic, ev.Symbol, ev, map[string]string{"event_id": ev.EventID})
	}, backoff.WithContext(boff, ctx))
	if err != nil {
		p.failed.Add(1)
		p.logger.Error(ctx, "publish trade event failed",
			zap.Uint64("trade_id", ev.TradeID),
			zap.String("event_id", ev.EventID),
			zap.Error(err),
		)
		return
	}
	p.published.Add(1)
}

type Stats struct {
	Enqueued  uint64
	Published uint64
	Dropped   uint64
	Failed    uint64
}

func (p *Publisher) Stats() Stats {
	return Stats{
		Enqueued:  p.enqueued.Load(),
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
	}
}
