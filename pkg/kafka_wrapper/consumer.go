package kafkawrapper

import (
	"context"
	"errors"
	"fmt"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultMaxRetries = 5

var (
	// ErrBatchFailed stops a ConsumerGroup when a batch can be neither
	// handled nor dead-lettered.
	ErrBatchFailed  = errors.New("kafka batch failed")
	ErrNoDeadLetter = errors.New("no dead letter topic configured")
)

type ConsumerConfig struct {
	Brokers     []string      `yaml:"brokers"`
	GroupID     string        `yaml:"group_id"`
	Topic       string        `yaml:"topic"`
	WorkerCount int           `yaml:"worker_count"`
	MaxRetries  int           `yaml:"max_retries"`
	BackoffMin  time.Duration `yaml:"backoff_min"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
	DLQTopic    string        `yaml:"dlq_topic"`
	// BatchSize is the most messages handed to the handler at once,
	// BatchTimeout the longest a partial batch waits.
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

func (cfg ConsumerConfig) withDefaults() ConsumerConfig {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BackoffMin == 0 {
		cfg.BackoffMin = 100 * time.Millisecond
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = 10 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 50
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 200 * time.Millisecond
	}
	return cfg
}

// BatchHandler processes one batch; a nil error commits it.
type BatchHandler func(ctx context.Context, msgs []Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerGroup struct {
	r          messageReader
	cfg        ConsumerConfig
	prodForDLQ *Producer
}

func NewConsumerGroup(cfg ConsumerConfig) (*ConsumerGroup, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("consumer needs brokers, topic and group id")
	}
	cfg = cfg.withDefaults()

	rd := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.FirstOffset,
		MaxWait:     500 * time.Millisecond,
		MinBytes:    1,
		MaxBytes:    10 << 20,
	})

	var prod *Producer
	if cfg.DLQTopic != "" {
		prod = NewProducer(ProducerConfig{Brokers: cfg.Brokers, RequiredAcks: int(kafka.RequireOne)})
	}
	return newConsumerGroup(rd, cfg, prod), nil
}

func newConsumerGroup(r messageReader, cfg ConsumerConfig, dlq *Producer) *ConsumerGroup {
	return &ConsumerGroup{r: r, cfg: cfg.withDefaults(), prodForDLQ: dlq}
}

func (cg *ConsumerGroup) Close() error {
	if cg == nil {
		return nil
	}
	if cg.prodForDLQ != nil {
		_ = cg.prodForDLQ.Close(context.Background())
	}
	if cg.r != nil {
		return cg.r.Close()
	}
	return nil
}

// Run fetches, batches and hands messages to handler until ctx is done.
// Each partition is pinned to one of WorkerCount lanes and its batches are
// handled and committed in offset order. A batch that still fails after
// MaxRetries goes to the DLQ topic and is committed; without a DLQ, or when
// the DLQ write fails, nothing is committed and Run returns ErrBatchFailed so
// the batch is redelivered after a restart.
func (cg *ConsumerGroup) Run(ctx context.Context, handler BatchHandler) error {
	if cg == nil || cg.r == nil {
		return ErrNotInitialized
	}

	g, ctx := errgroup.WithContext(ctx)
	lanes := make([]chan kafka.Message, cg.cfg.WorkerCount)
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, cg.cfg.BatchSize)
	}
	g.Go(func() error {
		cg.fetch(ctx, lanes)
		return nil
	})

	for _, lane := range lanes {
		lane := lane
		batches := make(chan []kafka.Message)
		g.Go(func() error {
			cg.batch(ctx, lane, batches)
			return nil
		})
		g.Go(func() error {
			for ms := range batches {
				if err := cg.handle(ctx, handler, ms); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (cg *ConsumerGroup) fetch(ctx context.Context, lanes []chan kafka.Message) {
	defer func() {
		for _, l := range lanes {
			close(l)
		}
	}()
	for {
		m, err := cg.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			zap.S().Warnf("kafka fetch %s: %v", cg.cfg.Topic, err)
			select {
			case <-time.After(200 * time.Millisecond):
				continue
			case <-ctx.Done():
				return
			}
		}
		select {
		case lanes[laneOf(m.Partition, len(lanes))] <- m:
		case <-ctx.Done():
			return
		}
	}
}

func laneOf(partition, lanes int) int {
	if partition < 0 {
		partition = -partition
	}
	return partition % lanes
}

func (cg *ConsumerGroup) batch(ctx context.Context, in <-chan kafka.Message, out chan<- []kafka.Message) {
	defer close(out)
	var buf []kafka.Message
	timer := time.NewTimer(cg.cfg.BatchTimeout)
	defer timer.Stop()

	flush := func() bool {
		if len(buf) == 0 {
			return true
		}
		select {
		case out <- buf:
			buf = nil
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case m, ok := <-in:
			if !ok {
				flush()
				return
			}
			buf = append(buf, m)
			if len(buf) >= cg.cfg.BatchSize && !flush() {
				return
			}
		case <-timer.C:
			if !flush() {
				return
			}
			timer.Reset(cg.cfg.BatchTimeout)
		case <-ctx.Done():
			return
		}
	}
}

// handle returns an error only when the batch could be neither processed nor
// dead-lettered. Shutdown mid-retry leaves the batch uncommitted and returns nil.
func (cg *ConsumerGroup) handle(ctx context.Context, handler BatchHandler, ms []kafka.Message) error {
	wrapped := make([]Message, len(ms))
	for i, m := range ms {
		wrapped[i] = wrapMessage(m)
	}

	for attempt := 1; ; attempt++ {
		err := handler(ctx, wrapped)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil
		}
		if attempt > cg.cfg.MaxRetries {
			zap.S().Errorf("kafka batch on %s failed after %d attempts: %v", cg.cfg.Topic, attempt, err)
			if dlqErr := cg.deadLetter(ctx, ms); dlqErr != nil {
				return fmt.Errorf("%w: %s partition %d offset %d: %v (dead letter: %v)",
					ErrBatchFailed, cg.cfg.Topic, ms[0].Partition, ms[0].Offset, err, dlqErr)
			}
			break
		}
		select {
		case <-time.After(backoffDuration(cg.cfg.BackoffMin, cg.cfg.BackoffMax, attempt)):
		case <-ctx.Done():
			return nil
		}
	}

	if err := cg.r.CommitMessages(ctx, ms...); err != nil {
		zap.S().Warnf("kafka commit %s: %v", cg.cfg.Topic, err)
	}
	return nil
}

func (cg *ConsumerGroup) deadLetter(ctx context.Context, ms []kafka.Message) error {
	if cg.cfg.DLQTopic == "" || cg.prodForDLQ == nil {
		return ErrNoDeadLetter
	}
	for _, m := range ms {
		if err := cg.prodForDLQ.Publish(ctx, cg.cfg.DLQTopic, m.Key, m.Value, headersToMap(m.Headers)); err != nil {
			zap.S().Errorf("kafka dlq %s: %v", cg.cfg.DLQTopic, err)
			return err
		}
	}
	return nil
}
