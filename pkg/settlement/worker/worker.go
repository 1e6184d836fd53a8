package worker

import (
	"context"
	"encoding/json"
	"fmt"

	kafkawrapper "github.com/joripage/matchcore/pkg/kafka_wrapper"
	"github.com/joripage/matchcore/pkg/logging"
	"github.com/joripage/matchcore/pkg/settlement"
	"github.com/joripage/matchcore/pkg/settlement/repo"
	"go.uber.org/zap"
)

// Consumer is satisfied by *kafkawrapper.ConsumerGroup.
type Consumer interface {
	Run(ctx context.Context, handler kafkawrapper.BatchHandler) error
}

// Worker persists trade events from the ledger topic into the audit table.
type Worker struct {
	trade  repo.ITrade
	logger *logging.Logger
}

func NewWorker(r repo.IRepo, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Worker{
		trade:  r.Trade(),
		logger: logger.With(zap.String("component", "settlement_worker")),
	}
}

func (w *Worker) Start(ctx context.Context, consumer Consumer) error {
	w.logger.Info(ctx, "settlement worker started")
	defer w.logger.Info(context.Background(), "settlement worker stopped")
	return consumer.Run(ctx, w.HandleBatch)
}

// HandleBatch stores one batch. Undecodable messages are logged and skipped
// so a poison message cannot block the partition; a store error fails the
// whole batch and lets the consumer retry it.
func (w *Worker) HandleBatch(ctx context.Context, msgs []kafkawrapper.Message) error {
	records := make([]*repo.TradeRecord, 0, len(msgs))
	for _, m := range msgs {
		var ev settlement.TradeEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			w.logger.Warn(ctx, "skip undecodable trade event",
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err),
			)
			continue
		}
		if ev.EventID == "" {
			ev.EventID = settlement.NewEventID(ev.Symbol, ev.TradeID)
		}
		records = append(records, toRecord(ev))
	}
	if len(records) == 0 {
		return nil
	}

	if _, err := w.trade.BulkCreate(ctx, records); err != nil {
		return fmt.Errorf("store %d trade events: %w", len(records), err)
	}
	w.logger.Debug(ctx, "trade events stored", zap.Int("count", len(records)))
	return nil
}

func toRecord(ev settlement.TradeEvent) *repo.TradeRecord {
	return &repo.TradeRecord{
		EventID:      ev.EventID,
		TradeID:      ev.TradeID,
		Symbol:       ev.Symbol,
		Price:        ev.Price,
		Qty:          ev.Qty,
		TakerSide:    string(ev.TakerSide),
		BuyOrderID:   ev.BuyOrderID,
		SellOrderID:  ev.SellOrderID,
		BuyerUserID:  ev.BuyerUserID,
		SellerUserID: ev.SellerUserID,
		ExecutedAt:   ev.ExecutedAt,
	}
}
