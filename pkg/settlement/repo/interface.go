package repo

import (
	"context"
)

type ITrade interface {
	BulkCreate(ctx context.Context, records []*TradeRecord) ([]*TradeRecord, error)
	FindByEventIDs(ctx context.Context, eventIDs []string) ([]*TradeRecord, error)
	ListBySymbol(ctx context.Context, symbol string, limit int) ([]*TradeRecord, error)
}
