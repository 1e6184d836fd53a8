package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TradeSQLRepo struct {
	db *gorm.DB
}

func NewTradeSQLRepo(db *gorm.DB) *TradeSQLRepo {
	return &TradeSQLRepo{
		db: db,
	}
}

func (r *TradeSQLRepo) dbWithContext(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

func (r *TradeSQLRepo) bulkCreate(ctx context.Context, records []*TradeRecord) *gorm.DB {
	return r.dbWithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(records)
}

// BulkCreate inserts records, skipping event ids already stored.
func (r *TradeSQLRepo) BulkCreate(ctx context.Context, records []*TradeRecord) ([]*TradeRecord, error) {
	if len(records) == 0 {
		return records, nil
	}
	return records, r.bulkCreate(ctx, records).Error
}

func (r *TradeSQLRepo) FindByEventIDs(ctx context.Context, eventIDs []string) ([]*TradeRecord, error) {
	var out []*TradeRecord
	err := r.dbWithContext(ctx).Where("event_id IN ?", eventIDs).Order("trade_id").Find(&out).Error
	return out, err
}

func (r *TradeSQLRepo) ListBySymbol(ctx context.Context, symbol string, limit int) ([]*TradeRecord, error) {
	var out []*TradeRecord
	err := r.dbWithContext(ctx).Where("symbol = ?", symbol).Order("executed_at DESC, trade_id DESC").Limit(limit).Find(&out).Error
	return out, err
}
