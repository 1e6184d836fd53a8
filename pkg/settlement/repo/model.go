package repo

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord is one row of the trade audit table.
type TradeRecord struct {
	EventID      string          `gorm:"column:event_id;primaryKey"`
	TradeID      uint64          `gorm:"column:trade_id;not null"`
	Symbol       string          `gorm:"column:symbol;not null"`
	Price        decimal.Decimal `gorm:"column:price;type:numeric(36,18);not null"`
	Qty          decimal.Decimal `gorm:"column:qty;type:numeric(36,18);not null"`
	TakerSide    string          `gorm:"column:taker_side;not null"`
	BuyOrderID   string          `gorm:"column:buy_order_id;not null"`
	SellOrderID  string          `gorm:"column:sell_order_id;not null"`
	BuyerUserID  string          `gorm:"column:buyer_user_id"`
	SellerUserID string          `gorm:"column:seller_user_id"`
	ExecutedAt   time.Time       `gorm:"column:executed_at;not null"`
	CreatedAt    time.Time       `gorm:"column:created_at"`
}

func (TradeRecord) TableName() string {
	return "trades"
}
