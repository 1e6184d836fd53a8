package settlement

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joripage/matchcore/pkg/orderbook"
	"github.com/shopspring/decimal"
)

// TradeEvent is the ledger's view of one execution: who pays what to whom.
type TradeEvent struct {
	EventID      string          `json:"event_id"`
	TradeID      uint64          `json:"trade_id"`
	Symbol       string          `json:"symbol"`
	Price        decimal.Decimal `json:"price"`
	Qty          decimal.Decimal `json:"qty"`
	Notional     decimal.Decimal `json:"notional"`
	TakerSide    orderbook.Side  `json:"taker_side"`
	BuyOrderID   string          `json:"buy_order_id"`
	SellOrderID  string          `json:"sell_order_id"`
	BuyerUserID  string          `json:"buyer_user_id"`
	SellerUserID string          `json:"seller_user_id"`
	ExecutedAt   time.Time       `json:"executed_at"`
}

// NewEventID derives a stable id from symbol and trade id, so replays of the
// same trade collapse to one ledger entry.
func NewEventID(symbol string, tradeID uint64) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:%d", symbol, tradeID))).String()
}

func NewTradeEvent(t orderbook.Trade) TradeEvent {
	return TradeEvent{
		EventID:      NewEventID(t.Symbol, t.ID),
		TradeID:      t.ID,
		Symbol:       t.Symbol,
		Price:        t.Price,
		Qty:          t.Qty,
		Notional:     t.Notional(),
		TakerSide:    t.TakerSide,
		BuyOrderID:   t.BuyOrderID(),
		SellOrderID:  t.SellOrderID(),
		BuyerUserID:  t.BuyerUserID(),
		SellerUserID: t.SellerUserID(),
		ExecutedAt:   t.Timestamp,
	}
}
