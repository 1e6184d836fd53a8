package orderbook

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one execution between a resting maker and an incoming taker.
type Trade struct {
	ID           uint64          `json:"id"`
	Symbol       string          `json:"symbol"`
	Price        decimal.Decimal `json:"price"`
	Qty          decimal.Decimal `json:"qty"`
	TakerSide    Side            `json:"taker_side"`
	MakerOrderID string          `json:"maker_order_id"`
	TakerOrderID string          `json:"taker_order_id"`
	MakerUserID  string          `json:"maker_user_id"`
	TakerUserID  string          `json:"taker_user_id"`
	Timestamp    time.Time       `json:"timestamp"`
}

func (t Trade) BuyOrderID() string {
	if t.TakerSide == BUY {
		return t.TakerOrderID
	}
	return t.MakerOrderID
}

func (t Trade) SellOrderID() string {
	if t.TakerSide == SELL {
		return t.TakerOrderID
	}
	return t.MakerOrderID
}

func (t Trade) BuyerUserID() string {
	if t.TakerSide == BUY {
		return t.TakerUserID
	}
	return t.MakerUserID
}

func (t Trade) SellerUserID() string {
	if t.TakerSide == SELL {
		return t.TakerUserID
	}
	return t.MakerUserID
}

// Notional is price * qty.
func (t Trade) Notional() decimal.Decimal {
	return t.Price.Mul(t.Qty)
}

type SubmitResult struct {
	// Order is the taker after matching.
	Order  Order
	Trades []Trade
	// Remainder is the resting copy of the order, nil when nothing rested.
	Remainder *Order
}

// FilledQty sums the executed quantity over all trades.
func (r *SubmitResult) FilledQty() decimal.Decimal {
	total := decimal.Zero
	for _, t := range r.Trades {
		total = total.Add(t.Qty)
	}
	return total
}

type UpdateKind string

const (
	UpdateSubmit UpdateKind = "SUBMIT"
	UpdateCancel UpdateKind = "CANCEL"
	UpdateModify UpdateKind = "MODIFY"
	// UpdateSnapshot marks the state handed to a listener at registration.
	UpdateSnapshot UpdateKind = "SNAPSHOT"
)

// BookUpdate describes the book right after one write.
type BookUpdate struct {
	Kind      UpdateKind
	Symbol    string
	Order     Order
	Trades    []Trade
	BestBid   decimal.NullDecimal
	BestAsk   decimal.NullDecimal
	Depth     Depth
	Sequence  uint64
	Timestamp time.Time
}
