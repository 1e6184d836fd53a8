package orderbook

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

func (s Side) Valid() bool {
	return s == BUY || s == SELL
}

func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

type OrderType string

const (
	LIMIT  OrderType = "LIMIT"
	MARKET OrderType = "MARKET"
)

func (t OrderType) Valid() bool {
	return t == LIMIT || t == MARKET
}

type OrderStatus string

const (
	OPEN      OrderStatus = "OPEN"
	PARTIAL   OrderStatus = "PARTIAL"
	FILLED    OrderStatus = "FILLED"
	CANCELLED OrderStatus = "CANCELLED"
)

// Order is passed by value across the package boundary. The book keeps its
// own *Order for every resting order and never hands that pointer out.
type Order struct {
	ID        string
	UserID    string
	Symbol    string
	Side      Side
	Type      OrderType
	Price     decimal.Decimal // zero for MARKET
	Qty       decimal.Decimal
	FilledQty decimal.Decimal
	Status    OrderStatus
	Sequence  uint64
	Timestamp time.Time
}

func (o *Order) Remaining() decimal.Decimal {
	return o.Qty.Sub(o.FilledQty)
}

func (o *Order) IsFilled() bool {
	return o.FilledQty.Equal(o.Qty)
}

// fill applies an execution and moves the status along OPEN -> PARTIAL -> FILLED.
func (o *Order) fill(qty decimal.Decimal) {
	o.FilledQty = o.FilledQty.Add(qty)
	if o.IsFilled() {
		o.Status = FILLED
		return
	}
	o.Status = PARTIAL
}

// crosses reports whether a resting price on the opposite side is marketable
// against o.
func (o *Order) crosses(restingPrice decimal.Decimal) bool {
	if o.Type == MARKET {
		return true
	}
	if o.Side == BUY {
		return restingPrice.LessThanOrEqual(o.Price)
	}
	return restingPrice.GreaterThanOrEqual(o.Price)
}

func (o Order) String() string {
	return fmt.Sprintf("Order{ID:%s %s %s %s@%s filled:%s status:%s seq:%d}",
		o.ID, o.Side, o.Type, o.Qty, o.Price, o.FilledQty, o.Status, o.Sequence)
}

func validateOrder(o *Order) error {
	if !o.Side.Valid() {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, o.Side)
	}
	if !o.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidOrder, o.Type)
	}
	if !o.Qty.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive, got %s", ErrInvalidOrder, o.Qty)
	}
	if !o.FilledQty.IsZero() {
		return fmt.Errorf("%w: new order already carries filled quantity %s", ErrInvalidOrder, o.FilledQty)
	}
	switch o.Type {
	case LIMIT:
		if !o.Price.IsPositive() {
			return fmt.Errorf("%w: limit price must be positive, got %s", ErrInvalidOrder, o.Price)
		}
	case MARKET:
		if !o.Price.IsZero() {
			return fmt.Errorf("%w: market order carries price %s", ErrInvalidOrder, o.Price)
		}
	}
	return nil
}
