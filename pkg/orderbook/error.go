package orderbook

import "errors"

var (
	ErrInvalidOrder       = errors.New("invalid order")
	ErrDuplicateOrderID   = errors.New("duplicate order id")
	ErrOrderNotFound      = errors.New("order not found")
	ErrInvariantViolation = errors.New("order book invariant violated")
	ErrEngineHalted       = errors.New("matching engine halted")
)
