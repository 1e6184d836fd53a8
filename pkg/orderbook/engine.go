package orderbook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joripage/matchcore/pkg/logging"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultListenerDepth = 20

type EngineOption func(*MatchingEngine)

func WithClock(now func() time.Time) EngineOption {
	return func(e *MatchingEngine) {
		e.now = now
	}
}

func WithLogger(l *logging.Logger) EngineOption {
	return func(e *MatchingEngine) {
		e.logger = l
	}
}

// WithListenerDepth sets how many levels per side BookUpdate.Depth carries.
func WithListenerDepth(n int) EngineOption {
	return func(e *MatchingEngine) {
		e.depth = n
	}
}

func WithSequenceStart(order, trade uint64) EngineOption {
	return func(e *MatchingEngine) {
		e.orderSeq = NewSequencer(order)
		e.tradeSeq = NewSequencer(trade)
	}
}

// MatchingEngine is the single writer of one instrument's OrderBook.
// Submit, Cancel and Modify hold the write lock for the whole state
// transition; readers take the read lock and never see a half-applied match.
type MatchingEngine struct {
	mu        sync.RWMutex
	symbol    string
	book      *OrderBook
	orderSeq  *Sequencer
	tradeSeq  *Sequencer
	writes    uint64
	now       func() time.Time
	logger    *logging.Logger
	listeners []func(BookUpdate)
	depth     int
	halted    error
}

func NewMatchingEngine(symbol string, opts ...EngineOption) *MatchingEngine {
	e := &MatchingEngine{
		symbol:   symbol,
		book:     NewOrderBook(symbol),
		orderSeq: NewSequencer(0),
		tradeSeq: NewSequencer(0),
		now:      time.Now,
		logger:   logging.NewNopLogger(),
		depth:    defaultListenerDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("symbol", symbol))
	return e
}

func (e *MatchingEngine) Symbol() string {
	return e.symbol
}

// RegisterListener adds fn to the post-write callbacks and returns the
// current state so the caller can seed itself without missing an update.
// fn runs under the write lock: it must not call back into the engine.
func (e *MatchingEngine) RegisterListener(fn func(BookUpdate)) BookUpdate {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.listeners = append(e.listeners, fn)
	return e.buildUpdate(UpdateSnapshot, Order{}, nil)
}

func (e *MatchingEngine) Submit(ctx context.Context, order Order) (*SubmitResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.halted != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineHalted, e.halted)
	}

	o := &order
	if err := e.prepare(o); err != nil {
		e.logger.Debug(ctx, "order rejected", zap.String("order_id", o.ID), zap.Error(err))
		return nil, err
	}

	trades := e.match(o)
	res := &SubmitResult{Trades: trades}
	if o.Remaining().IsPositive() {
		switch o.Type {
		case LIMIT:
			if err := e.book.insert(o); err != nil {
				return nil, e.halt(ctx, err)
			}
			rem := *o
			res.Remainder = &rem
		case MARKET:
			// the remainder is discarded; a partial fill stays PARTIAL
			if o.FilledQty.IsZero() {
				o.Status = CANCELLED
			}
		}
	}
	res.Order = *o

	if err := e.verify(o, decimal.Zero, trades); err != nil {
		return nil, e.halt(ctx, err)
	}

	e.logger.Debug(ctx, "order submitted",
		zap.String("order_id", o.ID),
		zap.String("side", string(o.Side)),
		zap.String("type", string(o.Type)),
		zap.Stringer("price", o.Price),
		zap.Stringer("qty", o.Qty),
		zap.Stringer("filled", o.FilledQty),
		zap.Int("trades", len(trades)),
		zap.Bool("resting", res.Remainder != nil),
	)

	e.notify(UpdateSubmit, res.Order, trades)
	return res, nil
}

// Cancel removes a resting order. Unknown, filled and already cancelled ids
// all report ErrOrderNotFound and leave the book untouched.
func (e *MatchingEngine) Cancel(ctx context.Context, orderID string) (Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.halted != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrEngineHalted, e.halted)
	}

	o := e.book.remove(orderID)
	if o == nil {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	o.Status = CANCELLED

	e.logger.Debug(ctx, "order cancelled",
		zap.String("order_id", o.ID),
		zap.Stringer("remaining", o.Remaining()),
	)

	e.notify(UpdateCancel, *o, nil)
	return *o, nil
}

// Modify amends a resting order. Reducing quantity at the same price keeps
// the order's place in the queue; any other change re-enters it with a new
// sequence and may trade immediately.
func (e *MatchingEngine) Modify(ctx context.Context, orderID string, newPrice, newQty decimal.Decimal) (*SubmitResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.halted != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineHalted, e.halted)
	}

	idx, ok := e.book.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	cur := idx.entry.order
	if !newPrice.IsPositive() {
		return nil, fmt.Errorf("%w: limit price must be positive, got %s", ErrInvalidOrder, newPrice)
	}
	if !newQty.GreaterThan(cur.FilledQty) {
		return nil, fmt.Errorf("%w: new quantity %s must exceed filled %s", ErrInvalidOrder, newQty, cur.FilledQty)
	}

	if newPrice.Equal(cur.Price) && newQty.LessThanOrEqual(cur.Qty) {
		idx.level.reduce(cur.Qty.Sub(newQty))
		cur.Qty = newQty
		if err := e.verify(cur, cur.FilledQty, nil); err != nil {
			return nil, e.halt(ctx, err)
		}
		rem := *cur
		res := &SubmitResult{Order: *cur, Remainder: &rem}
		e.logger.Debug(ctx, "order reduced in place", zap.String("order_id", orderID), zap.Stringer("qty", newQty))
		e.notify(UpdateModify, res.Order, nil)
		return res, nil
	}

	o := e.book.remove(orderID)
	filledBefore := o.FilledQty
	o.Price = newPrice
	o.Qty = newQty
	o.Sequence = e.orderSeq.Next()
	o.Timestamp = e.now()

	trades := e.match(o)
	res := &SubmitResult{Trades: trades}
	if o.Remaining().IsPositive() {
		if err := e.book.insert(o); err != nil {
			return nil, e.halt(ctx, err)
		}
		rem := *o
		res.Remainder = &rem
	}
	res.Order = *o

	if err := e.verify(o, filledBefore, trades); err != nil {
		return nil, e.halt(ctx, err)
	}

	e.logger.Debug(ctx, "order replaced",
		zap.String("order_id", orderID),
		zap.Stringer("price", newPrice),
		zap.Stringer("qty", newQty),
		zap.Int("trades", len(trades)),
	)

	e.notify(UpdateModify, res.Order, trades)
	return res, nil
}

func (e *MatchingEngine) prepare(o *Order) error {
	if o.Symbol == "" {
		o.Symbol = e.symbol
	} else if o.Symbol != e.symbol {
		return fmt.Errorf("%w: symbol %s does not match book %s", ErrInvalidOrder, o.Symbol, e.symbol)
	}
	if err := validateOrder(o); err != nil {
		return err
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if e.book.Contains(o.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateOrderID, o.ID)
	}

	o.Sequence = e.orderSeq.Next()
	if o.Timestamp.IsZero() {
		o.Timestamp = e.now()
	}
	o.Status = OPEN
	return nil
}

// match walks the opposite side best level first, FIFO within a level, until
// the taker is filled or the best opposite price is no longer marketable.
func (e *MatchingEngine) match(o *Order) []Trade {
	var trades []Trade
	opposite := e.book.side(o.Side.Opposite())

	for o.Remaining().IsPositive() {
		level := opposite.best
		if level == nil || !o.crosses(level.price) {
			break
		}

		entry := level.front()
		if entry == nil {
			opposite.drop(level)
			continue
		}
		maker := entry.order

		qty := decimal.Min(o.Remaining(), maker.Remaining())
		o.fill(qty)
		maker.fill(qty)
		level.reduce(qty)

		trades = append(trades, Trade{
			ID:           e.tradeSeq.Next(),
			Symbol:       e.symbol,
			Price:        level.price,
			Qty:          qty,
			TakerSide:    o.Side,
			MakerOrderID: maker.ID,
			TakerOrderID: o.ID,
			MakerUserID:  maker.UserID,
			TakerUserID:  o.UserID,
			Timestamp:    e.now(),
		})

		if maker.IsFilled() {
			e.book.remove(maker.ID)
		}
	}

	return trades
}

// verify checks the post-conditions of one write.
func (e *MatchingEngine) verify(taker *Order, filledBefore decimal.Decimal, trades []Trade) error {
	if e.book.Crossed() {
		bid, _ := e.book.BestBid()
		ask, _ := e.book.BestAsk()
		return fmt.Errorf("%w: crossed book bid=%s ask=%s", ErrInvariantViolation, bid, ask)
	}
	if taker.Remaining().IsNegative() {
		return fmt.Errorf("%w: order %s overfilled by %s", ErrInvariantViolation, taker.ID, taker.Remaining().Neg())
	}
	executed := decimal.Zero
	for _, t := range trades {
		if !t.Qty.IsPositive() {
			return fmt.Errorf("%w: trade %d has quantity %s", ErrInvariantViolation, t.ID, t.Qty)
		}
		executed = executed.Add(t.Qty)
	}
	if !executed.Equal(taker.FilledQty.Sub(filledBefore)) {
		return fmt.Errorf("%w: order %s filled %s but trades carry %s",
			ErrInvariantViolation, taker.ID, taker.FilledQty.Sub(filledBefore), executed)
	}
	return nil
}

func (e *MatchingEngine) halt(ctx context.Context, err error) error {
	e.halted = err
	e.logger.Error(ctx, "matching engine halted", zap.Error(err))
	return err
}

// Halted returns the invariant violation that stopped the engine, if any.
func (e *MatchingEngine) Halted() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.halted
}

func (e *MatchingEngine) notify(kind UpdateKind, o Order, trades []Trade) {
	e.writes++
	if len(e.listeners) == 0 {
		return
	}
	u := e.buildUpdate(kind, o, trades)
	for _, fn := range e.listeners {
		fn(u)
	}
}

func (e *MatchingEngine) buildUpdate(kind UpdateKind, o Order, trades []Trade) BookUpdate {
	u := BookUpdate{
		Kind:      kind,
		Symbol:    e.symbol,
		Order:     o,
		Trades:    append([]Trade(nil), trades...),
		Depth:     e.book.Depth(e.depth),
		Sequence:  e.writes,
		Timestamp: e.now(),
	}
	if p, ok := e.book.BestBid(); ok {
		u.BestBid = decimal.NullDecimal{Decimal: p, Valid: true}
	}
	if p, ok := e.book.BestAsk(); ok {
		u.BestAsk = decimal.NullDecimal{Decimal: p, Valid: true}
	}
	return u
}

func (e *MatchingEngine) BestBid() (decimal.Decimal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.BestBid()
}

func (e *MatchingEngine) BestAsk() (decimal.Decimal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.BestAsk()
}

// Spread is bestAsk - bestBid when both sides are present.
func (e *MatchingEngine) Spread() (decimal.Decimal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	bid, okBid := e.book.BestBid()
	ask, okAsk := e.book.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return ask.Sub(bid), true
}

func (e *MatchingEngine) Depth(levels int) Depth {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.Depth(levels)
}

// Order looks up a resting order.
func (e *MatchingEngine) Order(orderID string) (Order, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.Get(orderID)
}

func (e *MatchingEngine) LevelOrders(side Side, price decimal.Decimal) []Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.LevelOrders(side, price)
}

// RestingOrders is the number of orders on the book.
func (e *MatchingEngine) RestingOrders() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.Len()
}
