package orderbook

import (
	"context"
	"errors"
	"testing"
)

func TestCancelOrder(t *testing.T) {
	e := newTestEngine()
	mustSubmit(t, e, limit("1", BUY, "100", "10"))

	o, err := e.Cancel(context.Background(), "1")
	if err != nil {
		t.Fatalf("expected cancel success, got %v", err)
	}
	if o.Status != CANCELLED {
		t.Fatalf("expected CANCELLED, got %s", o.Status)
	}
	if _, ok := e.Order("1"); ok {
		t.Fatalf("order should be removed from the book")
	}
	if _, ok := e.BestBid(); ok {
		t.Fatalf("empty level should be removed")
	}
}

func TestCancelUnknownLeavesBookUnchanged(t *testing.T) {
	e := newTestEngine()
	mustSubmit(t, e, limit("1", BUY, "100", "10"))
	mustSubmit(t, e, limit("2", SELL, "101", "3"))
	before := e.Depth(0)

	_, err := e.Cancel(context.Background(), "nope")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	assertDepthEqual(t, before, e.Depth(0))
}

func TestCancelFilledOrder(t *testing.T) {
	e := newTestEngine()
	mustSubmit(t, e, limit("S1", SELL, "100", "1"))
	mustSubmit(t, e, limit("B1", BUY, "100", "1"))

	if _, err := e.Cancel(context.Background(), "S1"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("filled order cannot be cancelled, got %v", err)
	}
	if _, err := e.Cancel(context.Background(), "B1"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("filled taker cannot be cancelled, got %v", err)
	}
}

func TestCancelPartiallyFilled(t *testing.T) {
	e := newTestEngine()
	mustSubmit(t, e, limit("S1", SELL, "100", "5"))
	mustSubmit(t, e, limit("B1", BUY, "100", "2"))

	o, err := e.Cancel(context.Background(), "S1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !o.FilledQty.Equal(dec("2")) || !o.Remaining().Equal(dec("3")) {
		t.Fatalf("cancel should report the partial fill, got %+v", o)
	}
	if _, err := e.Cancel(context.Background(), "S1"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("second cancel must fail, got %v", err)
	}
}

func TestCancelMiddleOfQueue(t *testing.T) {
	e := newTestEngine()
	mustSubmit(t, e, limit("A", SELL, "100", "1"))
	mustSubmit(t, e, limit("B", SELL, "100", "1"))
	mustSubmit(t, e, limit("C", SELL, "100", "1"))

	if _, err := e.Cancel(context.Background(), "B"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	res := mustSubmit(t, e, limit("T", BUY, "100", "2"))
	if len(res.Trades) != 2 || res.Trades[0].MakerOrderID != "A" || res.Trades[1].MakerOrderID != "C" {
		t.Fatalf("cancelled order must be skipped, got %+v", res.Trades)
	}
}

func TestModifyOrder_DecreaseQty(t *testing.T) {
	e := newTestEngine()
	mustSubmit(t, e, limit("1", BUY, "100", "10"))
	mustSubmit(t, e, limit("2", BUY, "100", "10"))

	res, err := e.Modify(context.Background(), "1", dec("100"), dec("5"))
	if err != nil {
		t.Fatalf("expected modify success, got %v", err)
	}
	if !res.Order.Qty.Equal(dec("5")) || !res.Order.Price.Equal(dec("100")) {
		t.Fatalf("expected 5@100, got %+v", res.Order)
	}

	// priority kept
	orders := e.LevelOrders(BUY, dec("100"))
	if orders[0].ID != "1" {
		t.Fatalf("reduce in place must keep queue position, got %+v", orders)
	}
	depth := e.Depth(1)
	if !depth.Bids[0].Qty.Equal(dec("15")) {
		t.Fatalf("level total should be 15, got %s", depth.Bids[0].Qty)
	}
}

func TestModifyOrder_IncreaseQty(t *testing.T) {
	e := newTestEngine()
	mustSubmit(t, e, limit("1", BUY, "100", "10"))
	mustSubmit(t, e, limit("2", BUY, "100", "10"))

	res, err := e.Modify(context.Background(), "1", dec("100"), dec("20"))
	if err != nil {
		t.Fatalf("expected modify success, got %v", err)
	}
	if !res.Order.Qty.Equal(dec("20")) {
		t.Fatalf("expected Qty=20, got %s", res.Order.Qty)
	}

	// priority lost
	orders := e.LevelOrders(BUY, dec("100"))
	if len(orders) != 2 || orders[0].ID != "2" || orders[1].ID != "1" {
		t.Fatalf("increase must move the order to the back, got %+v", orders)
	}
}

func TestModifyOrder_ChangePrice(t *testing.T) {
	e := newTestEngine()
	mustSubmit(t, e, limit("1", BUY, "100", "10"))

	res, err := e.Modify(context.Background(), "1", dec("105"), dec("10"))
	if err != nil {
		t.Fatalf("expected modify success, got %v", err)
	}
	if !res.Order.Price.Equal(dec("105")) {
		t.Fatalf("expected Price=105, got %s", res.Order.Price)
	}
	bid, _ := e.BestBid()
	if !bid.Equal(dec("105")) {
		t.Fatalf("best bid should move to 105, got %s", bid)
	}
	if len(e.LevelOrders(BUY, dec("100"))) != 0 {
		t.Fatalf("old level should be empty")
	}
}

func TestModifyOrder_CrossesAndTrades(t *testing.T) {
	e := newTestEngine()
	mustSubmit(t, e, limit("S1", SELL, "101", "4"))
	mustSubmit(t, e, limit("B1", BUY, "100", "10"))

	res, err := e.Modify(context.Background(), "B1", dec("101"), dec("10"))
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	if len(res.Trades) != 1 || !res.Trades[0].Price.Equal(dec("101")) || !res.Trades[0].Qty.Equal(dec("4")) {
		t.Fatalf("expected a trade of 4@101, got %+v", res.Trades)
	}
	if res.Remainder == nil || !res.Remainder.Remaining().Equal(dec("6")) {
		t.Fatalf("expected 6 to rest, got %+v", res.Remainder)
	}
	if _, ok := e.BestAsk(); ok {
		t.Fatalf("ask should be consumed")
	}
}

func TestModifyOrder_Invalid(t *testing.T) {
	e := newTestEngine()
	mustSubmit(t, e, limit("S1", SELL, "100", "5"))
	mustSubmit(t, e, limit("B1", BUY, "100", "2"))
	before := e.Depth(0)

	if _, err := e.Modify(context.Background(), "missing", dec("100"), dec("1")); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if _, err := e.Modify(context.Background(), "S1", dec("0"), dec("5")); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder for zero price, got %v", err)
	}
	// S1 already has 2 filled
	if _, err := e.Modify(context.Background(), "S1", dec("100"), dec("2")); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder for qty <= filled, got %v", err)
	}
	assertDepthEqual(t, before, e.Depth(0))
}

func TestHaltedEngineRejectsWrites(t *testing.T) {
	e := newTestEngine()
	mustSubmit(t, e, limit("1", BUY, "100", "1"))

	// simulate a detected violation
	e.mu.Lock()
	_ = e.halt(context.Background(), ErrInvariantViolation)
	e.mu.Unlock()

	if _, err := e.Submit(context.Background(), limit("2", BUY, "99", "1")); !errors.Is(err, ErrEngineHalted) {
		t.Fatalf("expected ErrEngineHalted, got %v", err)
	}
	if _, err := e.Cancel(context.Background(), "1"); !errors.Is(err, ErrEngineHalted) {
		t.Fatalf("expected ErrEngineHalted, got %v", err)
	}
	if _, err := e.Modify(context.Background(), "1", dec("100"), dec("1")); !errors.Is(err, ErrEngineHalted) {
		t.Fatalf("expected ErrEngineHalted, got %v", err)
	}
	// reads keep working
	if bid, ok := e.BestBid(); !ok || !bid.Equal(dec("100")) {
		t.Fatalf("reads should still serve the last state")
	}
}

func TestModifyOrder_ReduceInPlaceChecksBook(t *testing.T) {
	e := newTestEngine()
	mustSubmit(t, e, limit("1", BUY, "100", "10"))

	// plant a crossing ask behind the engine's back
	e.mu.Lock()
	if err := e.book.Insert(restingLimit("X", SELL, "90", "1", 99)); err != nil {
		e.mu.Unlock()
		t.Fatalf("insert: %v", err)
	}
	e.mu.Unlock()

	if _, err := e.Modify(context.Background(), "1", dec("100"), dec("5")); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
	if err := e.Halted(); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("engine should halt, got %v", err)
	}
}
