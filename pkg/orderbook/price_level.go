package orderbook

import (
	"github.com/gammazero/deque"
	"github.com/shopspring/decimal"
)

// compaction kicks in once a level holds at least this many entries and most
// of them are cancelled.
const levelCompactThreshold = 32

type levelEntry struct {
	order   *Order
	removed bool
}

// PriceLevel is the FIFO queue of resting orders at one (side, price).
// Cancelled orders are tombstoned in place and dropped once they reach the
// front, so cancel never scans the queue.
type PriceLevel struct {
	side     Side
	price    decimal.Decimal
	queue    deque.Deque[*levelEntry]
	totalQty decimal.Decimal
	live     int
}

func newPriceLevel(side Side, price decimal.Decimal) *PriceLevel {
	return &PriceLevel{side: side, price: price}
}

func (pl *PriceLevel) Side() Side {
	return pl.side
}

func (pl *PriceLevel) Price() decimal.Decimal {
	return pl.price
}

// TotalQty is the sum of remaining quantity over live orders.
func (pl *PriceLevel) TotalQty() decimal.Decimal {
	return pl.totalQty
}

// Len is the number of live orders.
func (pl *PriceLevel) Len() int {
	return pl.live
}

func (pl *PriceLevel) IsEmpty() bool {
	return pl.live == 0
}

func (pl *PriceLevel) append(o *Order) *levelEntry {
	e := &levelEntry{order: o}
	pl.queue.PushBack(e)
	pl.totalQty = pl.totalQty.Add(o.Remaining())
	pl.live++
	return e
}

// front returns the oldest live order.
func (pl *PriceLevel) front() *levelEntry {
	pl.prune()
	if pl.queue.Len() == 0 {
		return nil
	}
	return pl.queue.Front()
}

// reduce accounts for a partial execution of a resting order.
func (pl *PriceLevel) reduce(qty decimal.Decimal) {
	pl.totalQty = pl.totalQty.Sub(qty)
}

func (pl *PriceLevel) remove(e *levelEntry) {
	if e.removed {
		return
	}
	e.removed = true
	pl.totalQty = pl.totalQty.Sub(e.order.Remaining())
	pl.live--
	pl.prune()
	pl.compact()
}

func (pl *PriceLevel) prune() {
	for pl.queue.Len() > 0 && pl.queue.Front().removed {
		pl.queue.PopFront()
	}
}

func (pl *PriceLevel) compact() {
	n := pl.queue.Len()
	if n < levelCompactThreshold || pl.live*2 > n {
		return
	}
	kept := make([]*levelEntry, 0, pl.live)
	for i := 0; i < n; i++ {
		if e := pl.queue.At(i); !e.removed {
			kept = append(kept, e)
		}
	}
	pl.queue.Clear()
	for _, e := range kept {
		pl.queue.PushBack(e)
	}
}

// Orders returns copies of the live orders in time priority.
func (pl *PriceLevel) Orders() []Order {
	out := make([]Order, 0, pl.live)
	for i := 0; i < pl.queue.Len(); i++ {
		if e := pl.queue.At(i); !e.removed {
			out = append(out, *e.order)
		}
	}
	return out
}
