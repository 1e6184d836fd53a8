package orderbook

import (
	"fmt"

	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

const priceLevelDegree = 32

// bookSide keeps price levels ordered best-first: bids descending, asks
// ascending. best caches the first level so top-of-book reads skip the tree.
type bookSide struct {
	side   Side
	levels *btree.BTreeG[*PriceLevel]
	best   *PriceLevel
}

func newBookSide(side Side) *bookSide {
	less := func(a, b *PriceLevel) bool { return a.price.LessThan(b.price) }
	if side == BUY {
		less = func(a, b *PriceLevel) bool { return a.price.GreaterThan(b.price) }
	}
	return &bookSide{
		side:   side,
		levels: btree.NewG(priceLevelDegree, less),
	}
}

func (s *bookSide) get(price decimal.Decimal) (*PriceLevel, bool) {
	return s.levels.Get(&PriceLevel{price: price})
}

func (s *bookSide) getOrCreate(price decimal.Decimal) *PriceLevel {
	if pl, ok := s.get(price); ok {
		return pl
	}
	pl := newPriceLevel(s.side, price)
	s.levels.ReplaceOrInsert(pl)
	if s.best == nil || s.better(price, s.best.price) {
		s.best = pl
	}
	return pl
}

func (s *bookSide) drop(pl *PriceLevel) {
	s.levels.Delete(pl)
	if s.best == pl {
		s.best, _ = s.levels.Min()
	}
}

func (s *bookSide) better(a, b decimal.Decimal) bool {
	if s.side == BUY {
		return a.GreaterThan(b)
	}
	return a.LessThan(b)
}

// walk visits levels best-first until fn returns false.
func (s *bookSide) walk(fn func(*PriceLevel) bool) {
	s.levels.Ascend(fn)
}

type indexEntry struct {
	level *PriceLevel
	entry *levelEntry
}

// OrderBook owns every resting order of one instrument. It is not safe for
// concurrent use; MatchingEngine serializes access.
type OrderBook struct {
	symbol string
	bids   *bookSide
	asks   *bookSide
	orders map[string]*indexEntry
}

func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		symbol: symbol,
		bids:   newBookSide(BUY),
		asks:   newBookSide(SELL),
		orders: make(map[string]*indexEntry),
	}
}

func (ob *OrderBook) Symbol() string {
	return ob.symbol
}

func (ob *OrderBook) side(s Side) *bookSide {
	if s == BUY {
		return ob.bids
	}
	return ob.asks
}

func (ob *OrderBook) BestBid() (decimal.Decimal, bool) {
	return bestPrice(ob.bids)
}

func (ob *OrderBook) BestAsk() (decimal.Decimal, bool) {
	return bestPrice(ob.asks)
}

func bestPrice(s *bookSide) (decimal.Decimal, bool) {
	if s.best == nil {
		return decimal.Zero, false
	}
	return s.best.price, true
}

// Insert rests a LIMIT order at the back of its price level. The book takes
// ownership of a private copy.
func (ob *OrderBook) Insert(order Order) error {
	if order.Type != LIMIT || !order.Price.IsPositive() || !order.Side.Valid() {
		return fmt.Errorf("%w: only limit orders with a positive price can rest", ErrInvalidOrder)
	}
	if !order.Remaining().IsPositive() {
		return fmt.Errorf("%w: nothing left to rest for %s", ErrInvalidOrder, order.ID)
	}
	o := order
	return ob.insert(&o)
}

func (ob *OrderBook) insert(o *Order) error {
	if _, ok := ob.orders[o.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateOrderID, o.ID)
	}
	level := ob.side(o.Side).getOrCreate(o.Price)
	ob.orders[o.ID] = &indexEntry{level: level, entry: level.append(o)}
	return nil
}

// Remove takes an order off the book and returns its final state.
func (ob *OrderBook) Remove(orderID string) (Order, bool) {
	o := ob.remove(orderID)
	if o == nil {
		return Order{}, false
	}
	return *o, true
}

func (ob *OrderBook) remove(orderID string) *Order {
	idx, ok := ob.orders[orderID]
	if !ok {
		return nil
	}
	delete(ob.orders, orderID)
	idx.level.remove(idx.entry)
	if idx.level.IsEmpty() {
		ob.side(idx.level.side).drop(idx.level)
	}
	return idx.entry.order
}

func (ob *OrderBook) Get(orderID string) (Order, bool) {
	idx, ok := ob.orders[orderID]
	if !ok {
		return Order{}, false
	}
	return *idx.entry.order, true
}

func (ob *OrderBook) Contains(orderID string) bool {
	_, ok := ob.orders[orderID]
	return ok
}

// Len is the number of resting orders on both sides.
func (ob *OrderBook) Len() int {
	return len(ob.orders)
}

func (ob *OrderBook) BidLevels() int {
	return ob.bids.levels.Len()
}

func (ob *OrderBook) AskLevels() int {
	return ob.asks.levels.Len()
}

// Crossed reports bestBid >= bestAsk.
func (ob *OrderBook) Crossed() bool {
	bid, okBid := ob.BestBid()
	ask, okAsk := ob.BestAsk()
	return okBid && okAsk && bid.GreaterThanOrEqual(ask)
}

// Level is one aggregated row of a depth snapshot.
type Level struct {
	Price  decimal.Decimal `json:"price"`
	Qty    decimal.Decimal `json:"qty"`
	Orders int             `json:"orders"`
}

type Depth struct {
	Bids []Level `json:"bids"`
	Asks []Level `json:"asks"`
}

// Depth returns the top n levels per side; n <= 0 means every level.
func (ob *OrderBook) Depth(n int) Depth {
	return Depth{
		Bids: collectLevels(ob.bids, n),
		Asks: collectLevels(ob.asks, n),
	}
}

func collectLevels(s *bookSide, n int) []Level {
	out := make([]Level, 0)
	s.walk(func(pl *PriceLevel) bool {
		out = append(out, Level{Price: pl.price, Qty: pl.totalQty, Orders: pl.live})
		return n <= 0 || len(out) < n
	})
	return out
}

// LevelOrders returns the resting orders at one price in time priority.
func (ob *OrderBook) LevelOrders(side Side, price decimal.Decimal) []Order {
	pl, ok := ob.side(side).get(price)
	if !ok {
		return nil
	}
	return pl.Orders()
}
