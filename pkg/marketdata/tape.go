package marketdata

import (
	"github.com/gammazero/deque"
	"github.com/joripage/matchcore/pkg/orderbook"
)

// TradeTape keeps the most recent trades up to a fixed capacity.
// Not safe for concurrent use.
type TradeTape struct {
	size   int
	trades deque.Deque[orderbook.Trade]
}

func NewTradeTape(size int) *TradeTape {
	if size <= 0 {
		size = 1
	}
	return &TradeTape{size: size}
}

func (t *TradeTape) Add(trades ...orderbook.Trade) {
	for _, tr := range trades {
		if t.trades.Len() == t.size {
			t.trades.PopFront()
		}
		t.trades.PushBack(tr)
	}
}

func (t *TradeTape) Len() int {
	return t.trades.Len()
}

// Last returns up to n trades, oldest first. n <= 0 returns everything.
func (t *TradeTape) Last(n int) []orderbook.Trade {
	l := t.trades.Len()
	if n <= 0 || n > l {
		n = l
	}
	out := make([]orderbook.Trade, 0, n)
	for i := l - n; i < l; i++ {
		out = append(out, t.trades.At(i))
	}
	return out
}

// LastTrade returns the newest trade on the tape.
func (t *TradeTape) LastTrade() (orderbook.Trade, bool) {
	if t.trades.Len() == 0 {
		return orderbook.Trade{}, false
	}
	return t.trades.Back(), true
}
