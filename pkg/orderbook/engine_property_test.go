package orderbook

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

func restingQty(d Depth) decimal.Decimal {
	total := decimal.Zero
	for _, l := range d.Bids {
		total = total.Add(l.Qty)
	}
	for _, l := range d.Asks {
		total = total.Add(l.Qty)
	}
	return total
}

func TestEngineInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := newTestEngine()
		ctx := context.Background()
		var ids []string

		steps := rapid.IntRange(1, 200).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			before := restingQty(e.Depth(0))
			var rested, executed decimal.Decimal

			switch op := rapid.IntRange(0, 9).Draw(t, "op"); {
			case op < 7:
				id := fmt.Sprintf("o-%d", i)
				side := rapid.SampledFrom([]Side{BUY, SELL}).Draw(t, "side")
				qty := decimal.NewFromInt(rapid.Int64Range(1, 10).Draw(t, "qty"))
				o := Order{ID: id, Side: side, Type: LIMIT, Qty: qty}
				if op == 6 {
					o.Type = MARKET
				} else {
					o.Price = decimal.NewFromInt(rapid.Int64Range(95, 105).Draw(t, "price"))
				}

				res, err := e.Submit(ctx, o)
				if err != nil {
					t.Fatalf("submit %s: %v", id, err)
				}
				executed = res.FilledQty()
				if !executed.Equal(res.Order.FilledQty) {
					t.Fatalf("trades carry %s but order filled %s", executed, res.Order.FilledQty)
				}
				for _, tr := range res.Trades {
					if !o.crosses(tr.Price) {
						t.Fatalf("trade at %s violates limit %s", tr.Price, o.Price)
					}
				}
				if res.Remainder != nil {
					rested = res.Remainder.Remaining()
					ids = append(ids, id)
				}
				if o.Type == MARKET && res.Remainder != nil {
					t.Fatalf("market order rested")
				}

			default:
				if len(ids) == 0 {
					continue
				}
				id := rapid.SampledFrom(ids).Draw(t, "cancel")
				o, err := e.Cancel(ctx, id)
				if err == nil {
					rested = o.Remaining().Neg()
				}
			}

			after := restingQty(e.Depth(0))
			// makers lose exactly what the taker gained
			want := before.Sub(executed).Add(rested)
			if !after.Equal(want) {
				t.Fatalf("resting quantity %s, expected %s", after, want)
			}

			bid, okBid := e.BestBid()
			ask, okAsk := e.BestAsk()
			if okBid && okAsk && bid.GreaterThanOrEqual(ask) {
				t.Fatalf("crossed book bid=%s ask=%s", bid, ask)
			}
			if e.Halted() != nil {
				t.Fatalf("engine halted: %v", e.Halted())
			}
		}
	})
}
