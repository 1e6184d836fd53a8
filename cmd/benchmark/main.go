package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/joripage/matchcore/pkg/orderbook"
	"github.com/shopspring/decimal"
)

const (
	minPrice = 100_00 // cents
	maxPrice = 200_00
	minQty   = 1
	maxQty   = 100
)

func randomOrder(rng *rand.Rand, id int) orderbook.Order {
	side := orderbook.BUY
	if rng.Intn(2) == 0 {
		side = orderbook.SELL
	}
	typ := orderbook.LIMIT
	if rng.Intn(20) == 0 {
		typ = orderbook.MARKET
	}
	o := orderbook.Order{
		ID:   fmt.Sprintf("ORD-%07d", id),
		Side: side,
		Type: typ,
		Qty:  decimal.NewFromInt(int64(rng.Intn(maxQty-minQty+1) + minQty)),
	}
	if typ == orderbook.LIMIT {
		o.Price = decimal.New(int64(minPrice+rng.Intn(maxPrice-minPrice+1)), -2)
	}
	return o
}

func main() {
	var numOrders int
	var seed int64
	flag.IntVar(&numOrders, "orders", 1_000_000, "Number of orders to submit")
	flag.Int64Var(&seed, "seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	rng := rand.New(rand.NewSource(seed))
	engine := orderbook.NewMatchingEngine("ABC")

	totalMatched := 0
	totalQty := decimal.Zero
	engine.RegisterListener(func(u orderbook.BookUpdate) {
		for _, t := range u.Trades {
			totalMatched++
			totalQty = totalQty.Add(t.Qty)
			if totalMatched <= 5 {
				log.Printf("✅ Match: BUY[%s] <=> SELL[%s] @ %s Qty %s\n",
					t.BuyOrderID(), t.SellOrderID(), t.Price, t.Qty)
			}
		}
	})

	ctx := context.Background()
	rejected := 0
	start := time.Now()
	for i := 0; i < numOrders; i++ {
		if _, err := engine.Submit(ctx, randomOrder(rng, i+1)); err != nil {
			rejected++
		}
	}
	elapsed := time.Since(start)

	bid, _ := engine.BestBid()
	ask, _ := engine.BestAsk()

	fmt.Println("--------")
	fmt.Printf("🏁 Total Orders     : %d\n", numOrders)
	fmt.Printf("🚫 Rejected         : %d\n", rejected)
	fmt.Printf("✅ Total Matches    : %d\n", totalMatched)
	fmt.Printf("📦 Total Matched Qty: %s\n", totalQty)
	fmt.Printf("📚 Resting Orders   : %d (bid %s / ask %s)\n", engine.RestingOrders(), bid, ask)
	fmt.Printf("⏱️ Time Taken       : %s\n", elapsed)
	if elapsed > 0 {
		fmt.Printf("⚡ Throughput       : %.0f orders/s\n", float64(numOrders)/elapsed.Seconds())
	}
}
