package metrics

import (
	"context"
	"testing"

	"github.com/joripage/matchcore/pkg/orderbook"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limit(id string, side orderbook.Side, price, qty int64) orderbook.Order {
	return orderbook.Order{
		ID: id, Side: side, Type: orderbook.LIMIT,
		Price: decimal.NewFromInt(price), Qty: decimal.NewFromInt(qty),
	}
}

func TestEngineMetricsFollowUpdates(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := orderbook.NewMatchingEngine("BTCUSD")
	m := NewEngineMetrics("BTCUSD")
	require.NoError(t, m.Register(reg))
	m.Attach(e)

	ctx := context.Background()
	_, err := e.Submit(ctx, limit("S1", orderbook.SELL, 100, 2))
	require.NoError(t, err)
	_, err = e.Submit(ctx, limit("B1", orderbook.BUY, 99, 1))
	require.NoError(t, err)
	_, err = e.Submit(ctx, limit("B2", orderbook.BUY, 100, 1))
	require.NoError(t, err)
	_, err = e.Cancel(ctx, "B1")
	require.NoError(t, err)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.updates.WithLabelValues(string(orderbook.UpdateSubmit))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.updates.WithLabelValues(string(orderbook.UpdateCancel))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.trades))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.volume))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.notional))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.lastPrice))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.bestBid))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.bestAsk))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.askLevels))
}

func TestRegisterCounterFunc(t *testing.T) {
	reg := prometheus.NewRegistry()
	var n uint64 = 7
	require.NoError(t, RegisterCounterFunc(reg, "BTCUSD", "marketdata", "dropped_total", "Dropped updates.", func() uint64 { return n }))

	count, err := testutil.GatherAndCount(reg, "matchcore_marketdata_dropped_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// duplicate registration is rejected
	assert.Error(t, RegisterCounterFunc(reg, "BTCUSD", "marketdata", "dropped_total", "Dropped updates.", func() uint64 { return n }))
}

type racingSource struct{}

func (racingSource) RegisterListener(fn func(orderbook.BookUpdate)) orderbook.BookUpdate {
	fn(orderbook.BookUpdate{
		Kind:     orderbook.UpdateSubmit,
		BestBid:  decimal.NullDecimal{Decimal: decimal.NewFromInt(100), Valid: true},
		Depth:    orderbook.Depth{Bids: []orderbook.Level{{Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(1), Orders: 1}}},
		Sequence: 6,
	})
	return orderbook.BookUpdate{Kind: orderbook.UpdateSnapshot, Sequence: 5}
}

func TestAttachKeepsNewerGauges(t *testing.T) {
	m := NewEngineMetrics("BTCUSD")
	m.Attach(racingSource{})

	assert.Equal(t, 100.0, testutil.ToFloat64(m.bestBid))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bidLevels))
}
