package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joripage/matchcore/pkg/orderbook"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	topic string
	key   string
	event TradeEvent
}

type fakeProducer struct {
	mu       sync.Mutex
	sent     []sentMessage
	failures int
}

func (p *fakeProducer) PublishJSON(_ context.Context, topic string, key string, v any, _ map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, sentMessage{topic: topic, key: key, event: v.(TradeEvent)})
	return nil
}

func (p *fakeProducer) Sent() []sentMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sentMessage(nil), p.sent...)
}

func order(id, user string, side orderbook.Side, price, qty string) orderbook.Order {
	return orderbook.Order{
		ID: id, UserID: user, Side: side, Type: orderbook.LIMIT,
		Price: decimal.RequireFromString(price), Qty: decimal.RequireFromString(qty),
	}
}

func TestNewTradeEventResolvesParties(t *testing.T) {
	tr := orderbook.Trade{
		ID: 7, Symbol: "BTCUSD", Price: decimal.NewFromInt(100), Qty: decimal.RequireFromString("0.5"),
		TakerSide: orderbook.BUY, MakerOrderID: "S1", TakerOrderID: "B1", MakerUserID: "seller", TakerUserID: "buyer",
	}
	ev := NewTradeEvent(tr)

	assert.Equal(t, "B1", ev.BuyOrderID)
	assert.Equal(t, "S1", ev.SellOrderID)
	assert.Equal(t, "buyer", ev.BuyerUserID)
	assert.Equal(t, "seller", ev.SellerUserID)
	assert.True(t, ev.Notional.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, NewEventID("BTCUSD", 7), ev.EventID)
	assert.NotEqual(t, NewEventID("BTCUSD", 8), ev.EventID)
}

func TestPublisherForwardsEngineTrades(t *testing.T) {
	e := orderbook.NewMatchingEngine("BTCUSD")
	prod := &fakeProducer{failures: 1}
	p := NewPublisher(prod, "trades", 16, WithRetry(time.Second))
	p.Attach(e)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	_, err := e.Submit(context.Background(), order("S1", "alice", orderbook.SELL, "100", "1"))
	require.NoError(t, err)
	_, err = e.Submit(context.Background(), order("S2", "carol", orderbook.SELL, "101", "1"))
	require.NoError(t, err)
	_, err = e.Submit(context.Background(), order("B1", "bob", orderbook.BUY, "101", "2"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(prod.Sent()) == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	sent := prod.Sent()
	assert.Equal(t, "trades", sent[0].topic)
	assert.Equal(t, "BTCUSD", sent[0].key)
	assert.Equal(t, "alice", sent[0].event.SellerUserID)
	assert.Equal(t, "bob", sent[0].event.BuyerUserID)
	assert.Equal(t, "carol", sent[1].event.SellerUserID)
	assert.Less(t, sent[0].event.TradeID, sent[1].event.TradeID)

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.Enqueued)
	assert.Equal(t, uint64(2), stats.Published)
	assert.Zero(t, stats.Failed)
}

func TestPublisherDropsWhenQueueFull(t *testing.T) {
	p := NewPublisher(&fakeProducer{}, "trades", 1)
	p.OnUpdate(orderbook.BookUpdate{Trades: []orderbook.Trade{{ID: 1}, {ID: 2}}})

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Enqueued)
	assert.Equal(t, uint64(1), stats.Dropped)
}

func TestPublisherDrainsOnShutdown(t *testing.T) {
	prod := &fakeProducer{}
	p := NewPublisher(prod, "trades", 8)
	p.OnUpdate(orderbook.BookUpdate{Trades: []orderbook.Trade{{ID: 1, Symbol: "BTCUSD"}, {ID: 2, Symbol: "BTCUSD"}}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx))
	assert.Len(t, prod.Sent(), 2)
}
