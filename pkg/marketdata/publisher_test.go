package marketdata

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	redis_wrapper "github.com/joripage/matchcore/pkg/infra/redis"
	"github.com/joripage/matchcore/pkg/orderbook"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisKeys(t *testing.T) {
	assert.Equal(t, "md:BTCUSD:book", BookKey("BTCUSD"))
	assert.Equal(t, "md:BTCUSD:trades", TradesKey("BTCUSD"))
	assert.Equal(t, "md:BTCUSD:updates", UpdatesChannel("BTCUSD"))
}

// Needs a live redis, e.g. REDIS_URL=redis://localhost:6379/15
func TestRedisPublisher(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := redis_wrapper.InitRedis(ctx, &redis_wrapper.RedisConfig{ConnectionURL: url})
	require.NoError(t, err)
	defer client.Close()

	symbol := "TEST" + decimal.NewFromInt(time.Now().UnixNano()).String()
	defer client.Del(context.Background(), BookKey(symbol), TradesKey(symbol))

	sub := client.Subscribe(ctx, UpdatesChannel(symbol))
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	p := NewRedisPublisher(client, 2)
	for i := 1; i <= 3; i++ {
		u := Update{
			Book: BookSnapshot{Symbol: symbol, Sequence: uint64(i)},
			Trades: []orderbook.Trade{{
				ID: uint64(i), Symbol: symbol, Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(1),
			}},
		}
		require.NoError(t, p.Publish(ctx, u))
	}

	raw, err := client.Get(ctx, BookKey(symbol)).Bytes()
	require.NoError(t, err)
	var book BookSnapshot
	require.NoError(t, json.Unmarshal(raw, &book))
	assert.Equal(t, uint64(3), book.Sequence)

	trades, err := client.LRange(ctx, TradesKey(symbol), 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, trades, 2)
	var tr orderbook.Trade
	require.NoError(t, json.Unmarshal([]byte(trades[0]), &tr))
	assert.Equal(t, uint64(2), tr.ID)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var u Update
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &u))
	assert.Equal(t, uint64(1), u.Book.Sequence)
}
