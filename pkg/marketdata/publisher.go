package marketdata

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/joripage/matchcore/pkg/orderbook"
	"github.com/redis/go-redis/v9"
)

// Update is what the feed hands to outbound publishers after each write.
type Update struct {
	Book   BookSnapshot      `json:"book"`
	Trades []orderbook.Trade `json:"trades,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, u Update) error
}

func BookKey(symbol string) string { return fmt.Sprintf("md:%s:book", symbol) }
func TradesKey(symbol string) string { return fmt.Sprintf("md:%s:trades", symbol) }
func UpdatesChannel(symbol string) string { return fmt.Sprintf("md:%s:updates", symbol) }

// RedisPublisher mirrors the feed into redis: the latest snapshot under
// md:<symbol>:book, a trimmed trade list under md:<symbol>:trades, and every
// update on the md:<symbol>:updates channel.
type RedisPublisher struct {
	client   redis.Cmdable
	tapeSize int64
}

func NewRedisPublisher(client redis.Cmdable, tapeSize int) *RedisPublisher {
	if tapeSize <= 0 {
		tapeSize = DefaultConfig().TapeSize
	}
	return &RedisPublisher{client: client, tapeSize: int64(tapeSize)}
}

func (p *RedisPublisher) Publish(ctx context.Context, u Update) error {
	symbol := u.Book.Symbol
	book, err := json.Marshal(u.Book)
	if err != nil {
		return fmt.Errorf("marshal book: %w", err)
	}
	msg, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	trades := make([]interface{}, 0, len(u.Trades))
	for _, t := range u.Trades {
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal trade %d: %w", t.ID, err)
		}
		trades = append(trades, b)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, BookKey(symbol), book, 0)
		if len(trades) > 0 {
			pipe.RPush(ctx, TradesKey(symbol), trades...)
			pipe.LTrim(ctx, TradesKey(symbol), -p.tapeSize, -1)
		}
		pipe.Publish(ctx, UpdatesChannel(symbol), msg)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", symbol, err)
	}
	return nil
}
