package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher appends ledger events to Redis streams.
type Publisher struct {
	client *redis.Client
	maxLen int64
}

func NewPublisher(client *redis.Client, maxLen int64) *Publisher {
	return &Publisher{client: client, maxLen: maxLen}
}

// Publish appends e to stream, trimming the stream to roughly maxLen
// entries when maxLen is set.
func (p *Publisher) Publish(ctx context.Context, stream string, e Event) error {
	values, err := e.Values()
	if err != nil {
		return err
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: p.maxLen > 0,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s to %s: %w", e.Type, stream, err)
	}
	return nil
}

// Nop discards every event. Used when no Redis address is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, Event) error { return nil }

// NewRedisClient connects and pings before returning.
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return rdb, nil
}
