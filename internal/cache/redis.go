package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Rajchodisetti/market-data/internal/marketdata"
)

// Redis stores snapshots as JSON with a native key TTL.
type Redis struct {
	client redis.Cmdable
}

// NewRedis wraps an existing client.
func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client}
}

// Ping checks the connection to the Redis server.
func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Redis) Get(ctx context.Context, key marketdata.Key) (*marketdata.Snapshot, bool, error) {
	b, err := c.client.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var snap marketdata.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return &snap, true, nil
}

func (c *Redis) Set(ctx context.Context, key marketdata.Key, snapshot *marketdata.Snapshot, ttl time.Duration) error {
	if ttl <= 0 || snapshot == nil {
		return nil
	}
	b, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key.String(), b, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
