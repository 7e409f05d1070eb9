package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Rajchodisetti/market-data/internal/observ"
)

// fixedWindowScript increments the counter and starts the window TTL on the
// first hit, atomically. Returns {count, pttl_ms}.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisFixedWindow shares fixed-window counters across service replicas.
// The window start is implied by the key's TTL.
type RedisFixedWindow struct {
	client redis.Scripter
	config Config
	prefix string
	now    func() time.Time
}

// NewRedisFixedWindow builds a Redis-backed limiter.
func NewRedisFixedWindow(client redis.Scripter, config Config) *RedisFixedWindow {
	return &RedisFixedWindow{
		client: client,
		config: config.withDefaults(),
		prefix: "ratelimit:",
		now:    time.Now,
	}
}

// Allow counts one attempt against key.
func (l *RedisFixedWindow) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + key}, l.config.Window.Milliseconds()).Int64Slice()
	if err != nil {
		observ.IncCounter("rate_limit_backend_errors_total", map[string]string{"backend": "redis"})
		return Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit %s: unexpected script reply %v", key, res)
	}

	count := int(res[0])
	d := Decision{
		Allowed:   count <= l.config.MaxRequests,
		Remaining: max(l.config.MaxRequests-count, 0),
		ResetAt:   l.now().Add(time.Duration(res[1]) * time.Millisecond),
	}
	if !d.Allowed {
		observ.IncCounter("rate_limit_rejected_total", map[string]string{"backend": "redis"})
	}
	return d, nil
}
