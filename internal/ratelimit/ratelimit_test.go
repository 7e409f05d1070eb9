package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestFixedWindow_RejectsAfterMax(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	l := NewFixedWindow(Config{Window: time.Hour, MaxRequests: 3}).WithClock(clock.Now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "location:cape town")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "call %d should pass", i+1)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := l.Allow(ctx, "location:cape town")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, time.Hour, d.RetryAfter(clock.Now()))

	// other keys have their own budget
	d, err = l.Allow(ctx, "location:durban")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestFixedWindow_ResetsAfterWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	l := NewFixedWindow(Config{Window: time.Hour, MaxRequests: 2}).WithClock(clock.Now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = l.Allow(ctx, "k")
	}
	d, _ := l.Allow(ctx, "k")
	require.False(t, d.Allowed)

	clock.Advance(59 * time.Minute)
	d, _ = l.Allow(ctx, "k")
	assert.False(t, d.Allowed)

	clock.Advance(time.Minute)
	d, _ = l.Allow(ctx, "k")
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
	assert.Equal(t, clock.Now().Add(time.Hour), d.ResetAt)
}

func TestFixedWindow_ConcurrentIncrements(t *testing.T) {
	l := NewFixedWindow(Config{Window: time.Hour, MaxRequests: 50})
	ctx := context.Background()

	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Allow(ctx, "location:same")
			if err == nil && d.Allowed {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), allowed)
}

func TestKeyFor(t *testing.T) {
	tests := []struct {
		name     string
		scope    Scope
		location string
		want     string
	}{
		{name: "per_location", scope: ScopeLocation, location: "cape town", want: "location:cape town"},
		{name: "global", scope: ScopeGlobal, location: "cape town", want: "global"},
		{name: "unknown_scope_falls_back_to_location", scope: Scope(""), location: "durban", want: "location:durban"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KeyFor(tt.scope, tt.location))
		})
	}
}

func TestFixedWindow_GlobalScopeSharesBudget(t *testing.T) {
	l := NewFixedWindow(Config{Window: time.Minute, MaxRequests: 2})
	ctx := context.Background()

	d1, _ := l.Allow(ctx, KeyFor(ScopeGlobal, "cape town"))
	d2, _ := l.Allow(ctx, KeyFor(ScopeGlobal, "durban"))
	d3, _ := l.Allow(ctx, KeyFor(ScopeGlobal, "pretoria"))

	assert.True(t, d1.Allowed)
	assert.True(t, d2.Allowed)
	assert.False(t, d3.Allowed)
}

func TestRedisFixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedisFixedWindow(client, Config{Window: time.Hour, MaxRequests: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, "location:cape town")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := l.Allow(ctx, "location:cape town")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter(time.Now()), 59*time.Minute)

	ttl := mr.TTL("ratelimit:location:cape town")
	assert.Equal(t, time.Hour, ttl)

	mr.FastForward(time.Hour)
	d, err = l.Allow(ctx, "location:cape town")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
}

func TestRedisFixedWindow_BackendError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	l := NewRedisFixedWindow(client, Config{Window: time.Minute, MaxRequests: 1})
	_, err := l.Allow(context.Background(), "k")
	assert.Error(t, err)
}
