package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/market-data/internal/marketdata"
)

var testKey = marketdata.Key{Location: "cape town", PropertyType: marketdata.PropertyHouse, Period: marketdata.Period6Months}

func testSnapshot() *marketdata.Snapshot {
	beds := 3
	return &marketdata.Snapshot{
		Key:          testKey,
		AveragePrice: 2500000,
		MedianPrice:  2300000,
		Trend:        marketdata.TrendUp,
		LastUpdated:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Comparables: []marketdata.ComparableSale{
			{ID: "s1", Address: "1 Long St", SalePrice: 2400000, Bedrooms: &beds},
		},
	}
}

func TestMemory_GetSetAndLazyExpiry(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory().WithClock(func() time.Time { return now })
	ctx := context.Background()

	_, ok, err := m.Get(ctx, testKey)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, testKey, testSnapshot(), time.Hour))
	got, ok, err := m.Get(ctx, testKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testSnapshot(), got)

	now = now.Add(time.Hour)
	_, ok, err = m.Get(ctx, testKey)
	require.NoError(t, err)
	assert.False(t, ok, "entry at expiry reads as absent")
	assert.Equal(t, 1, m.Len(), "lazy expiry does not evict")

	assert.Equal(t, 1, m.Cleanup())
	assert.Equal(t, 0, m.Len())
}

func TestMemory_CopiesDoNotAlias(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	snap := testSnapshot()
	require.NoError(t, m.Set(ctx, testKey, snap, time.Minute))

	snap.AveragePrice = 1
	*snap.Comparables[0].Bedrooms = 9

	got, ok, _ := m.Get(ctx, testKey)
	require.True(t, ok)
	assert.Equal(t, 2500000.0, got.AveragePrice)
	assert.Equal(t, 3, *got.Comparables[0].Bedrooms)

	got.Comparables[0].SalePrice = 5
	again, _, _ := m.Get(ctx, testKey)
	assert.Equal(t, 2400000.0, again.Comparables[0].SalePrice)
}

func TestMemory_NonPositiveTTLIsNoop(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Set(context.Background(), testKey, testSnapshot(), 0))
	assert.Equal(t, 0, m.Len())
}

func TestMemory_RunStopsWithContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRedis_GetSetAndExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewRedis(client)
	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))

	_, ok, err := c.Get(ctx, testKey)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, testKey, testSnapshot(), time.Hour))
	assert.Equal(t, time.Hour, mr.TTL(testKey.String()))

	got, ok, err := c.Get(ctx, testKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testSnapshot().AveragePrice, got.AveragePrice)
	assert.True(t, testSnapshot().LastUpdated.Equal(got.LastUpdated))
	require.Len(t, got.Comparables, 1)
	assert.Equal(t, 3, *got.Comparables[0].Bedrooms)

	mr.FastForward(time.Hour)
	_, ok, err = c.Get(ctx, testKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_CorruptValue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	require.NoError(t, mr.Set(testKey.String(), "{not json"))
	_, ok, err := NewRedis(client).Get(context.Background(), testKey)
	assert.Error(t, err)
	assert.False(t, ok)
}
