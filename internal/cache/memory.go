// Package cache holds short-lived market snapshots in front of the store.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/Rajchodisetti/market-data/internal/marketdata"
	"github.com/Rajchodisetti/market-data/internal/observ"
)

type entry struct {
	snapshot *marketdata.Snapshot
	expiry   time.Time
}

// Memory is a thread-safe TTL cache. Expired entries read as absent; Cleanup
// or Run reclaim their memory.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemory creates an empty cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// WithClock swaps the time source for tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

// Get returns a copy of the snapshot stored under key, if unexpired.
func (m *Memory) Get(_ context.Context, key marketdata.Key) (*marketdata.Snapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key.String()]
	if !ok || !m.now().Before(e.expiry) {
		return nil, false, nil
	}
	return e.snapshot.Clone(), true, nil
}

// Set stores a copy of snapshot for ttl. A non-positive ttl is a no-op.
func (m *Memory) Set(_ context.Context, key marketdata.Key, snapshot *marketdata.Snapshot, ttl time.Duration) error {
	if ttl <= 0 || snapshot == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key.String()] = entry{
		snapshot: snapshot.Clone(),
		expiry:   m.now().Add(ttl),
	}
	return nil
}

// Len reports how many entries are held, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Cleanup removes expired entries
func (m *Memory) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	evicted := 0
	for k, e := range m.entries {
		if !now.Before(e.expiry) {
			delete(m.entries, k)
			evicted++
		}
	}

	if evicted > 0 {
		observ.IncCounterBy("marketdata_cache_evictions_total", nil, float64(evicted))
	}
	observ.SetGauge("marketdata_cache_size", float64(len(m.entries)), nil)
	return evicted
}

// Run calls Cleanup every interval until ctx is done.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Cleanup(); n > 0 {
				observ.Log("cache_cleanup", map[string]any{"evicted": n})
			}
		}
	}
}
