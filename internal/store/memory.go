// Package store is the durable source of truth for market snapshots.
//
// Every backend replaces a snapshot and its comparable sales as one unit and
// never lets an older LastUpdated overwrite a newer one.
package store

import (
	"context"
	"sync"

	"github.com/Rajchodisetti/market-data/internal/marketdata"
)

// Memory keeps snapshots in process. Used for development and tests.
type Memory struct {
	mu    sync.RWMutex
	snaps map[marketdata.Key]*marketdata.Snapshot
}

func NewMemory() *Memory {
	return &Memory{snaps: make(map[marketdata.Key]*marketdata.Snapshot)}
}

func (m *Memory) FindLatest(_ context.Context, key marketdata.Key) (*marketdata.Snapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.snaps[key]
	if !ok {
		return nil, false, nil
	}
	return s.Clone(), true, nil
}

func (m *Memory) Upsert(_ context.Context, snap *marketdata.Snapshot) error {
	if snap == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.snaps[snap.Key]; ok && snap.LastUpdated.Before(cur.LastUpdated) {
		recordIgnored("memory", snap.Key)
		return nil
	}
	m.snaps[snap.Key] = snap.Clone()
	return nil
}

func (m *Memory) Migrate(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
