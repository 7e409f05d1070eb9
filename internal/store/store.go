package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Rajchodisetti/market-data/internal/marketdata"
	"github.com/Rajchodisetti/market-data/internal/observ"
)

// Store is implemented by every backend in this package.
type Store interface {
	FindLatest(ctx context.Context, key marketdata.Key) (*marketdata.Snapshot, bool, error)
	Upsert(ctx context.Context, snap *marketdata.Snapshot) error
	Migrate(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*SQLite)(nil)
	_ Store = (*Postgres)(nil)
)

// Open builds the backend named by driver and runs its migrations.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	var (
		s   Store
		err error
	)
	switch driver {
	case "memory":
		s = NewMemory()
	case "sqlite":
		s, err = OpenSQLite(dsn)
	case "postgres":
		s, err = OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate %s store: %w", driver, err)
	}
	observ.Log("store_opened", map[string]any{"driver": driver})
	return s, nil
}

// recordIgnored notes an upsert that lost to a newer stored record.
func recordIgnored(backend string, key marketdata.Key) {
	observ.IncCounter("store_upsert_ignored_total", map[string]string{"backend": backend})
	observ.Log("store_upsert_ignored", map[string]any{
		"backend": backend,
		"key":     key.String(),
	})
}

func observeQuery(backend, op string, start time.Time, err error) {
	labels := map[string]string{"backend": backend, "op": op}
	observ.RecordDuration("store_query_duration", time.Since(start), labels)
	if err != nil {
		observ.IncCounter("store_errors_total", labels)
	}
}
