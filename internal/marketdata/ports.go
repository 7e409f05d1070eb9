package marketdata

import (
	"context"
	"time"

	"github.com/Rajchodisetti/market-data/internal/breaker"
	"github.com/Rajchodisetti/market-data/internal/ratelimit"
)

// Cache is a short-lived, derived copy of store contents.
type Cache interface {
	Get(ctx context.Context, key Key) (*Snapshot, bool, error)
	Set(ctx context.Context, key Key, snapshot *Snapshot, ttl time.Duration) error
}

// Store is the durable source of truth.
type Store interface {
	FindLatest(ctx context.Context, key Key) (*Snapshot, bool, error)
	Upsert(ctx context.Context, snapshot *Snapshot) error
}

// Provider fetches fresh statistics from the upstream API.
type Provider interface {
	Fetch(ctx context.Context, key Key) (*Snapshot, error)
}

// Limiter budgets provider attempts.
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// Breaker guards the provider.
type Breaker interface {
	Allow() (breaker.Ticket, error)
	Success(breaker.Ticket)
	Failure(breaker.Ticket)
	Release(breaker.Ticket)
	Snapshot() breaker.Status
	RecoveryTimeout() time.Duration
}

// Auditor records lookups per user.
type Auditor interface {
	Log(ctx context.Context, userID, action string, metadata map[string]any) error
}
