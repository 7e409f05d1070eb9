// Package ratelimit gates provider calls with fixed-window counters.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/Rajchodisetti/market-data/internal/observ"
)

// Scope selects how limiter keys are derived from a request.
type Scope string

const (
	ScopeLocation Scope = "location"
	ScopeGlobal   Scope = "global"
)

const globalKey = "global"

// KeyFor returns the counter key for location under scope.
func KeyFor(scope Scope, location string) string {
	if scope == ScopeGlobal {
		return globalKey
	}
	return "location:" + location
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long until the window resets, measured from now.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if wait := d.ResetAt.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

// Config holds the window parameters shared by every backend.
type Config struct {
	Window      time.Duration
	MaxRequests int
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = time.Hour
	}
	if c.MaxRequests <= 0 {
		c.MaxRequests = 100
	}
	return c
}

type window struct {
	start time.Time
	count int
}

// FixedWindow is an in-process fixed-window counter keyed by string.
type FixedWindow struct {
	mu          sync.Mutex
	config      Config
	windows     map[string]*window
	lastCleanup time.Time
	now         func() time.Time
}

// NewFixedWindow builds an in-memory limiter. Zero values take 100 per hour.
func NewFixedWindow(config Config) *FixedWindow {
	return &FixedWindow{
		config:  config.withDefaults(),
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// WithClock swaps the time source for tests.
func (l *FixedWindow) WithClock(now func() time.Time) *FixedWindow {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	return l
}

// Allow counts one attempt against key. Every call increments, whatever the
// outcome of the call it gates; a window older than Window resets lazily.
func (l *FixedWindow) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.cleanup(now)

	w, ok := l.windows[key]
	if !ok {
		w = &window{start: now}
		l.windows[key] = w
	}
	if now.Sub(w.start) >= l.config.Window {
		w.start = now
		w.count = 0
	}

	w.count++
	d := Decision{
		Allowed:   w.count <= l.config.MaxRequests,
		Remaining: max(l.config.MaxRequests-w.count, 0),
		ResetAt:   w.start.Add(l.config.Window),
	}
	if !d.Allowed {
		observ.IncCounter("rate_limit_rejected_total", map[string]string{"backend": "memory"})
	}
	return d, nil
}

// cleanup drops windows that have fully elapsed. Caller must hold lock.
func (l *FixedWindow) cleanup(now time.Time) {
	if !l.lastCleanup.IsZero() && now.Sub(l.lastCleanup) < l.config.Window {
		return
	}
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.config.Window {
			delete(l.windows, key)
		}
	}
	l.lastCleanup = now
}
