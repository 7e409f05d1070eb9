package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rajchodisetti/market-data/internal/auth"
	"github.com/Rajchodisetti/market-data/internal/breaker"
	"github.com/Rajchodisetti/market-data/internal/observ"
	"github.com/Rajchodisetti/market-data/internal/ratelimit"
)

// ServiceName is reported by Health.
const ServiceName = "market-data"

// AuditLookup is the audit action written for every lookup.
const AuditLookup = "market_data.lookup"

// Config holds the lookup policy.
type Config struct {
	// CacheTTL is how long a provider result stays in the cache.
	CacheTTL time.Duration
	// FreshnessWindow is the store age up to which the provider is skipped.
	FreshnessWindow time.Duration
	// StaleTolerance is the store age up to which a record may stand in for
	// a failed provider call.
	StaleTolerance  time.Duration
	ProviderTimeout time.Duration
	RateLimitScope  ratelimit.Scope
}

func (c Config) withDefaults() Config {
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.FreshnessWindow <= 0 {
		c.FreshnessWindow = time.Hour
	}
	if c.StaleTolerance <= 0 {
		c.StaleTolerance = 7 * 24 * time.Hour
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 2 * time.Second
	}
	if c.RateLimitScope == "" {
		c.RateLimitScope = ratelimit.ScopeLocation
	}
	return c
}

// Deps are the collaborators the Service composes. Audit is optional.
type Deps struct {
	Cache    Cache
	Store    Store
	Provider Provider
	Limiter  Limiter
	Breaker  Breaker
	Audit    Auditor
}

// Service serves market data from cache, store or provider, in that order.
type Service struct {
	config   Config
	cache    Cache
	store    Store
	provider Provider
	limiter  Limiter
	breaker  Breaker
	audit    Auditor
	now      func() time.Time
}

// NewService wires the lookup pipeline.
func NewService(config Config, deps Deps) (*Service, error) {
	switch {
	case deps.Cache == nil:
		return nil, errors.New("marketdata: cache is required")
	case deps.Store == nil:
		return nil, errors.New("marketdata: store is required")
	case deps.Provider == nil:
		return nil, errors.New("marketdata: provider is required")
	case deps.Limiter == nil:
		return nil, errors.New("marketdata: rate limiter is required")
	case deps.Breaker == nil:
		return nil, errors.New("marketdata: circuit breaker is required")
	}
	return &Service{
		config:   config.withDefaults(),
		cache:    deps.Cache,
		store:    deps.Store,
		provider: deps.Provider,
		limiter:  deps.Limiter,
		breaker:  deps.Breaker,
		audit:    deps.Audit,
		now:      time.Now,
	}, nil
}

// WithClock swaps the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// source names where a lookup was answered from.
type source string

const (
	sourceCache    source = "cache"
	sourceStore    source = "store"
	sourceProvider source = "provider"
	sourceStale    source = "stale"
	sourceNone     source = "none"
)

// GetMarketData returns the snapshot for req, fetching from the provider only
// when neither the cache nor a fresh store record can answer.
func (s *Service) GetMarketData(ctx context.Context, req Request) (*MarketData, error) {
	start := s.now()

	key, err := req.Key()
	if err != nil {
		observ.IncCounter("marketdata_requests_total", map[string]string{"outcome": string(KindValidation)})
		return nil, err
	}

	md, src, err := s.lookup(ctx, key)

	outcome := string(src)
	if err != nil {
		outcome = string(KindOf(err))
	}
	observ.IncCounter("marketdata_requests_total", map[string]string{"outcome": outcome})
	observ.RecordDuration("marketdata_request_duration", s.now().Sub(start), map[string]string{"source": string(src)})
	s.record(ctx, key, src, err)

	return md, err
}

func (s *Service) lookup(ctx context.Context, key Key) (*MarketData, source, error) {
	if snap, ok := s.cacheGet(ctx, key); ok {
		observ.IncCounter("marketdata_cache_hits_total", nil)
		return &MarketData{Snapshot: *snap, Cached: true}, sourceCache, nil
	}
	observ.IncCounter("marketdata_cache_misses_total", nil)

	stored, found, err := s.store.FindLatest(ctx, key)
	if err != nil {
		return nil, sourceNone, NewInternalError("read market data", err)
	}
	if !found {
		stored = nil
	}

	if stored != nil {
		age := stored.Age(s.now())
		if age <= s.config.FreshnessWindow {
			s.cacheSet(ctx, key, stored, min(s.config.FreshnessWindow-age, s.config.CacheTTL))
			return &MarketData{Snapshot: *stored}, sourceStore, nil
		}
	}

	return s.refresh(ctx, key, stored)
}

// refresh gates and performs the provider call, falling back to stored data
// when the provider cannot answer.
func (s *Service) refresh(ctx context.Context, key Key, stored *Snapshot) (*MarketData, source, error) {
	decision, err := s.limiter.Allow(ctx, ratelimit.KeyFor(s.config.RateLimitScope, key.Location))
	if err != nil {
		return nil, sourceNone, NewInternalError("rate limiter unavailable", err)
	}
	if !decision.Allowed {
		retryAfter := decision.RetryAfter(s.now())
		observ.IncCounter("marketdata_rate_limited_total", nil)
		observ.Log("marketdata_rate_limited", map[string]any{
			"key":         key.String(),
			"retry_after": retryAfter.Seconds(),
		})
		return nil, sourceNone, NewRateLimitError("market data rate limit exceeded", retryAfter)
	}

	ticket, err := s.breaker.Allow()
	if err != nil {
		if md := s.staleResult(stored); md != nil {
			return md, sourceStale, nil
		}
		return nil, sourceNone, NewUnavailableError("market data provider unavailable", s.breaker.RecoveryTimeout(), err)
	}

	pctx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
	defer cancel()

	fresh, err := s.provider.Fetch(pctx, key)
	if ctx.Err() != nil {
		// Caller went away: no outcome for the breaker and nothing persisted.
		s.breaker.Release(ticket)
		return nil, sourceNone, NewUnavailableError("request cancelled", 0, ctx.Err())
	}
	if err == nil && fresh == nil {
		err = errors.New("provider returned no snapshot")
	}
	if err != nil {
		s.breaker.Failure(ticket)
		observ.IncCounter("provider_failure_total", nil)
		return s.fallback(ctx, key, stored, err)
	}
	s.breaker.Success(ticket)
	observ.IncCounter("provider_success_total", nil)

	fresh.Key = key
	fresh.LastUpdated = s.now().UTC().Truncate(time.Microsecond)
	if stored != nil && fresh.LastUpdated.Before(stored.LastUpdated) {
		fresh.LastUpdated = stored.LastUpdated
	}

	if err := s.store.Upsert(ctx, fresh); err != nil {
		return nil, sourceNone, NewInternalError("persist market data", err)
	}
	s.cacheSet(ctx, key, fresh, s.config.CacheTTL)

	return &MarketData{Snapshot: *fresh}, sourceProvider, nil
}

// fallback re-reads the store after a provider failure and serves the record
// if it is within the stale tolerance.
func (s *Service) fallback(ctx context.Context, key Key, stored *Snapshot, cause error) (*MarketData, source, error) {
	latest, found, err := s.store.FindLatest(ctx, key)
	switch {
	case err != nil:
		observ.Warn("marketdata_fallback_read_failed", map[string]any{"key": key.String(), "error": err.Error()})
		latest = stored
	case !found:
		latest = nil
	}

	if md := s.staleResult(latest); md != nil {
		observ.Warn("marketdata_stale_served", map[string]any{
			"key":         key.String(),
			"age_seconds": md.StaleAgeSeconds,
			"cause":       cause.Error(),
		})
		return md, sourceStale, nil
	}
	return nil, sourceNone, NewUnavailableError(
		fmt.Sprintf("no market data available for %s", key.Location),
		s.breaker.RecoveryTimeout(),
		cause,
	)
}

// staleResult marks snap as a degraded answer, or returns nil when it is
// missing or older than the stale tolerance.
func (s *Service) staleResult(snap *Snapshot) *MarketData {
	if snap == nil {
		return nil
	}
	age := snap.Age(s.now())
	if age > s.config.StaleTolerance {
		return nil
	}
	observ.IncCounter("marketdata_stale_served_total", nil)
	return &MarketData{
		Snapshot:        *snap,
		Cached:          true,
		Stale:           true,
		StaleAgeSeconds: int64(max(age, 0).Seconds()),
	}
}

// Cache faults degrade to a miss: the cache only holds derived data.
func (s *Service) cacheGet(ctx context.Context, key Key) (*Snapshot, bool) {
	snap, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		observ.IncCounter("marketdata_cache_errors_total", map[string]string{"op": "get"})
		observ.Warn("marketdata_cache_get_failed", map[string]any{"key": key.String(), "error": err.Error()})
		return nil, false
	}
	return snap, ok && snap != nil
}

func (s *Service) cacheSet(ctx context.Context, key Key, snap *Snapshot, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := s.cache.Set(ctx, key, snap, ttl); err != nil {
		observ.IncCounter("marketdata_cache_errors_total", map[string]string{"op": "set"})
		observ.Warn("marketdata_cache_set_failed", map[string]any{"key": key.String(), "error": err.Error()})
	}
}

func (s *Service) record(ctx context.Context, key Key, src source, lookupErr error) {
	if s.audit == nil {
		return
	}
	id, _ := auth.FromContext(ctx)
	meta := map[string]any{
		"location":      key.Location,
		"property_type": string(key.PropertyType),
		"period":        string(key.Period),
		"source":        string(src),
	}
	if lookupErr != nil {
		meta["error_kind"] = string(KindOf(lookupErr))
	}
	if err := s.audit.Log(context.WithoutCancel(ctx), id.UserID, AuditLookup, meta); err != nil {
		observ.Warn("audit_write_failed", map[string]any{"action": AuditLookup, "error": err.Error()})
	}
}

// Stats is the operator health view.
type Stats struct {
	Healthy   bool           `json:"healthy"`
	Service   string         `json:"service"`
	Timestamp time.Time      `json:"timestamp"`
	Circuit   breaker.Status `json:"circuit"`
}

// Health reports the breaker state. The service is unhealthy while open.
func (s *Service) Health(_ context.Context) Stats {
	st := s.breaker.Snapshot()
	return Stats{
		Healthy:   st.State != breaker.StateOpen,
		Service:   ServiceName,
		Timestamp: s.now().UTC(),
		Circuit:   st,
	}
}

// Options lists the accepted request values.
type Options struct {
	PropertyTypes []PropertyType `json:"property_types"`
	Periods       []Period       `json:"periods"`
	Defaults      Request        `json:"defaults"`
}

func (s *Service) Options() Options {
	return Options{
		PropertyTypes: PropertyTypes(),
		Periods:       Periods(),
		Defaults:      Request{PropertyType: DefaultPropertyType, Period: DefaultPeriod},
	}
}
