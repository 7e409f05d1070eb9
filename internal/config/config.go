package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

type Server struct {
	Addr                string   `yaml:"addr" env:"ADDR"`
	Mode                string   `yaml:"mode" env:"MODE"` // development | production
	ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds" env:"READ_TIMEOUT_SECONDS"`
	WriteTimeoutSeconds int      `yaml:"write_timeout_seconds" env:"WRITE_TIMEOUT_SECONDS"`
	CORSOrigins         []string `yaml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
}

type Log struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"` // json | text
}

type MarketData struct {
	CacheTTLSeconds        int `yaml:"cache_ttl_seconds" env:"CACHE_TTL_SECONDS"`
	FreshnessWindowSeconds int `yaml:"freshness_window_seconds" env:"FRESHNESS_WINDOW_SECONDS"`
	StaleToleranceSeconds  int `yaml:"stale_tolerance_seconds" env:"STALE_TOLERANCE_SECONDS"`
	ProviderTimeoutMs      int `yaml:"provider_timeout_ms" env:"PROVIDER_TIMEOUT_MS"`
	MaxComparables         int `yaml:"max_comparables" env:"MAX_COMPARABLES"`
}

type RateLimit struct {
	Backend       string `yaml:"backend" env:"BACKEND"` // memory | redis
	Scope         string `yaml:"scope" env:"SCOPE"`     // location | global
	WindowSeconds int    `yaml:"window_seconds" env:"WINDOW_SECONDS"`
	MaxRequests   int    `yaml:"max_requests" env:"MAX_REQUESTS"`
}

type CircuitBreaker struct {
	FailureThreshold       int `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	RecoveryTimeoutSeconds int `yaml:"recovery_timeout_seconds" env:"RECOVERY_TIMEOUT_SECONDS"`
}

type Provider struct {
	Name              string  `yaml:"name" env:"NAME"`
	BaseURL           string  `yaml:"base_url" env:"BASE_URL"`
	APIKey            string  `yaml:"api_key" env:"API_KEY"`
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	Burst             int     `yaml:"burst" env:"BURST"`
	MaxAttempts       int     `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	BackoffBaseMs     int     `yaml:"backoff_base_ms" env:"BACKOFF_BASE_MS"`
}

type Cache struct {
	Backend                string `yaml:"backend" env:"BACKEND"` // memory | redis
	CleanupIntervalSeconds int    `yaml:"cleanup_interval_seconds" env:"CLEANUP_INTERVAL_SECONDS"`
}

type Redis struct {
	URL string `yaml:"url" env:"URL"`
}

type Store struct {
	Driver string `yaml:"driver" env:"DRIVER"` // postgres | sqlite | memory
	DSN    string `yaml:"dsn" env:"DSN"`
}

type Audit struct {
	Path string `yaml:"path" env:"PATH"` // empty writes to stdout
}

type Root struct {
	Server         Server         `yaml:"server" envPrefix:"SERVER_"`
	Log            Log            `yaml:"log" envPrefix:"LOG_"`
	MarketData     MarketData     `yaml:"market_data" envPrefix:"MARKET_DATA_"`
	RateLimit      RateLimit      `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	CircuitBreaker CircuitBreaker `yaml:"circuit_breaker" envPrefix:"CIRCUIT_BREAKER_"`
	Provider       Provider       `yaml:"provider" envPrefix:"PROVIDER_"`
	Cache          Cache          `yaml:"cache" envPrefix:"CACHE_"`
	Redis          Redis          `yaml:"redis" envPrefix:"REDIS_"`
	Store          Store          `yaml:"store" envPrefix:"STORE_"`
	Audit          Audit          `yaml:"audit" envPrefix:"AUDIT_"`
}

// EnvPrefix namespaces every environment override, e.g.
// MARKETDATA_RATE_LIMIT_MAX_REQUESTS.
const EnvPrefix = "MARKETDATA_"

// Load reads the YAML file at path (skipped when path is empty or missing),
// applies environment overrides, then fills defaults.
func Load(path string) (Root, error) {
	var c Root
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return c, err
		default:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return c, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(&c, env.Options{Prefix: EnvPrefix}); err != nil {
		return c, fmt.Errorf("env overrides: %w", err)
	}

	c.applyDefaults()
	return c, c.Validate()
}

func (c *Root) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "production"
	}
	if c.Server.ReadTimeoutSeconds == 0 {
		c.Server.ReadTimeoutSeconds = 5
	}
	if c.Server.WriteTimeoutSeconds == 0 {
		c.Server.WriteTimeoutSeconds = 10
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	// Market data defaults
	if c.MarketData.CacheTTLSeconds == 0 {
		c.MarketData.CacheTTLSeconds = 3600
	}
	if c.MarketData.FreshnessWindowSeconds == 0 {
		c.MarketData.FreshnessWindowSeconds = 3600
	}
	if c.MarketData.StaleToleranceSeconds == 0 {
		c.MarketData.StaleToleranceSeconds = 7 * 24 * 3600
	}
	if c.MarketData.ProviderTimeoutMs == 0 {
		c.MarketData.ProviderTimeoutMs = 2000
	}
	if c.MarketData.MaxComparables == 0 {
		c.MarketData.MaxComparables = 100
	}

	// Rate limit defaults
	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = "memory"
	}
	if c.RateLimit.Scope == "" {
		c.RateLimit.Scope = "location"
	}
	if c.RateLimit.WindowSeconds == 0 {
		c.RateLimit.WindowSeconds = 3600
	}
	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = 100
	}

	// Circuit breaker defaults
	if c.CircuitBreaker.FailureThreshold == 0 {
		c.CircuitBreaker.FailureThreshold = 5
	}
	if c.CircuitBreaker.RecoveryTimeoutSeconds == 0 {
		c.CircuitBreaker.RecoveryTimeoutSeconds = 60
	}

	// Provider defaults
	if c.Provider.Name == "" {
		c.Provider.Name = "market-stats"
	}
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = "http://localhost:8091"
	}
	if c.Provider.RequestsPerSecond == 0 {
		c.Provider.RequestsPerSecond = 10
	}
	if c.Provider.Burst == 0 {
		c.Provider.Burst = 5
	}
	if c.Provider.MaxAttempts == 0 {
		c.Provider.MaxAttempts = 1
	}
	if c.Provider.BackoffBaseMs == 0 {
		c.Provider.BackoffBaseMs = 100
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.CleanupIntervalSeconds == 0 {
		c.Cache.CleanupIntervalSeconds = 300
	}
	if c.Redis.URL == "" {
		c.Redis.URL = "redis://localhost:6379/0"
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.DSN == "" && c.Store.Driver == "sqlite" {
		c.Store.DSN = "marketdata.db"
	}
}

// Validate rejects settings the service cannot run with.
func (c Root) Validate() error {
	if c.MarketData.StaleToleranceSeconds < c.MarketData.FreshnessWindowSeconds {
		return fmt.Errorf("stale tolerance (%ds) must not be shorter than the freshness window (%ds)",
			c.MarketData.StaleToleranceSeconds, c.MarketData.FreshnessWindowSeconds)
	}
	switch c.RateLimit.Scope {
	case "location", "global":
	default:
		return fmt.Errorf("unknown rate limit scope %q", c.RateLimit.Scope)
	}
	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown rate limit backend %q", c.RateLimit.Backend)
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	switch c.Store.Driver {
	case "postgres", "sqlite":
		if c.Store.DSN == "" {
			return fmt.Errorf("store driver %s requires a dsn", c.Store.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.MarketData.MaxComparables < 0 || c.RateLimit.MaxRequests < 0 || c.CircuitBreaker.FailureThreshold < 0 {
		return errors.New("limits must not be negative")
	}
	return nil
}

// Development reports whether internal error details may reach clients.
func (c Root) Development() bool {
	return c.Server.Mode == "development"
}

func (s Server) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}

func (s Server) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

func (m MarketData) CacheTTL() time.Duration {
	return time.Duration(m.CacheTTLSeconds) * time.Second
}

func (m MarketData) FreshnessWindow() time.Duration {
	return time.Duration(m.FreshnessWindowSeconds) * time.Second
}

func (m MarketData) StaleTolerance() time.Duration {
	return time.Duration(m.StaleToleranceSeconds) * time.Second
}

func (m MarketData) ProviderTimeout() time.Duration {
	return time.Duration(m.ProviderTimeoutMs) * time.Millisecond
}

func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

func (cb CircuitBreaker) RecoveryTimeout() time.Duration {
	return time.Duration(cb.RecoveryTimeoutSeconds) * time.Second
}
