// Package provider fetches market statistics from the upstream market-stats API.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/market-data/internal/marketdata"
	"github.com/Rajchodisetti/market-data/internal/observ"
)

// Config holds configuration for the upstream client.
type Config struct {
	Name              string
	BaseURL           string
	APIKey            string
	RequestsPerSecond float64
	Burst             int
	MaxAttempts       int
	BackoffBase       time.Duration
	MaxComparables    int
	HTTPClient        *http.Client
}

// Client calls GET {BaseURL}/v1/market-stats. It is safe for concurrent use.
type Client struct {
	config  Config
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// FetchError is the single failure type returned by Fetch.
type FetchError struct {
	Provider   string
	Key        marketdata.Key
	StatusCode int
	Reason     string
	Err        error

	transport bool
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s fetch %s: %s", e.Provider, e.Key, e.Reason)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed.
func (e *FetchError) Retryable() bool {
	if e.StatusCode >= 500 {
		return true
	}
	return e.transport &&
		!errors.Is(e.Err, context.Canceled) && !errors.Is(e.Err, context.DeadlineExceeded)
}

// New creates a client. BaseURL is required.
func New(config Config) (*Client, error) {
	if strings.TrimSpace(config.BaseURL) == "" {
		return nil, fmt.Errorf("provider base URL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("provider base URL: %w", err)
	}

	// Set defaults
	if config.Name == "" {
		config.Name = "market-stats"
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 10
	}
	if config.Burst <= 0 {
		config.Burst = 5
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = 100 * time.Millisecond
	}
	if config.MaxComparables <= 0 {
		config.MaxComparables = marketdata.DefaultMaxComparables
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	httpClient := config.HTTPClient
	if httpClient == nil {
		// Per-call deadlines come from the caller's context.
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		config:  config,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		now:     time.Now,
	}, nil
}

// Name identifies the upstream in logs and snapshot sources.
func (c *Client) Name() string { return c.config.Name }

// Fetch retrieves the snapshot for key. Transport errors and 5xx responses are
// retried with exponential backoff while ctx allows.
func (c *Client) Fetch(ctx context.Context, key marketdata.Key) (*marketdata.Snapshot, error) {
	start := c.now()
	labels := map[string]string{"provider": c.config.Name}

	var lastErr *FetchError
	for attempt := 0; attempt < c.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.config.BackoffBase * time.Duration(1<<(attempt-1))
			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, c.fail(key, "cancelled during backoff", 0, ctx.Err())
			case <-t.C:
			}
			observ.IncCounter("provider_retries_total", labels)
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.fail(key, "request pacing wait", 0, err)
		}

		snap, ferr := c.fetchOnce(ctx, key)
		if ferr == nil {
			observ.RecordDuration("provider_fetch_duration", c.now().Sub(start), labels)
			return snap, nil
		}
		lastErr = ferr
		if !ferr.Retryable() || ctx.Err() != nil {
			break
		}
	}

	observ.RecordDuration("provider_fetch_duration", c.now().Sub(start), labels)
	observ.Warn("provider_fetch_failed", map[string]any{
		"provider": c.config.Name,
		"key":      key.String(),
		"status":   lastErr.StatusCode,
		"reason":   lastErr.Reason,
		"error":    fmt.Sprint(lastErr.Err),
	})
	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, key marketdata.Key) (*marketdata.Snapshot, *FetchError) {
	params := url.Values{
		"location":     {key.Location},
		"propertyType": {string(key.PropertyType)},
		"period":       {string(key.Period)},
	}
	requestURL := c.config.BaseURL + "/v1/market-stats?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, c.fail(key, "build request", 0, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		ferr := c.fail(key, "request failed", 0, err)
		ferr.transport = true
		return nil, ferr
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		reason := "unexpected status"
		if b := strings.TrimSpace(string(body)); b != "" {
			reason += ": " + b
		}
		return nil, c.fail(key, reason, resp.StatusCode, nil)
	}

	var payload statsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&payload); err != nil {
		return nil, c.fail(key, "malformed response", 0, err)
	}
	if payload.Data == nil {
		return nil, c.fail(key, "empty payload", 0, nil)
	}
	return payload.Data.toSnapshot(key, c.config.Name, c.config.MaxComparables), nil
}

func (c *Client) fail(key marketdata.Key, reason string, status int, err error) *FetchError {
	return &FetchError{Provider: c.config.Name, Key: key, StatusCode: status, Reason: reason, Err: err}
}
