package observ

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	IncCounter("lookups_total", map[string]string{"source": "cache"})
	IncCounter("lookups_total", map[string]string{"source": "store"})
	IncCounterBy("lookups_total", map[string]string{"source": "cache"}, 3)

	assert.Equal(t, int64(5), CounterValue("lookups_total"))
	assert.Zero(t, CounterValue("missing_total"))

	Reset()
	assert.Zero(t, CounterValue("lookups_total"))
}

func TestLabelKey_StableOrder(t *testing.T) {
	a := labelKey(map[string]string{"b": "2", "a": "1"})
	b := labelKey(map[string]string{"a": "1", "b": "2"})
	assert.Equal(t, "a=1,b=2", a)
	assert.Equal(t, a, b)
	assert.Empty(t, labelKey(nil))
}

func TestObserve_BoundsSamples(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	for i := 0; i < maxSamples+50; i++ {
		Observe("latency_ms", float64(i), nil)
	}
	reg.mu.Lock()
	samples := reg.hist["latency_ms"][""]
	reg.mu.Unlock()

	require.Len(t, samples, maxSamples)
	assert.Equal(t, float64(50), samples[0])
}

func TestSummarize(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	IncCounterBy("marketdata_cache_hits_total", nil, 3)
	IncCounter("marketdata_cache_misses_total", nil)
	IncCounterBy("provider_success_total", nil, 9)
	IncCounter("provider_failure_total", nil)
	IncCounterBy("marketdata_stale_served_total", nil, 2)
	IncCounter("marketdata_rate_limited_total", nil)
	for i := 1; i <= 100; i++ {
		RecordDuration("provider_fetch_duration", time.Duration(i)*time.Millisecond, map[string]string{"provider": "stub"})
	}

	s := Summarize()
	assert.InDelta(t, 0.75, s.CacheHitRate, 1e-9)
	assert.InDelta(t, 0.9, s.ProviderSuccessRate, 1e-9)
	assert.Equal(t, int64(96), s.ProviderLatencyP95)
	assert.Equal(t, int64(2), s.StaleServed)
	assert.Equal(t, int64(1), s.RateLimited)
}

func TestSummarize_Empty(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	assert.Equal(t, Summary{}, Summarize())
}

func TestHandler(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	IncCounter("marketdata_cache_hits_total", nil)
	SetGauge("breaker_open", 1, map[string]string{"name": "stub"})

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Counters map[string]map[string]int64   `json:"counters"`
		Gauges   map[string]map[string]float64 `json:"gauges"`
		Summary  Summary                       `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.Counters["marketdata_cache_hits_total"][""])
	assert.Equal(t, float64(1), body.Gauges["breaker_open"]["name=stub"])
	assert.Equal(t, float64(1), body.Summary.CacheHitRate)
}

func TestConfigure_JSON(t *testing.T) {
	prev := Logger()
	t.Cleanup(func() {
		loggerMu.Lock()
		logger = prev
		loggerMu.Unlock()
	})

	var buf bytes.Buffer
	Configure(&buf, "debug", "json")
	Log("cache_miss", map[string]any{"key": "cape town|house|12m"})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "cache_miss", line["msg"])
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "cape town|house|12m", line["key"])
	assert.Contains(t, line, "ts")
}

func TestConfigure_LevelFilters(t *testing.T) {
	prev := Logger()
	t.Cleanup(func() {
		loggerMu.Lock()
		logger = prev
		loggerMu.Unlock()
	})

	var buf bytes.Buffer
	Configure(&buf, "warn", "text")
	Log("dropped", nil)
	assert.Zero(t, buf.Len())

	Warn("kept", map[string]any{"n": 1})
	assert.Contains(t, buf.String(), "kept")

	Configure(&buf, "bogus", "json")
	assert.Equal(t, "info", Logger().GetLevel().String())
}
