package observ

import (
	"encoding/json"
	"maps"
	"net/http"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// Package-level registry. Series are keyed by metric name, then by the
// label set rendered with labelKey.
type registry struct {
	mu       sync.Mutex
	counters map[string]map[string]int64
	gauges   map[string]map[string]float64
	hist     map[string]map[string][]float64
}

// maxSamples bounds each histogram series; older samples are dropped first.
const maxSamples = 1000

var reg = newRegistry()

func newRegistry() *registry {
	return &registry{
		counters: map[string]map[string]int64{},
		gauges:   map[string]map[string]float64{},
		hist:     map[string]map[string][]float64{},
	}
}

// labelKey renders labels as "k1=v1,k2=v2" in key order.
func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(labels))
	for _, k := range slices.Sorted(maps.Keys(labels)) {
		pairs = append(pairs, k+"="+labels[k])
	}
	return strings.Join(pairs, ",")
}

// seriesFor returns the label-keyed series for name, creating it on first use.
// Callers hold reg.mu.
func seriesFor[V any](family map[string]map[string]V, name string) map[string]V {
	m, ok := family[name]
	if !ok {
		m = map[string]V{}
		family[name] = m
	}
	return m
}

func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1)
}

// IncCounterBy adds value, truncated to an integer, to the counter.
func IncCounterBy(name string, labels map[string]string, value float64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	seriesFor(reg.counters, name)[labelKey(labels)] += int64(value)
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	seriesFor(reg.gauges, name)[labelKey(labels)] = value
}

// Observe appends a histogram sample.
func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m := seriesFor(reg.hist, name)
	k := labelKey(labels)
	samples := append(m[k], value)
	if len(samples) > maxSamples {
		samples = samples[len(samples)-maxSamples:]
	}
	m[k] = samples
}

// RecordDuration observes duration in milliseconds under name + "_ms".
func RecordDuration(name string, duration time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(duration.Milliseconds()), labels)
}

// CounterValue sums a counter across every label set.
func CounterValue(name string) int64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return sumCounter(name)
}

func sumCounter(name string) int64 {
	var total int64
	for _, v := range reg.counters[name] {
		total += v
	}
	return total
}

// Reset clears every series. Tests use it to isolate assertions.
func Reset() {
	fresh := newRegistry()
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.counters = fresh.counters
	reg.gauges = fresh.gauges
	reg.hist = fresh.hist
}

// Summary holds the headline numbers for the market data pipeline.
type Summary struct {
	CacheHitRate        float64 `json:"cache_hit_rate"`
	ProviderSuccessRate float64 `json:"provider_success_rate"`
	ProviderLatencyP95  int64   `json:"provider_latency_p95_ms"`
	StaleServed         int64   `json:"stale_served"`
	RateLimited         int64   `json:"rate_limited"`
}

// Summarize computes the Summary from raw telemetry.
func Summarize() Summary {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var s Summary
	hits := sumCounter("marketdata_cache_hits_total")
	misses := sumCounter("marketdata_cache_misses_total")
	if hits+misses > 0 {
		s.CacheHitRate = float64(hits) / float64(hits+misses)
	}

	ok := sumCounter("provider_success_total")
	failed := sumCounter("provider_failure_total")
	if ok+failed > 0 {
		s.ProviderSuccessRate = float64(ok) / float64(ok+failed)
	}

	var all []float64
	for _, samples := range reg.hist["provider_fetch_duration_ms"] {
		all = append(all, samples...)
	}
	s.ProviderLatencyP95 = int64(percentile(all, 0.95))

	s.StaleServed = sumCounter("marketdata_stale_served_total")
	s.RateLimited = sumCounter("marketdata_rate_limited_total")
	return s
}

func percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Handler serves every series plus the Summary as JSON.
func Handler() http.Handler {
	type dump struct {
		Counters map[string]map[string]int64     `json:"counters"`
		Gauges   map[string]map[string]float64   `json:"gauges"`
		Hist     map[string]map[string][]float64 `json:"histograms"`
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		summary := Summarize()
		reg.mu.Lock()
		defer reg.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			dump
			Summary Summary `json:"summary"`
		}{dump{Counters: reg.counters, Gauges: reg.gauges, Hist: reg.hist}, summary})
	})
}
