package metrics

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sample is one observed request or delivery attempt.
type Sample struct {
	At         time.Time
	Latency    time.Duration
	Err        bool
	StatusCode int
}

// Stats summarizes one id's rolling window.
type Stats struct {
	Count        int     `json:"count"`
	ErrorCount   int     `json:"error_count"`
	ErrorRatePct float64 `json:"error_rate_pct"`
	P50LatencyMs float64 `json:"p50_latency_ms"`
	P95LatencyMs float64 `json:"p95_latency_ms"`
	P99LatencyMs float64 `json:"p99_latency_ms"`
	// PerMinute is throughput normalized over the window.
	PerMinute float64 `json:"per_minute"`
}

// Aggregator keeps a rolling window of samples per id. Ids are free-form;
// the hub uses "route:<id>" and "subscription:<id>". Old samples are pruned
// lazily on read and in bulk by Sweep.
type Aggregator struct {
	window time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	samples map[string][]Sample
}

func NewAggregator(window time.Duration, logger *zap.Logger) *Aggregator {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Aggregator{
		window:  window,
		logger:  logger,
		now:     time.Now,
		samples: make(map[string][]Sample),
	}
}

// SetNowFunc replaces the clock. Tests use it to advance time without
// sleeping.
func (a *Aggregator) SetNowFunc(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = now
}

// Record appends a sample to the id's window. A zero At is stamped with
// the current time.
func (a *Aggregator) Record(id string, s Sample) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s.At.IsZero() {
		s.At = a.now()
	}
	a.samples[id] = append(a.samples[id], s)
}

// Snapshot computes the id's current window statistics.
func (a *Aggregator) Snapshot(id string) Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	kept := a.pruneLocked(id)
	stats := Stats{Count: len(kept)}
	if stats.Count == 0 {
		return stats
	}

	latencies := make([]float64, 0, len(kept))
	for _, s := range kept {
		if s.Err {
			stats.ErrorCount++
		}
		latencies = append(latencies, float64(s.Latency.Microseconds())/1000.0)
	}
	sort.Float64s(latencies)

	stats.ErrorRatePct = float64(stats.ErrorCount) / float64(stats.Count) * 100
	stats.P50LatencyMs = percentile(latencies, 50)
	stats.P95LatencyMs = percentile(latencies, 95)
	stats.P99LatencyMs = percentile(latencies, 99)
	stats.PerMinute = float64(stats.Count) / a.window.Minutes()
	return stats
}

// IDs lists every id with at least one live sample.
func (a *Aggregator) IDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.samples))
	for id := range a.samples {
		if len(a.pruneLocked(id)) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Sweep prunes every id and drops empty ones. Wired to the scheduler so
// idle ids do not pin their sample slices forever.
func (a *Aggregator) Sweep() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id := range a.samples {
		if len(a.pruneLocked(id)) == 0 {
			delete(a.samples, id)
		}
	}
}

// pruneLocked drops samples older than the window. Callers hold a.mu.
func (a *Aggregator) pruneLocked(id string) []Sample {
	samples := a.samples[id]
	if len(samples) == 0 {
		return samples
	}
	cutoff := a.now().Add(-a.window)
	start := 0
	for start < len(samples) && samples[start].At.Before(cutoff) {
		start++
	}
	if start > 0 {
		samples = append(samples[:0:0], samples[start:]...)
		a.samples[id] = samples
	}
	return samples
}

// percentile expects sorted input and uses the nearest-rank method.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p/100*float64(len(sorted))+0.9999999) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
