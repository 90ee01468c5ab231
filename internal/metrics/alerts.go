package metrics

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/CleanExpo/zenith-integration-hub/internal/models"
)

// Health levels, ordered from best to worst.
const (
	LevelHealthy  = "healthy"
	LevelWarning  = "warning"
	LevelCritical = "critical"
)

// Alert reports one threshold breach for one id.
type Alert struct {
	ID        string  `json:"id"`
	Kind      string  `json:"kind"`
	Level     string  `json:"level"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Message   string  `json:"message"`
}

// EvaluateAlerts compares a stats snapshot against thresholds. Pure: no
// clock, no state. Zero-valued thresholds are skipped. Error rate breaches
// are critical; latency and throughput breaches are warnings.
func EvaluateAlerts(id string, stats Stats, t models.AlertThresholds) []Alert {
	var alerts []Alert
	if stats.Count == 0 {
		return alerts
	}

	if t.ErrorRatePct > 0 && stats.ErrorRatePct > t.ErrorRatePct {
		alerts = append(alerts, Alert{
			ID: id, Kind: "error_rate", Level: LevelCritical,
			Value: stats.ErrorRatePct, Threshold: t.ErrorRatePct,
			Message: fmt.Sprintf("error rate %.1f%% exceeds %.1f%%", stats.ErrorRatePct, t.ErrorRatePct),
		})
	}
	if t.P99LatencyMs > 0 && stats.P99LatencyMs > t.P99LatencyMs {
		alerts = append(alerts, Alert{
			ID: id, Kind: "latency_p99", Level: LevelWarning,
			Value: stats.P99LatencyMs, Threshold: t.P99LatencyMs,
			Message: fmt.Sprintf("p99 latency %.1fms exceeds %.1fms", stats.P99LatencyMs, t.P99LatencyMs),
		})
	}
	if t.MinThroughputPerMin > 0 && stats.PerMinute < t.MinThroughputPerMin {
		alerts = append(alerts, Alert{
			ID: id, Kind: "throughput", Level: LevelWarning,
			Value: stats.PerMinute, Threshold: t.MinThroughputPerMin,
			Message: fmt.Sprintf("throughput %.1f/min below %.1f/min", stats.PerMinute, t.MinThroughputPerMin),
		})
	}
	return alerts
}

// ThresholdResolver maps a metric id to the thresholds that govern it.
// Returning false means the id is not monitored.
type ThresholdResolver func(id string) (models.AlertThresholds, bool)

// Watcher periodically evaluates every live id and logs level transitions.
// It also answers the health endpoint's aggregated status.
type Watcher struct {
	agg     *Aggregator
	resolve ThresholdResolver
	logger  *zap.Logger

	mu   sync.Mutex
	last map[string]string
}

func NewWatcher(agg *Aggregator, resolve ThresholdResolver, logger *zap.Logger) *Watcher {
	return &Watcher{agg: agg, resolve: resolve, logger: logger, last: make(map[string]string)}
}

// Evaluate runs one pass over all live ids and returns the active alerts.
func (w *Watcher) Evaluate() []Alert {
	var all []Alert
	for _, id := range w.agg.IDs() {
		thresholds, ok := w.resolve(id)
		if !ok {
			continue
		}
		all = append(all, EvaluateAlerts(id, w.agg.Snapshot(id), thresholds)...)
	}
	return all
}

// Run is the scheduler tick: evaluate everything and log ids whose level
// changed since the last pass.
func (w *Watcher) Run() {
	alerts := w.Evaluate()

	levels := make(map[string]string)
	for _, a := range alerts {
		if worse(a.Level, levels[a.ID]) {
			levels[a.ID] = a.Level
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for id, level := range levels {
		if w.last[id] != level {
			w.logger.Warn("Metric id changed alert level",
				zap.String("id", id),
				zap.String("from", orHealthy(w.last[id])),
				zap.String("to", level),
			)
			w.last[id] = level
		}
	}
	for id, prev := range w.last {
		if _, still := levels[id]; !still && prev != LevelHealthy {
			w.logger.Info("Metric id recovered",
				zap.String("id", id),
				zap.String("from", prev),
			)
			delete(w.last, id)
		}
	}
}

// OverallLevel folds the worst active alert level across all ids.
func (w *Watcher) OverallLevel() string {
	level := LevelHealthy
	for _, a := range w.Evaluate() {
		if worse(a.Level, level) {
			level = a.Level
		}
	}
	return level
}

func worse(a, b string) bool {
	return rank(a) > rank(b)
}

func rank(level string) int {
	switch level {
	case LevelCritical:
		return 2
	case LevelWarning:
		return 1
	default:
		return 0
	}
}

func orHealthy(level string) string {
	if level == "" {
		return LevelHealthy
	}
	return level
}
