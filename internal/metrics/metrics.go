// Package metrics exposes the Prometheus counters and histograms for a
// running snow process: round counts, tool-execution latency, stream
// retry counts, and snapshot-commit failures.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a process-wide collector registered against a single
// prometheus.Registerer so cmd/snow can serve it over /metrics on demand.
type Metrics struct {
	// RoundsTotal counts orchestrator LLM rounds, by outcome
	// (content|tool_calls|empty_retry).
	RoundsTotal *prometheus.CounterVec

	// ToolExecutionDuration measures dispatcher tool latency in seconds.
	// Labels: tool_name, status (success|error)
	ToolExecutionDuration *prometheus.HistogramVec

	// StreamRetriesTotal counts provider.StreamWithRetry attempts beyond
	// the first, by dialect.
	StreamRetriesTotal *prometheus.CounterVec

	// SnapshotCommitFailuresTotal counts failed snapshot commits (§7:
	// "logged, capped at 10 retries then force-cleared; never blocks the
	// turn").
	SnapshotCommitFailuresTotal prometheus.Counter

	// ContextWindowPercent tracks how full a session's context window was
	// at each auto-compression check.
	ContextWindowPercent prometheus.Histogram

	// CompressionsTotal counts completed context compressions, by trigger
	// (auto|manual).
	CompressionsTotal *prometheus.CounterVec
}

// New registers a fresh Metrics set against reg. Pass prometheus.NewRegistry()
// in tests to avoid colliding with the default global registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RoundsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "snow_orchestrator_rounds_total",
			Help: "LLM rounds processed by the conversation orchestrator.",
		}, []string{"outcome"}),
		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "snow_tool_execution_duration_seconds",
			Help:    "Tool dispatch latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool_name", "status"}),
		StreamRetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "snow_provider_stream_retries_total",
			Help: "Retry attempts taken by StreamWithRetry, by dialect.",
		}, []string{"dialect"}),
		SnapshotCommitFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "snow_snapshot_commit_failures_total",
			Help: "Snapshot commits that failed and were force-cleared.",
		}),
		ContextWindowPercent: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "snow_context_window_percent",
			Help:    "Context window utilization at each compression check.",
			Buckets: []float64{10, 25, 50, 70, 80, 90, 95, 100},
		}),
		CompressionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "snow_compressions_total",
			Help: "Completed context compressions, by trigger.",
		}, []string{"trigger"}),
	}
}

// ObserveToolDuration records one tool call's latency and outcome.
func (m *Metrics) ObserveToolDuration(toolName string, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolExecutionDuration.WithLabelValues(toolName, status).Observe(d.Seconds())
}

// ObserveRound records one orchestrator round's outcome.
func (m *Metrics) ObserveRound(outcome string) {
	if m == nil {
		return
	}
	m.RoundsTotal.WithLabelValues(outcome).Inc()
}
