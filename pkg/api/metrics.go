package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics instruments analysis runs. Each server owns its registry so
// multiple servers in one process never collide.
type Metrics struct {
	registry *prometheus.Registry

	RunsStarted   prometheus.Counter
	RunsCompleted prometheus.Counter
	RunsFailed    prometheus.Counter
	Progress      prometheus.Gauge

	FlaggedCandidates  prometheus.Counter
	ExcludedCandidates prometheus.Counter
	StageDuration      *prometheus.HistogramVec
}

// NewMetrics builds the instrument set on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipeguard_runs_started_total",
			Help: "Analysis runs accepted.",
		}),
		RunsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipeguard_runs_completed_total",
			Help: "Analysis runs finished successfully.",
		}),
		RunsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipeguard_runs_failed_total",
			Help: "Analysis runs ended in an error state.",
		}),
		Progress: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pipeguard_run_progress_percent",
			Help: "Progress of the current analysis run.",
		}),
		FlaggedCandidates: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipeguard_flagged_candidates_total",
			Help: "Windows flagged anomalous by the boundary classifier.",
		}),
		ExcludedCandidates: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipeguard_excluded_candidates_total",
			Help: "Flagged windows reclassified as false anomalies.",
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeguard_stage_duration_seconds",
			Help:    "Wall time per analysis stage.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
	}
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
