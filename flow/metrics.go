package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects pipeline execution metrics.
//
// Metrics exposed (all namespaced with "bookflow_"):
//
//   - inflight_units (gauge): work units currently being processed.
//   - stage_latency_ms (histogram): stage duration, labeled by job, stage,
//     and status.
//   - retries_total (counter): external-call retry attempts.
//   - gate_failures_total (counter): quality gate failures, labeled by
//     whether the verdict was first-pass or final.
//   - remediations_total (counter): remediation attempts by outcome.
//   - checkpoints_total (counter): checkpoint saves per job.
//
// Expose via HTTP for scraping:
//
//	registry := prometheus.NewRegistry()
//	metrics := flow.NewPrometheusMetrics(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type PrometheusMetrics struct {
	inflightUnits prometheus.Gauge
	stageLatency  *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	gateFailures  *prometheus.CounterVec
	remediations  *prometheus.CounterVec
	checkpoints   *prometheus.CounterVec
}

// NewPrometheusMetrics creates and registers all pipeline metrics with the
// given registry. A nil registry falls back to the global default.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		inflightUnits: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bookflow",
			Name:      "inflight_units",
			Help:      "Work units currently being processed concurrently",
		}),
		stageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bookflow",
			Name:      "stage_latency_ms",
			Help:      "Stage execution duration in milliseconds",
			Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 10000, 60000, 300000},
		}, []string{"job_id", "stage", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookflow",
			Name:      "retries_total",
			Help:      "Cumulative external-call retry attempts",
		}, []string{"job_id", "stage", "reason"}),
		gateFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookflow",
			Name:      "gate_failures_total",
			Help:      "Quality gate failures by verdict kind",
		}, []string{"job_id", "verdict"}),
		remediations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookflow",
			Name:      "remediations_total",
			Help:      "Remediation attempts by outcome",
		}, []string{"job_id", "outcome"}),
		checkpoints: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookflow",
			Name:      "checkpoints_total",
			Help:      "Checkpoint saves per job",
		}, []string{"job_id"}),
	}
}

// RecordStageLatency records one stage execution duration.
// status is "success", "error", or "timeout".
func (pm *PrometheusMetrics) RecordStageLatency(jobID, stage string, latency time.Duration, status string) {
	if pm == nil {
		return
	}
	pm.stageLatency.WithLabelValues(jobID, stage, status).Observe(float64(latency.Milliseconds()))
}

// IncrementRetries counts one external-call retry.
// reason is "transient", "timeout", or "error".
func (pm *PrometheusMetrics) IncrementRetries(jobID, stage, reason string) {
	if pm == nil {
		return
	}
	pm.retries.WithLabelValues(jobID, stage, reason).Inc()
}

// IncrementGateFailures counts one gate failure.
// verdict is "first_pass" or "final".
func (pm *PrometheusMetrics) IncrementGateFailures(jobID, verdict string) {
	if pm == nil {
		return
	}
	pm.gateFailures.WithLabelValues(jobID, verdict).Inc()
}

// IncrementRemediations counts one remediation attempt.
// outcome is "passed" or "failed".
func (pm *PrometheusMetrics) IncrementRemediations(jobID, outcome string) {
	if pm == nil {
		return
	}
	pm.remediations.WithLabelValues(jobID, outcome).Inc()
}

// IncrementCheckpoints counts one checkpoint save.
func (pm *PrometheusMetrics) IncrementCheckpoints(jobID string) {
	if pm == nil {
		return
	}
	pm.checkpoints.WithLabelValues(jobID).Inc()
}

// UpdateInflightUnits sets the number of units currently in flight.
func (pm *PrometheusMetrics) UpdateInflightUnits(count int) {
	if pm == nil {
		return
	}
	pm.inflightUnits.Set(float64(count))
}
