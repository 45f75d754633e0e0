package flow

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusMetrics(t *testing.T) {
	t.Run("counters and gauges record", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		pm := NewPrometheusMetrics(registry)

		pm.IncrementRetries("job-1", "transform", "transient")
		pm.IncrementRetries("job-1", "transform", "transient")
		pm.IncrementGateFailures("job-1", "first_pass")
		pm.IncrementRemediations("job-1", "passed")
		pm.IncrementCheckpoints("job-1")
		pm.UpdateInflightUnits(3)
		pm.RecordStageLatency("job-1", "transform", 250*time.Millisecond, "success")

		if got := testutil.ToFloat64(pm.retries.WithLabelValues("job-1", "transform", "transient")); got != 2 {
			t.Errorf("retries = %v", got)
		}
		if got := testutil.ToFloat64(pm.gateFailures.WithLabelValues("job-1", "first_pass")); got != 1 {
			t.Errorf("gate failures = %v", got)
		}
		if got := testutil.ToFloat64(pm.remediations.WithLabelValues("job-1", "passed")); got != 1 {
			t.Errorf("remediations = %v", got)
		}
		if got := testutil.ToFloat64(pm.checkpoints.WithLabelValues("job-1")); got != 1 {
			t.Errorf("checkpoints = %v", got)
		}
		if got := testutil.ToFloat64(pm.inflightUnits); got != 3 {
			t.Errorf("inflight = %v", got)
		}
		if got := testutil.CollectAndCount(pm.stageLatency); got != 1 {
			t.Errorf("latency series = %d", got)
		}
	})

	t.Run("nil receiver is safe", func(t *testing.T) {
		var pm *PrometheusMetrics
		pm.IncrementRetries("job-1", "transform", "transient")
		pm.IncrementGateFailures("job-1", "final")
		pm.IncrementRemediations("job-1", "failed")
		pm.IncrementCheckpoints("job-1")
		pm.UpdateInflightUnits(1)
		pm.RecordStageLatency("job-1", "split", time.Millisecond, "success")
	})
}
