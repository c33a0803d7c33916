package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	if err := vec.WithLabelValues(labels...).Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	if err := vec.WithLabelValues(labels...).Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestSetQueueDepth(t *testing.T) {
	c := New(prometheus.NewRegistry())
	c.SetQueueDepth("default", "QUEUED", 3)
	if got := gaugeValue(t, c.QueueDepth, "default", "QUEUED"); got != 3 {
		t.Fatalf("expected 3, got %v", got)
	}
}

func TestIncRetryAccumulates(t *testing.T) {
	c := New(prometheus.NewRegistry())
	c.IncRetry("default", "TIMEOUT")
	c.IncRetry("default", "TIMEOUT")
	if got := counterValue(t, c.RetryCount, "default", "TIMEOUT"); got != 2 {
		t.Fatalf("expected 2, got %v", got)
	}
}

func TestIncRestartLabelsBySuccess(t *testing.T) {
	c := New(prometheus.NewRegistry())
	c.IncRestart("default", true)
	c.IncRestart("default", false)
	if got := counterValue(t, c.RestartCount, "default", "true"); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
	if got := counterValue(t, c.RestartCount, "default", "false"); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
}

func TestNilCollectorMethodsAreNoops(t *testing.T) {
	var c *Collector
	c.SetQueueDepth("default", "QUEUED", 1)
	c.IncRetry("default", "TIMEOUT")
	c.IncRestart("default", true)
	c.ObserveClaim("default", 1.5)
	c.SetDroppedEvents("default", 4)
}
