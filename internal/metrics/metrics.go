// Package metrics exposes the runner's Prometheus instrumentation: queue
// depth, claim latency, retry counts, and restart counts, scraped at
// /metrics (spec §6 DOMAIN STACK: prometheus/client_golang, declared in the
// teacher's go.mod but unexercised there).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the runner's metric vectors, labeled by namespace so a
// single process serving several dispatcher namespaces reports them
// separately.
type Collector struct {
	QueueDepth    *prometheus.GaugeVec
	ClaimLatency  *prometheus.HistogramVec
	RetryCount    *prometheus.CounterVec
	RestartCount  *prometheus.CounterVec
	DroppedEvents *prometheus.GaugeVec
}

// New registers the runner's metrics with reg. Pass prometheus.NewRegistry()
// for isolated tests, or prometheus.DefaultRegisterer for the process-wide
// /metrics endpoint.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "runner_queue_depth",
			Help: "Number of tasks currently in each status, per namespace.",
		}, []string{"namespace", "status"}),
		ClaimLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "runner_claim_latency_seconds",
			Help:    "Time from task enqueue to dispatcher claim.",
			Buckets: prometheus.DefBuckets,
		}, []string{"namespace"}),
		RetryCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "runner_retry_total",
			Help: "Retry decisions made by the retry engine, by failure type.",
		}, []string{"namespace", "failure_type"}),
		RestartCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "runner_supervisor_restart_total",
			Help: "Executor process restarts performed by the supervisor.",
		}, []string{"namespace", "success"}),
		DroppedEvents: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "runner_stream_dropped_events_total",
			Help: "Cumulative output chunks dropped due to a slow SSE subscriber, per namespace.",
		}, []string{"namespace"}),
	}
}

// ObserveClaim records the queue time of one claimed task.
func (c *Collector) ObserveClaim(namespace string, seconds float64) {
	if c == nil {
		return
	}
	c.ClaimLatency.WithLabelValues(namespace).Observe(seconds)
}

// SetQueueDepth records the current count of tasks in status for namespace.
func (c *Collector) SetQueueDepth(namespace, status string, count int) {
	if c == nil {
		return
	}
	c.QueueDepth.WithLabelValues(namespace, status).Set(float64(count))
}

// IncRetry records one retry decision for failureType.
func (c *Collector) IncRetry(namespace, failureType string) {
	if c == nil {
		return
	}
	c.RetryCount.WithLabelValues(namespace, failureType).Inc()
}

// IncRestart records one supervisor restart attempt.
func (c *Collector) IncRestart(namespace string, success bool) {
	if c == nil {
		return
	}
	c.RestartCount.WithLabelValues(namespace, successLabel(success)).Inc()
}

// SetDroppedEvents mirrors the broadcaster's cumulative dropped-event count.
func (c *Collector) SetDroppedEvents(namespace string, total int64) {
	if c == nil {
		return
	}
	c.DroppedEvents.WithLabelValues(namespace).Set(float64(total))
}

func successLabel(success bool) string {
	if success {
		return "true"
	}
	return "false"
}
