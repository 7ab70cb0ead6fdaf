// Package metrics exposes Prometheus collectors for the crawlguard service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	workerRestartsTotal       *prometheus.CounterVec
	workersRunning            prometheus.Gauge
	probeAttemptFailuresTotal *prometheus.CounterVec
	probeUnhealthyTotal       *prometheus.CounterVec
	backlogWaitingJobs        prometheus.Gauge
	backlogAlertsTotal        *prometheus.CounterVec
	lifecycleDroppedTotal     *prometheus.CounterVec
	lifecyclePersistFailures  prometheus.Counter
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDuration       *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		workerRestartsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlguard_worker_restarts_total",
				Help: "Total worker process replacements, labeled by exit cause.",
			},
			[]string{"cause"},
		)

		workersRunning = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawlguard_workers_running",
				Help: "Number of worker processes currently alive in the pool.",
			},
		)

		probeAttemptFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlguard_probe_attempt_failures_total",
				Help: "Failed store probe attempts, labeled by target and operation.",
			},
			[]string{"target", "op"},
		)

		probeUnhealthyTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlguard_probe_unhealthy_total",
				Help: "Probe calls that concluded unhealthy, labeled by target.",
			},
			[]string{"target"},
		)

		backlogWaitingJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawlguard_backlog_waiting_jobs",
				Help: "Waiting jobs observed at the most recent backlog sample.",
			},
		)

		backlogAlertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlguard_backlog_alerts_total",
				Help: "Backlog alert outcomes, labeled by result (sent, failed, cleared).",
			},
			[]string{"result"},
		)

		lifecycleDroppedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlguard_lifecycle_events_dropped_total",
				Help: "Lifecycle events dropped on hub overflow, labeled by kind.",
			},
			[]string{"kind"},
		)

		lifecyclePersistFailures = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawlguard_lifecycle_persist_failures_total",
				Help: "Lifecycle events whose sink delivery failed.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveWorkerRestart increments the restart counter for the given cause.
func ObserveWorkerRestart(cause string) {
	if workerRestartsTotal != nil {
		workerRestartsTotal.WithLabelValues(cause).Inc()
	}
}

// SetWorkersRunning records the current live pool size.
func SetWorkersRunning(n int) {
	if workersRunning != nil {
		workersRunning.Set(float64(n))
	}
}

// ObserveProbeAttemptFailure counts one failed probe attempt.
func ObserveProbeAttemptFailure(target, op string) {
	if probeAttemptFailuresTotal != nil {
		probeAttemptFailuresTotal.WithLabelValues(target, op).Inc()
	}
}

// ObserveProbeUnhealthy counts one unhealthy probe conclusion.
func ObserveProbeUnhealthy(target string) {
	if probeUnhealthyTotal != nil {
		probeUnhealthyTotal.WithLabelValues(target).Inc()
	}
}

// SetBacklogWaiting records the latest waiting-job sample.
func SetBacklogWaiting(n int64) {
	if backlogWaitingJobs != nil {
		backlogWaitingJobs.Set(float64(n))
	}
}

// ObserveBacklogAlert counts one alert outcome (sent, failed, cleared).
func ObserveBacklogAlert(result string) {
	if backlogAlertsTotal != nil {
		backlogAlertsTotal.WithLabelValues(result).Inc()
	}
}

// ObserveEventDropped counts one lifecycle event lost to hub overflow.
func ObserveEventDropped(kind string) {
	if lifecycleDroppedTotal != nil {
		lifecycleDroppedTotal.WithLabelValues(kind).Inc()
	}
}

// ObserveEventPersistFailure counts events in a batch whose sink failed.
func ObserveEventPersistFailure(n int) {
	if lifecyclePersistFailures != nil {
		lifecyclePersistFailures.Add(float64(n))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
