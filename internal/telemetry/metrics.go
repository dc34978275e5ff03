// Package telemetry exposes Prometheus metrics for the sync pipeline.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_jobs_enqueued_total", Help: "Jobs added to the queue"}, []string{"type"})
	JobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_jobs_completed_total", Help: "Jobs completed successfully"}, []string{"type"})
	JobsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_jobs_failed_total", Help: "Jobs that exhausted retries or failed permanently"}, []string{"type"})
	JobsRetried = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_jobs_retried_total", Help: "Jobs requeued for retry"}, []string{"type"})
	JobsReclaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_jobs_reclaimed_total", Help: "Stale running jobs returned to pending"})
	JobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sync_jobs_inflight", Help: "Jobs currently claimed by workers"})

	UpstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_upstream_requests_total", Help: "Upstream API requests by endpoint and outcome"},
		[]string{"endpoint", "outcome"})
	UpstreamLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sync_upstream_request_seconds",
		Help:    "Upstream API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_rate_limit_rejects_total", Help: "Requests rejected by the local quota tracker"})
	CircuitOpenRejects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_circuit_open_rejects_total", Help: "Requests failed fast by the circuit breaker"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsEnqueued,
			JobsCompleted,
			JobsFailed,
			JobsRetried,
			JobsReclaimed,
			JobsInFlight,
			UpstreamRequests,
			UpstreamLatency,
			RateLimitRejects,
			CircuitOpenRejects,
		)
	})
	return promhttp.Handler()
}
