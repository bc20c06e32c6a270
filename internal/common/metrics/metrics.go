// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)
)

var (
	ApplicationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loan_application_transitions_total",
			Help: "Lifecycle transitions applied, by event and resulting status",
		},
		[]string{"event", "status"},
	)

	OperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loan_operation_errors_total",
			Help: "Orchestrator operations that returned an error",
		},
		[]string{"operation", "error_code"},
	)

	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loan_provider_calls_total",
			Help: "Verification provider calls by outcome (ok, fallback)",
		},
		[]string{"operation", "outcome"},
	)

	ProviderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loan_provider_call_duration_seconds",
			Help:    "Verification provider latency including the retry",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)

	LockContention = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loan_lock_contention_total",
			Help: "Lock acquisitions that had to wait or gave up",
		},
		[]string{"backend", "result"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loan_http_requests_total",
			Help: "HTTP requests served by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loan_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loan_notifications_total",
			Help: "Notifications attempted by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)
)
