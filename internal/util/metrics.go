package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders committed",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed order creations",
	}, []string{"reason"})

	OrdersConfirmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_confirmed_total",
		Help: "Total number of orders accepted by a vendor",
	})

	OrdersDelayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_delayed_total",
		Help: "Total number of orders delayed after exhausting reassignment",
	})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	ReassignmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reassignments_total",
		Help: "Total number of vendor reassignments",
	}, []string{"trigger"})

	MatchConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_match_confidence",
		Help:    "Confidence of fuzzy catalog matches",
		Buckets: []float64{0.6, 0.7, 0.8, 0.9, 0.95, 1.0},
	})

	UnmatchedTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_unmatched_tokens_total",
		Help: "Total number of tokens that failed to match the catalog",
	})

	CommitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "order_commit_latency_seconds",
		Help:    "Latency of the atomic order commit transaction",
		Buckets: prometheus.DefBuckets,
	})

	CommitRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_commit_retries_total",
		Help: "Total number of commit retries after concurrent modification",
	})

	SweepLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "assignment_sweep_latency_seconds",
		Help:    "Latency of the timeout sweep",
		Buckets: prometheus.DefBuckets,
	})

	AssignmentsTimedOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assignments_timed_out_total",
		Help: "Total number of assignments expired by the sweep",
	})

	JobsEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_enqueued_total",
		Help: "Total number of jobs enqueued",
	}, []string{"queue"})

	JobsSucceededTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_succeeded_total",
		Help: "Total number of jobs handled successfully",
	}, []string{"queue"})

	JobsRetriedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_retried_total",
		Help: "Total number of job retries scheduled",
	}, []string{"queue"})

	JobsDeadLetteredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_dead_lettered_total",
		Help: "Total number of jobs moved to the dead letter store",
	}, []string{"queue"})

	JobsRecoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_jobs_recovered_total",
		Help: "Total number of stalled RUNNING jobs recovered by the monitor",
	})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "queue_job_duration_seconds",
		Help:    "Handler execution time per queue",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
