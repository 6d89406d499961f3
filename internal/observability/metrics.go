// Package observability exposes the dispatcher's Prometheus metrics,
// grounded on the teacher's observability/metrics.go: one promauto
// declaration per signal, grouped by subsystem.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks pending tasks by urgency.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dispatch_queue_depth",
		Help: "Current number of tasks waiting for a worker, by urgency",
	}, []string{"urgency"})

	// QueueOldestTaskAge tracks the age of the oldest queued task.
	QueueOldestTaskAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_queue_oldest_task_age_seconds",
		Help: "Age in seconds of the oldest task currently in the queue",
	})

	// SchedulerMode tracks which queue-selection mode fetch_task resolved
	// to on its most recent call, one gauge per mode held at 0/1.
	SchedulerMode = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dispatch_scheduler_mode",
		Help: "Queue selection mode most recently used by fetch_task (1=active)",
	}, []string{"mode"})

	// TaskOutcomes tracks terminal task states.
	TaskOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_task_outcomes_total",
		Help: "Tasks reaching a terminal state, by outcome",
	}, []string{"outcome"}) // fulfilled, timeout, failed, cancelled

	// TaskRetries tracks tasks that were re-queued after a claim expired.
	TaskRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_task_retries_total",
		Help: "Total number of tasks re-queued after their first claim expired",
	})

	// TaskWaitSeconds tracks how long a task sat in the queue before being
	// claimed by a worker.
	TaskWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_task_wait_seconds",
		Help:    "Time a task spent queued before a worker claimed it",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7min
	})

	// TempBansIssued tracks temp-bans applied to workers for timing out a
	// retried claim.
	TempBansIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_temp_bans_issued_total",
		Help: "Total number of worker accounts placed under a temporary ban",
	})

	// RateLimited tracks fetch_task/submit_result/chat_completions calls
	// rejected by the per-credential token bucket.
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_rate_limited_total",
		Help: "Requests rejected by per-credential rate limiting",
	}, []string{"endpoint"})

	// AuthFailures tracks credential validation failures, by reason.
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_auth_failures_total",
		Help: "Credential validation failures, by reason",
	}, []string{"reason"}) // malformed, unknown_user, bad_secret, banned, temp_banned

	// ConnectedWorkers tracks workers currently holding an open
	// notification websocket.
	ConnectedWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_connected_workers",
		Help: "Current number of workers connected to the wake-up notification hub",
	})

	// IdempotencyReplays tracks submit_result calls served from the
	// idempotency cache instead of re-executed.
	IdempotencyReplays = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_idempotency_replays_total",
		Help: "submit_result calls answered from the idempotency cache",
	})

	// ModelVerificationFailures tracks model registrations rejected
	// because declared metadata didn't match the registry entry.
	ModelVerificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_model_verification_failures_total",
		Help: "fetch_task responses whose declared model metadata failed verification",
	}, []string{"model"})
)
