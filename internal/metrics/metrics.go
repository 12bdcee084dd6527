// Package metrics defines the Prometheus collectors exported by the bot.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NotificationsEnqueued counts enqueue attempts by result (created, duplicate).
	NotificationsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_enqueued_total",
			Help: "Notifications offered to the outbox, by result",
		},
		[]string{"result"},
	)

	NotificationsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_delivered_total",
			Help: "Notifications delivered and marked sent, by delivery method",
		},
		[]string{"method"},
	)

	DeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_failures_total",
			Help: "Failed delivery attempts, by delivery method and reason",
		},
		[]string{"method", "reason"},
	)

	DeliveryFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_fallbacks_total",
			Help: "Recipients switched from direct messages to a private channel",
		},
	)

	// JobRuns counts scheduler ticks by outcome (ok, error, skipped).
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_job_runs_total",
			Help: "Scheduler ticks, by job and outcome",
		},
		[]string{"job", "outcome"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_job_duration_seconds",
			Help:    "Duration of executed scheduler ticks",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"job"},
	)
)

// RecordJobRun records the outcome and, for executed ticks, the duration of a job run.
func RecordJobRun(job, outcome string, took time.Duration) {
	JobRuns.WithLabelValues(job, outcome).Inc()
	if outcome != "skipped" {
		JobDuration.WithLabelValues(job).Observe(took.Seconds())
	}
}
