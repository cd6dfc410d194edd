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

	FactsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_facts_recorded_total",
			Help: "Notification facts persisted by the event sink",
		},
		[]string{"type", "subtype"},
	)

	FactsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_facts_skipped_total",
			Help: "Unhandled facts left in place by collation",
		},
		[]string{"type", "reason"},
	)

	GroupsCollated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_groups_collated_total",
			Help: "Email groups produced by collation",
		},
		[]string{"type"},
	)

	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_emails_sent_total",
			Help: "Per-recipient sends accepted by the transport",
		},
		[]string{"provider"},
	)

	EmailsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_emails_failed_total",
			Help: "Per-recipient sends rejected by the transport",
		},
		[]string{"provider"},
	)

	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_pipeline_runs_total",
			Help: "Pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	PipelineRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notification_pipeline_run_duration_seconds",
			Help:    "Duration of a full pipeline run",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
)
