package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StageRunsTotal counts stage executions by terminal result.
	StageRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_stage_runs_total",
		Help: "Total number of stage executions by result",
	}, []string{"stage", "result"})

	// StageSkipsTotal counts stages skipped because their checkpoint was
	// still fresh.
	StageSkipsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_stage_skips_total",
		Help: "Total number of stage runs skipped on a fresh checkpoint",
	}, []string{"stage"})

	// StageDurationSeconds observes wall time of completed stage runs.
	StageDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Duration of completed stage runs",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"stage"})

	// TaskErrorsTotal counts failed scheduler task iterations.
	TaskErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_task_errors_total",
		Help: "Total number of failed scheduled task iterations",
	}, []string{"task"})
)
