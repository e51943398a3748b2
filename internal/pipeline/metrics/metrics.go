package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StepsExecuted tracks step executions per step and outcome
	StepsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichd_steps_executed_total",
			Help: "Total number of step executions",
		},
		[]string{"step", "outcome"},
	)

	// StepDuration tracks step execution latency
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "enrichd_step_duration_seconds",
			Help:    "Step execution latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	// StepsSkipped tracks steps short-circuited because the stored output
	// was already produced by the current version
	StepsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichd_steps_skipped_total",
			Help: "Total number of steps skipped as up to date",
		},
		[]string{"step"},
	)

	// RetriesScheduled tracks scheduled retries per step and failure type
	RetriesScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichd_retries_scheduled_total",
			Help: "Total number of retries scheduled",
		},
		[]string{"step", "failure_type"},
	)

	// DeadLettered tracks items moved to the dead-letter status
	DeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichd_dead_lettered_total",
			Help: "Total number of items dead-lettered",
		},
		[]string{"step", "reason"},
	)

	// WIPRejections tracks admissions refused by the work-in-progress guard
	WIPRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichd_wip_rejections_total",
			Help: "Total number of step admissions refused by the WIP guard",
		},
		[]string{"step"},
	)

	// SweepItems tracks retry-sweep outcomes
	SweepItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichd_sweep_items_total",
			Help: "Total number of due items handled by the retry sweep",
		},
		[]string{"outcome"},
	)

	// QueueDepth tracks the number of items per status
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "enrichd_queue_depth",
			Help: "Number of queue items per status",
		},
		[]string{"status"},
	)

	// RunsStarted tracks pipeline runs per trigger
	RunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichd_runs_started_total",
			Help: "Total number of pipeline runs started",
		},
		[]string{"trigger"},
	)

	// RunsCancelled tracks runs superseded by a newer run
	RunsCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "enrichd_runs_cancelled_total",
			Help: "Total number of pipeline runs cancelled by a newer run",
		},
	)

	// DBConnections tracks open database pool connections
	DBConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "enrichd_db_connections_open",
			Help: "Open database pool connections",
		},
	)
)
