package domain

import "time"

// RunTrigger records what started a pipeline run.
type RunTrigger string

const (
	TriggerAutomatic RunTrigger = "automatic"
	TriggerManual    RunTrigger = "manual"
	TriggerReenrich  RunTrigger = "reenrich"
	TriggerRetry     RunTrigger = "retry"
)

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCancelled RunStatus = "cancelled"
)

// PipelineRun is one logical attempt to drive an item through some or all
// pipeline stages. At most one run per item may be running at any time;
// starting a new run first cancels any prior running run, so a duplicate
// worker invocation is logically superseded rather than raced.
type PipelineRun struct {
	ID          string     `db:"id"`
	QueueItemID string     `db:"queue_item_id"`
	Trigger     RunTrigger `db:"trigger"`
	Status      RunStatus  `db:"status"`
	StartedStep string     `db:"started_step"`
	CreatedAt   time.Time  `db:"created_at"`
	CompletedAt *time.Time `db:"completed_at"`
}
