// Package storage defines the repository contracts over the durable item
// store. All item mutations are conditional per-row updates: a writer states
// the status it believes the row is in, and a mismatch surfaces as
// ErrConflict instead of a silent lost update.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/curatorhq/enrichd/internal/core/domain"
	"github.com/curatorhq/enrichd/internal/pipeline/classify"
)

var (
	// ErrItemNotFound is returned when a queue item doesn't exist.
	ErrItemNotFound = errors.New("queue item not found")

	// ErrConflict is returned when a conditional update matched no row,
	// meaning a concurrent writer got there first.
	ErrConflict = errors.New("conditional update conflict")

	// ErrVersionNotFound is returned when a step has no active version row.
	ErrVersionNotFound = errors.New("step version not found")
)

// ItemRepository handles queue item persistence.
type ItemRepository interface {
	// Get retrieves an item by id.
	Get(ctx context.Context, id string) (*domain.QueueItem, error)

	// Insert creates a new item (used by seeding and tests; discovery is an
	// external collaborator).
	Insert(ctx context.Context, item *domain.QueueItem) error

	// FetchPending returns up to limit items awaiting enrichment (status
	// pending_enrichment, no backoff window), oldest discovered first.
	FetchPending(ctx context.Context, limit int) ([]*domain.QueueItem, error)

	// FetchDue returns up to limit items whose retry_after has elapsed,
	// earliest due first.
	FetchDue(ctx context.Context, now time.Time, limit int) ([]*domain.QueueItem, error)

	// CountByStatus returns the number of items at a status code.
	CountByStatus(ctx context.Context, code domain.StatusCode) (int, error)

	// Advance moves an item from one status to the next, clearing the
	// backoff window and failure diagnostics. Conditional on the item still
	// holding the from status; returns ErrConflict otherwise.
	Advance(ctx context.Context, id string, from, to domain.StatusCode) error

	// SetStatus applies a manual-override status change unconditionally,
	// clearing the backoff window so an overridden item is never swept.
	SetStatus(ctx context.Context, id string, to domain.StatusCode) error

	// SetPayload replaces the item payload.
	SetPayload(ctx context.Context, id string, payload domain.Payload) error

	// ScheduleRetry records a failed step and the future timestamp after
	// which the retry scheduler may pick the item up again.
	ScheduleRetry(ctx context.Context, id, step string, attempt int, retryAfter, failedAt time.Time, errMsg string) error

	// PrepareRetry clears the backoff window and bumps the attempt counter
	// just before a scheduled retry executes.
	PrepareRetry(ctx context.Context, id string, attempt int) error

	// DeadLetter moves an item to the dead-letter status, clearing the
	// backoff window and recording the terminal reason.
	DeadLetter(ctx context.Context, id, step, reason string, at time.Time) error

	// SetCurrentRun records the active pipeline run for an item.
	SetCurrentRun(ctx context.Context, id, runID string) error
}

// RunRepository handles pipeline run bookkeeping.
type RunRepository interface {
	// Create inserts a new run.
	Create(ctx context.Context, run *domain.PipelineRun) error

	// CancelRunning marks every running run for an item as cancelled and
	// returns how many were cancelled.
	CancelRunning(ctx context.Context, itemID string, at time.Time) (int, error)

	// Complete finishes a run with the given terminal status.
	Complete(ctx context.Context, runID string, status domain.RunStatus, at time.Time) error

	// ListByItem returns all runs for an item, newest first.
	ListByItem(ctx context.Context, itemID string) ([]*domain.PipelineRun, error)
}

// RetryPolicyRepository encapsulates the per-step retry policy. The postgres
// implementation delegates to the calculate_retry_after / should_retry_step
// SQL functions so policy tuning never requires redeploying the scheduler.
type RetryPolicyRepository interface {
	// ShouldRetry reports whether another attempt is allowed after attempt
	// completed attempts of the step.
	ShouldRetry(ctx context.Context, step string, attempt int) (bool, error)

	// NextRetryAt computes the timestamp before which the item must not be
	// retried.
	NextRetryAt(ctx context.Context, step string, attempt int, failure classify.Type, now time.Time) (time.Time, error)
}

// VersionRepository resolves the currently active version of a step's logic.
type VersionRepository interface {
	CurrentVersion(ctx context.Context, step string) (*domain.StepVersion, error)
}
