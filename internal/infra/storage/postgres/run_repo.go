package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/curatorhq/enrichd/internal/core/domain"
)

type RunRepo struct {
	db *sqlx.DB
}

func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db.DB}
}

func (r *RunRepo) Create(ctx context.Context, run *domain.PipelineRun) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, queue_item_id, trigger, status, started_step, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.QueueItemID, run.Trigger, run.Status, run.StartedStep,
		run.CreatedAt, run.CompletedAt)
	return err
}

func (r *RunRepo) CancelRunning(ctx context.Context, itemID string, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET status = $3, completed_at = $2
		WHERE queue_item_id = $1 AND status = $4`,
		itemID, at, domain.RunStatusCancelled, domain.RunStatusRunning)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *RunRepo) Complete(ctx context.Context, runID string, status domain.RunStatus, at time.Time) error {
	// Conditional on still running so a cancelled run stays cancelled.
	_, err := r.db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET status = $2, completed_at = $3
		WHERE id = $1 AND status = $4`,
		runID, status, at, domain.RunStatusRunning)
	return err
}

func (r *RunRepo) ListByItem(ctx context.Context, itemID string) ([]*domain.PipelineRun, error) {
	var runs []*domain.PipelineRun
	err := r.db.SelectContext(ctx, &runs, `
		SELECT id, queue_item_id, trigger, status, started_step, created_at, completed_at
		FROM pipeline_runs
		WHERE queue_item_id = $1
		ORDER BY created_at DESC`,
		itemID)
	if err != nil {
		return nil, err
	}
	return runs, nil
}
