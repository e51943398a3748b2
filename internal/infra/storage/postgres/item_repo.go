package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/curatorhq/enrichd/internal/core/domain"
	"github.com/curatorhq/enrichd/internal/infra/storage"
)

type ItemRepo struct {
	db *sqlx.DB
}

func NewItemRepo(db *DB) *ItemRepo {
	return &ItemRepo{db: db.DB}
}

const itemColumns = `id, status_code, source_url, payload, retry_after, step_attempt,
	last_failed_step, last_error_message, last_error_at, current_run_id,
	discovered_at, updated_at`

func (r *ItemRepo) Get(ctx context.Context, id string) (*domain.QueueItem, error) {
	var item domain.QueueItem
	err := r.db.GetContext(ctx, &item,
		`SELECT `+itemColumns+` FROM queue_items WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *ItemRepo) Insert(ctx context.Context, item *domain.QueueItem) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO queue_items (id, status_code, source_url, payload, retry_after, step_attempt,
			last_failed_step, last_error_message, last_error_at, current_run_id, discovered_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		item.ID, item.StatusCode, item.SourceURL, item.Payload, item.RetryAfter,
		item.StepAttempt, item.LastFailedStep, item.LastErrorMessage, item.LastErrorAt,
		item.CurrentRunID, item.DiscoveredAt, item.UpdatedAt)
	return err
}

func (r *ItemRepo) FetchPending(ctx context.Context, limit int) ([]*domain.QueueItem, error) {
	var items []*domain.QueueItem
	err := r.db.SelectContext(ctx, &items, `
		SELECT `+itemColumns+` FROM queue_items
		WHERE status_code = $1 AND retry_after IS NULL
		ORDER BY discovered_at ASC
		LIMIT $2`,
		domain.StatusPendingEnrichment, limit)
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *ItemRepo) FetchDue(ctx context.Context, now time.Time, limit int) ([]*domain.QueueItem, error) {
	var items []*domain.QueueItem
	err := r.db.SelectContext(ctx, &items, `
		SELECT `+itemColumns+` FROM queue_items
		WHERE retry_after IS NOT NULL AND retry_after <= $1
		ORDER BY retry_after ASC
		LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *ItemRepo) CountByStatus(ctx context.Context, code domain.StatusCode) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM queue_items WHERE status_code = $1`, code)
	return count, err
}

func (r *ItemRepo) Advance(ctx context.Context, id string, from, to domain.StatusCode) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status_code = $3, retry_after = NULL, last_failed_step = '',
			last_error_message = '', last_error_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status_code = $2`,
		id, from, to)
	if err != nil {
		return err
	}
	return requireRow(res, storage.ErrConflict)
}

func (r *ItemRepo) SetStatus(ctx context.Context, id string, to domain.StatusCode) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE queue_items SET status_code = $2, retry_after = NULL, updated_at = NOW() WHERE id = $1`,
		id, to)
	if err != nil {
		return err
	}
	return requireRow(res, storage.ErrItemNotFound)
}

func (r *ItemRepo) SetPayload(ctx context.Context, id string, payload domain.Payload) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE queue_items SET payload = $2, updated_at = NOW() WHERE id = $1`,
		id, payload)
	if err != nil {
		return err
	}
	return requireRow(res, storage.ErrItemNotFound)
}

func (r *ItemRepo) ScheduleRetry(ctx context.Context, id, step string, attempt int, retryAfter, failedAt time.Time, errMsg string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE queue_items
		SET retry_after = $2, step_attempt = $3, last_failed_step = $4,
			last_error_message = $5, last_error_at = $6, updated_at = NOW()
		WHERE id = $1`,
		id, retryAfter, attempt, step, errMsg, failedAt)
	if err != nil {
		return err
	}
	return requireRow(res, storage.ErrItemNotFound)
}

func (r *ItemRepo) PrepareRetry(ctx context.Context, id string, attempt int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE queue_items
		SET retry_after = NULL, step_attempt = $2, updated_at = NOW()
		WHERE id = $1`,
		id, attempt)
	if err != nil {
		return err
	}
	return requireRow(res, storage.ErrItemNotFound)
}

func (r *ItemRepo) DeadLetter(ctx context.Context, id, step, reason string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status_code = $2, retry_after = NULL, last_failed_step = $3,
			last_error_message = $4, last_error_at = $5, updated_at = NOW()
		WHERE id = $1`,
		id, domain.StatusDeadLetter, step, reason, at)
	if err != nil {
		return err
	}
	return requireRow(res, storage.ErrItemNotFound)
}

func (r *ItemRepo) SetCurrentRun(ctx context.Context, id, runID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE queue_items SET current_run_id = $2, updated_at = NOW() WHERE id = $1`,
		id, runID)
	if err != nil {
		return err
	}
	return requireRow(res, storage.ErrItemNotFound)
}

// requireRow maps a zero-row update to the given sentinel.
func requireRow(res sql.Result, sentinel error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sentinel
	}
	return nil
}
