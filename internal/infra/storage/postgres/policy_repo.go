package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/curatorhq/enrichd/internal/pipeline/classify"
)

// PolicyRepo delegates the retry decision and the backoff computation to the
// should_retry_step and calculate_retry_after SQL functions, so operators can
// tune retry_policies rows without a redeploy.
type PolicyRepo struct {
	db *sqlx.DB
}

func NewPolicyRepo(db *DB) *PolicyRepo {
	return &PolicyRepo{db: db.DB}
}

func (r *PolicyRepo) ShouldRetry(ctx context.Context, step string, attempt int) (bool, error) {
	var ok bool
	err := r.db.GetContext(ctx, &ok, `SELECT should_retry_step($1, $2)`, step, attempt)
	return ok, err
}

func (r *PolicyRepo) NextRetryAt(ctx context.Context, step string, attempt int, failure classify.Type, now time.Time) (time.Time, error) {
	var at time.Time
	err := r.db.GetContext(ctx, &at,
		`SELECT calculate_retry_after($1, $2, $3, $4)`,
		step, attempt, string(failure), now)
	return at, err
}
