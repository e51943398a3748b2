package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/curatorhq/enrichd/internal/core/domain"
	"github.com/curatorhq/enrichd/internal/infra/storage"
)

// versionTTL bounds how stale a cached step version may be. Version rows
// change on deploys, not per request.
const versionTTL = time.Minute

type cachedVersion struct {
	version   *domain.StepVersion
	fetchedAt time.Time
}

// VersionRepo reads the active step versions, with a short in-process cache
// since the executor consults the version on every step execution.
type VersionRepo struct {
	db *sqlx.DB

	mu    sync.Mutex
	cache map[string]cachedVersion
}

func NewVersionRepo(db *DB) *VersionRepo {
	return &VersionRepo{
		db:    db.DB,
		cache: make(map[string]cachedVersion),
	}
}

func (r *VersionRepo) CurrentVersion(ctx context.Context, step string) (*domain.StepVersion, error) {
	r.mu.Lock()
	if c, ok := r.cache[step]; ok && time.Since(c.fetchedAt) < versionTTL {
		v := *c.version
		r.mu.Unlock()
		return &v, nil
	}
	r.mu.Unlock()

	var v domain.StepVersion
	err := r.db.GetContext(ctx, &v, `
		SELECT step_name, agent_type, version_id, version, model, implementation_version
		FROM step_versions
		WHERE step_name = $1 AND active`,
		step)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrVersionNotFound
	}
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[step] = cachedVersion{version: &v, fetchedAt: time.Now()}
	r.mu.Unlock()

	out := v
	return &out, nil
}
