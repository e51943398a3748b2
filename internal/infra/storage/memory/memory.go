// Package memory provides an in-memory implementation of the storage
// repositories, used by tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/curatorhq/enrichd/internal/core/domain"
	"github.com/curatorhq/enrichd/internal/infra/storage"
	"github.com/curatorhq/enrichd/internal/pipeline/backoff"
	"github.com/curatorhq/enrichd/internal/pipeline/classify"
)

type MemoryStorage struct {
	mu       sync.RWMutex
	items    map[string]*domain.QueueItem
	runs     map[string]*domain.PipelineRun
	policies map[string]domain.RetryPolicy
	versions map[string]*domain.StepVersion
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		items:    make(map[string]*domain.QueueItem),
		runs:     make(map[string]*domain.PipelineRun),
		policies: make(map[string]domain.RetryPolicy),
		versions: make(map[string]*domain.StepVersion),
	}
}

// SetPolicy registers a per-step retry policy.
func (s *MemoryStorage) SetPolicy(step string, p domain.RetryPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[step] = p
}

// SetVersion registers the active version for a step.
func (s *MemoryStorage) SetVersion(v *domain.StepVersion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[v.Step] = v
}

func cloneItem(it *domain.QueueItem) *domain.QueueItem {
	cp := *it
	cp.Payload = it.Payload.Clone()
	if it.RetryAfter != nil {
		t := *it.RetryAfter
		cp.RetryAfter = &t
	}
	if it.LastErrorAt != nil {
		t := *it.LastErrorAt
		cp.LastErrorAt = &t
	}
	return &cp
}

// -----------------------------------------------------------------------------
// Item repository
// -----------------------------------------------------------------------------

type ItemRepo struct {
	store *MemoryStorage
}

func NewItemRepo(store *MemoryStorage) *ItemRepo {
	return &ItemRepo{store: store}
}

func (r *ItemRepo) Get(ctx context.Context, id string) (*domain.QueueItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	it, ok := r.store.items[id]
	if !ok {
		return nil, storage.ErrItemNotFound
	}
	return cloneItem(it), nil
}

func (r *ItemRepo) Insert(ctx context.Context, item *domain.QueueItem) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.items[item.ID] = cloneItem(item)
	return nil
}

func (r *ItemRepo) FetchPending(ctx context.Context, limit int) ([]*domain.QueueItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.QueueItem
	for _, it := range r.store.items {
		if it.StatusCode == domain.StatusPendingEnrichment && it.RetryAfter == nil {
			out = append(out, cloneItem(it))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DiscoveredAt.Before(out[j].DiscoveredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ItemRepo) FetchDue(ctx context.Context, now time.Time, limit int) ([]*domain.QueueItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.QueueItem
	for _, it := range r.store.items {
		if it.RetryAfter != nil && !it.RetryAfter.After(now) {
			out = append(out, cloneItem(it))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RetryAfter.Before(*out[j].RetryAfter) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ItemRepo) CountByStatus(ctx context.Context, code domain.StatusCode) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	count := 0
	for _, it := range r.store.items {
		if it.StatusCode == code {
			count++
		}
	}
	return count, nil
}

func (r *ItemRepo) Advance(ctx context.Context, id string, from, to domain.StatusCode) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	it, ok := r.store.items[id]
	if !ok {
		return storage.ErrItemNotFound
	}
	if it.StatusCode != from {
		return storage.ErrConflict
	}
	it.StatusCode = to
	it.RetryAfter = nil
	it.LastFailedStep = ""
	it.LastErrorMessage = ""
	it.LastErrorAt = nil
	it.UpdatedAt = time.Now()
	return nil
}

func (r *ItemRepo) SetStatus(ctx context.Context, id string, to domain.StatusCode) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	it, ok := r.store.items[id]
	if !ok {
		return storage.ErrItemNotFound
	}
	it.StatusCode = to
	it.RetryAfter = nil
	it.UpdatedAt = time.Now()
	return nil
}

func (r *ItemRepo) SetPayload(ctx context.Context, id string, payload domain.Payload) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	it, ok := r.store.items[id]
	if !ok {
		return storage.ErrItemNotFound
	}
	it.Payload = payload
	it.UpdatedAt = time.Now()
	return nil
}

func (r *ItemRepo) ScheduleRetry(ctx context.Context, id, step string, attempt int, retryAfter, failedAt time.Time, errMsg string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	it, ok := r.store.items[id]
	if !ok {
		return storage.ErrItemNotFound
	}
	it.RetryAfter = &retryAfter
	it.StepAttempt = attempt
	it.LastFailedStep = step
	it.LastErrorMessage = errMsg
	it.LastErrorAt = &failedAt
	it.UpdatedAt = failedAt
	return nil
}

func (r *ItemRepo) PrepareRetry(ctx context.Context, id string, attempt int) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	it, ok := r.store.items[id]
	if !ok {
		return storage.ErrItemNotFound
	}
	it.RetryAfter = nil
	it.StepAttempt = attempt
	it.UpdatedAt = time.Now()
	return nil
}

func (r *ItemRepo) DeadLetter(ctx context.Context, id, step, reason string, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	it, ok := r.store.items[id]
	if !ok {
		return storage.ErrItemNotFound
	}
	it.StatusCode = domain.StatusDeadLetter
	it.RetryAfter = nil
	it.LastFailedStep = step
	it.LastErrorMessage = reason
	it.LastErrorAt = &at
	it.UpdatedAt = at
	return nil
}

func (r *ItemRepo) SetCurrentRun(ctx context.Context, id, runID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	it, ok := r.store.items[id]
	if !ok {
		return storage.ErrItemNotFound
	}
	it.CurrentRunID = runID
	it.UpdatedAt = time.Now()
	return nil
}

// -----------------------------------------------------------------------------
// Run repository
// -----------------------------------------------------------------------------

type RunRepo struct {
	store *MemoryStorage
}

func NewRunRepo(store *MemoryStorage) *RunRepo {
	return &RunRepo{store: store}
}

func (r *RunRepo) Create(ctx context.Context, run *domain.PipelineRun) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *run
	r.store.runs[run.ID] = &cp
	return nil
}

func (r *RunRepo) CancelRunning(ctx context.Context, itemID string, at time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	count := 0
	for _, run := range r.store.runs {
		if run.QueueItemID == itemID && run.Status == domain.RunStatusRunning {
			run.Status = domain.RunStatusCancelled
			t := at
			run.CompletedAt = &t
			count++
		}
	}
	return count, nil
}

func (r *RunRepo) Complete(ctx context.Context, runID string, status domain.RunStatus, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	run, ok := r.store.runs[runID]
	if !ok {
		return nil
	}
	// A run cancelled by a newer run stays cancelled.
	if run.Status != domain.RunStatusRunning {
		return nil
	}
	run.Status = status
	t := at
	run.CompletedAt = &t
	return nil
}

func (r *RunRepo) ListByItem(ctx context.Context, itemID string) ([]*domain.PipelineRun, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.PipelineRun
	for _, run := range r.store.runs {
		if run.QueueItemID == itemID {
			cp := *run
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// -----------------------------------------------------------------------------
// Retry policy repository
// -----------------------------------------------------------------------------

type PolicyRepo struct {
	store *MemoryStorage
}

func NewPolicyRepo(store *MemoryStorage) *PolicyRepo {
	return &PolicyRepo{store: store}
}

func (r *PolicyRepo) policy(step string) domain.RetryPolicy {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if p, ok := r.store.policies[step]; ok {
		return p
	}
	return domain.DefaultRetryPolicy
}

func (r *PolicyRepo) ShouldRetry(ctx context.Context, step string, attempt int) (bool, error) {
	return backoff.ShouldRetry(r.policy(step), attempt), nil
}

func (r *PolicyRepo) NextRetryAt(ctx context.Context, step string, attempt int, failure classify.Type, now time.Time) (time.Time, error) {
	return now.Add(backoff.Delay(r.policy(step), attempt, failure)), nil
}

// -----------------------------------------------------------------------------
// Version repository
// -----------------------------------------------------------------------------

type VersionRepo struct {
	store *MemoryStorage
}

func NewVersionRepo(store *MemoryStorage) *VersionRepo {
	return &VersionRepo{store: store}
}

func (r *VersionRepo) CurrentVersion(ctx context.Context, step string) (*domain.StepVersion, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	v, ok := r.store.versions[step]
	if !ok {
		return nil, storage.ErrVersionNotFound
	}
	cp := *v
	return &cp, nil
}
