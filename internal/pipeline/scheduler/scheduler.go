// Package scheduler implements the periodic queue passes: the retry sweep
// that picks up items whose backoff window has elapsed, and the pending drain
// that starts newly discovered items. Both are driven by tickers in the
// control layer and guarded by Redis advisory locks when one is configured.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/curatorhq/enrichd/internal/core/domain"
	"github.com/curatorhq/enrichd/internal/infra/storage"
	"github.com/curatorhq/enrichd/internal/pipeline/metrics"
	"github.com/curatorhq/enrichd/internal/pipeline/orchestrator"
)

// Locker is the advisory-lock surface the scheduler needs. The Redis client
// implements it; a nil locker runs unlocked, for single-instance deployments
// and tests.
type Locker interface {
	AcquireSweepLock(ctx context.Context, ttl time.Duration) (bool, error)
	ReleaseSweepLock(ctx context.Context) error
	AcquireItemLock(ctx context.Context, itemID string, ttl time.Duration) (bool, error)
	ReleaseItemLock(ctx context.Context, itemID string) error
}

// Stats counts the outcomes of one pass.
type Stats struct {
	Processed    int
	Succeeded    int
	Failed       int
	DeadLettered int
	Skipped      int
}

const (
	sweepLockTTL = 2 * time.Minute
	itemLockTTL  = 5 * time.Minute
)

type Scheduler struct {
	items  storage.ItemRepository
	orch   *orchestrator.Orchestrator
	locker Locker
	log    *slog.Logger
	now    func() time.Time
}

func New(items storage.ItemRepository, orch *orchestrator.Orchestrator, locker Locker, log *slog.Logger) *Scheduler {
	return &Scheduler{
		items:  items,
		orch:   orch,
		locker: locker,
		log:    log.With("component", "scheduler"),
		now:    time.Now,
	}
}

// Sweep picks up to limit items whose retry_after has elapsed and replays
// them from the step they failed at. Each pickup clears the backoff window
// and counts as a new attempt before the step runs, so a crash mid-execution
// consumes the attempt rather than retrying forever.
func (s *Scheduler) Sweep(ctx context.Context, limit int) (Stats, error) {
	if s.locker != nil {
		ok, err := s.locker.AcquireSweepLock(ctx, sweepLockTTL)
		if err != nil {
			return Stats{}, err
		}
		if !ok {
			s.log.Debug("sweep lock held elsewhere, skipping pass")
			return Stats{}, nil
		}
		defer func() {
			if err := s.locker.ReleaseSweepLock(ctx); err != nil {
				s.log.Warn("failed to release sweep lock", "error", err)
			}
		}()
	}

	due, err := s.items.FetchDue(ctx, s.now(), limit)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, item := range due {
		stats.Processed++
		outcome := s.retryOne(ctx, item)
		metrics.SweepItems.WithLabelValues(outcome).Inc()
		switch outcome {
		case "succeeded":
			stats.Succeeded++
		case "dead_lettered":
			stats.DeadLettered++
		case "skipped":
			stats.Skipped++
		default:
			stats.Failed++
		}
	}

	if stats.Processed > 0 {
		s.log.Info("retry sweep finished",
			"processed", stats.Processed, "succeeded", stats.Succeeded,
			"failed", stats.Failed, "dead_lettered", stats.DeadLettered,
			"skipped", stats.Skipped)
	}
	return stats, nil
}

func (s *Scheduler) retryOne(ctx context.Context, item *domain.QueueItem) string {
	if s.locker != nil {
		ok, err := s.locker.AcquireItemLock(ctx, item.ID, itemLockTTL)
		if err != nil {
			s.log.Warn("item lock error", "item", item.ID, "error", err)
			return "failed"
		}
		if !ok {
			return "skipped"
		}
		defer func() {
			if err := s.locker.ReleaseItemLock(ctx, item.ID); err != nil {
				s.log.Warn("failed to release item lock", "item", item.ID, "error", err)
			}
		}()
	}

	if err := s.items.PrepareRetry(ctx, item.ID, item.StepAttempt+1); err != nil {
		s.log.Error("failed to prepare retry", "item", item.ID, "error", err)
		return "failed"
	}

	result, err := s.orch.ProcessItem(ctx, item.ID, domain.TriggerRetry)
	if err != nil {
		s.log.Error("retry run failed", "item", item.ID, "error", err)
		return "failed"
	}
	switch {
	case result.DeadLettered:
		return "dead_lettered"
	case result.RetryAt != nil:
		return "failed"
	case result.Deferred || result.Superseded:
		return "skipped"
	default:
		return "succeeded"
	}
}

// DrainPending starts pipeline runs for up to limit newly discovered items.
func (s *Scheduler) DrainPending(ctx context.Context, limit int) (Stats, error) {
	pending, err := s.items.FetchPending(ctx, limit)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, item := range pending {
		stats.Processed++
		if s.locker != nil {
			ok, err := s.locker.AcquireItemLock(ctx, item.ID, itemLockTTL)
			if err != nil || !ok {
				stats.Skipped++
				continue
			}
		}
		result, err := s.orch.ProcessItem(ctx, item.ID, domain.TriggerAutomatic)
		if s.locker != nil {
			if rerr := s.locker.ReleaseItemLock(ctx, item.ID); rerr != nil {
				s.log.Warn("failed to release item lock", "item", item.ID, "error", rerr)
			}
		}
		if err != nil {
			s.log.Error("pipeline run failed", "item", item.ID, "error", err)
			stats.Failed++
			continue
		}
		switch {
		case result.DeadLettered:
			stats.DeadLettered++
		case result.RetryAt != nil:
			stats.Failed++
		case result.Deferred || result.Superseded:
			stats.Skipped++
		default:
			stats.Succeeded++
		}
	}
	return stats, nil
}
