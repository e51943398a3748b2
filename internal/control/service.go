// Package control wires the enrichment daemon together and manages its
// lifecycle: storage, migrations, the step handlers, the trigger API, and the
// periodic scheduler passes.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/curatorhq/enrichd/internal/agent"
	"github.com/curatorhq/enrichd/internal/api"
	"github.com/curatorhq/enrichd/internal/core/config"
	redisclient "github.com/curatorhq/enrichd/internal/infra/redis"
	"github.com/curatorhq/enrichd/internal/infra/storage"
	"github.com/curatorhq/enrichd/internal/infra/storage/memory"
	"github.com/curatorhq/enrichd/internal/infra/storage/postgres"
	"github.com/curatorhq/enrichd/internal/pipeline/executor"
	"github.com/curatorhq/enrichd/internal/pipeline/guard"
	"github.com/curatorhq/enrichd/internal/pipeline/metrics"
	"github.com/curatorhq/enrichd/internal/pipeline/orchestrator"
	"github.com/curatorhq/enrichd/internal/pipeline/registry"
	"github.com/curatorhq/enrichd/internal/pipeline/scheduler"
	"github.com/curatorhq/enrichd/internal/step"
)

// Service is the assembled enrichment daemon.
type Service struct {
	cfg         *config.AppConfig
	reg         *registry.Registry
	items       storage.ItemRepository
	runs        storage.RunRepository
	orch        *orchestrator.Orchestrator
	sched       *scheduler.Scheduler
	apiServer   *api.Server
	db          *postgres.DB
	redisClient *redisclient.Client
	log         *slog.Logger
}

// NewService initializes all daemon components from configuration.
func NewService(cfg *config.AppConfig, log *slog.Logger) (*Service, error) {
	reg := registry.New()
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid status registry: %w", err)
	}

	// Storage
	var (
		items    storage.ItemRepository
		runs     storage.RunRepository
		policies storage.RetryPolicyRepository
		versions storage.VersionRepository
		db       *postgres.DB
	)
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		// Goose needs the raw *sql.DB underneath sqlx
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		items = postgres.NewItemRepo(db)
		runs = postgres.NewRunRepo(db)
		policies = postgres.NewPolicyRepo(db)
		versions = postgres.NewVersionRepo(db)
		log.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		items = memory.NewItemRepo(store)
		runs = memory.NewRunRepo(store)
		policies = memory.NewPolicyRepo(store)
		versions = memory.NewVersionRepo(store)
		log.Info("Using Memory storage")
	}

	// Redis advisory locks; the daemon degrades to unlocked mode without it
	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, running without advisory locks", "error", err)
		}
	}

	// Step handlers from the configured agent endpoints
	agentClient := agent.NewClient(cfg.Pipeline.AgentTimeout)
	handlers := make(map[string]step.Handler)
	for _, spec := range reg.Steps() {
		agentCfg, ok := cfg.Agents[spec.Name]
		if !ok {
			return nil, fmt.Errorf("no agent configured for step %s", spec.Name)
		}
		handlers[spec.Name] = agentClient.Handler(spec.Name, agentCfg)
	}

	exec := executor.New(items, versions, handlers, log)
	g := guard.New(items, cfg.Pipeline.WIPLimits)
	orch := orchestrator.New(reg, items, runs, policies, exec, g, log)

	var locker scheduler.Locker
	if redisClient != nil {
		locker = redisClient
	}
	sched := scheduler.New(items, orch, locker, log)

	var pinger api.Pinger
	if db != nil {
		pinger = db
	}
	apiServer := api.NewServer(orch, sched, items, runs, reg, pinger,
		cfg.Server.Port, cfg.Server.APIKey, log)

	return &Service{
		cfg:         cfg,
		reg:         reg,
		items:       items,
		runs:        runs,
		orch:        orch,
		sched:       sched,
		apiServer:   apiServer,
		db:          db,
		redisClient: redisClient,
		log:         log.With("component", "control"),
	}, nil
}

// Orchestrator exposes the pipeline driver for CLI commands.
func (s *Service) Orchestrator() *orchestrator.Orchestrator { return s.orch }

// Scheduler exposes the periodic passes for CLI commands.
func (s *Service) Scheduler() *scheduler.Scheduler { return s.sched }

// Items exposes the item repository for CLI commands.
func (s *Service) Items() storage.ItemRepository { return s.items }

// Registry exposes the status table for CLI commands.
func (s *Service) Registry() *registry.Registry { return s.reg }

// Start launches the API server and the scheduler loops. It returns
// immediately; the loops stop when ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	go func() {
		s.log.Info("API server listening", "port", s.cfg.Server.Port)
		if err := s.apiServer.Start(); err != nil {
			s.log.Error("API server failed", "error", err)
		}
	}()

	go s.runSweepLoop(ctx)
	go s.runDrainLoop(ctx)
	go s.runMetricsCollector(ctx)

	return nil
}

// Stop shuts the daemon down.
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("Stopping service...")

	if err := s.apiServer.Stop(ctx); err != nil {
		s.log.Warn("Failed to stop API server", "error", err)
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("Failed to close database", "error", err)
		}
	}

	s.log.Info("Service stopped")
	return nil
}

func (s *Service) runSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Scheduler.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.sched.Sweep(ctx, s.cfg.Scheduler.SweepLimit); err != nil {
				s.log.Error("Retry sweep failed", "error", err)
			}
		}
	}
}

func (s *Service) runDrainLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Scheduler.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.sched.DrainPending(ctx, s.cfg.Scheduler.DrainLimit); err != nil {
				s.log.Error("Pending drain failed", "error", err)
			}
		}
	}
}

func (s *Service) runMetricsCollector(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collectQueueMetrics(ctx)
			if s.db != nil {
				metrics.DBConnections.Set(float64(s.db.Stats().OpenConnections))
			}
		}
	}
}

func (s *Service) collectQueueMetrics(ctx context.Context) {
	for _, spec := range s.reg.Steps() {
		count, err := s.items.CountByStatus(ctx, spec.WorkingStatus)
		if err != nil {
			s.log.Debug("Failed to count queue depth", "status", spec.WorkingStatus, "error", err)
			continue
		}
		metrics.QueueDepth.WithLabelValues(s.reg.Name(spec.WorkingStatus)).Set(float64(count))
	}
}
