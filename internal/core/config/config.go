package config

import (
	"time"

	"github.com/curatorhq/enrichd/internal/agent"
	redisclient "github.com/curatorhq/enrichd/internal/infra/redis"
	"github.com/curatorhq/enrichd/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig            `yaml:"server"`
	Database  postgres.Config         `yaml:"database"`
	Redis     redisclient.Config      `yaml:"redis"`
	Logging   LoggingConfig           `yaml:"logging"`
	Agents    map[string]agent.Config `yaml:"agents"`
	Pipeline  PipelineConfig          `yaml:"pipeline"`
	Scheduler SchedulerConfig         `yaml:"scheduler"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// PipelineConfig holds step execution settings.
type PipelineConfig struct {
	// WIPLimits caps concurrent items per step, keyed by step name.
	// Zero or missing means unguarded.
	WIPLimits map[string]int `yaml:"wip_limits"`
	// AgentTimeout bounds a single agent call.
	AgentTimeout time.Duration `yaml:"agent_timeout"`
}

// SchedulerConfig holds the periodic pass settings.
type SchedulerConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SweepLimit    int           `yaml:"sweep_limit"`
	DrainInterval time.Duration `yaml:"drain_interval"`
	DrainLimit    int           `yaml:"drain_limit"`
}
