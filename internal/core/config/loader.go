package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Pipeline.AgentTimeout == 0 {
		cfg.Pipeline.AgentTimeout = 60 * time.Second
	}
	if cfg.Scheduler.SweepInterval == 0 {
		cfg.Scheduler.SweepInterval = 30 * time.Second
	}
	if cfg.Scheduler.SweepLimit == 0 {
		cfg.Scheduler.SweepLimit = 50
	}
	if cfg.Scheduler.DrainInterval == 0 {
		cfg.Scheduler.DrainInterval = 10 * time.Second
	}
	if cfg.Scheduler.DrainLimit == 0 {
		cfg.Scheduler.DrainLimit = 50
	}
}
