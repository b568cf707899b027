package config

import (
	"os"
	"path/filepath"
)

// DefaultConfig returns the default configuration with one executor
// binding per built-in agent type.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxConcurrency: 4,
			MaxAttempts:    3,
			RetryInitialMs: 100,
			RetryMaxMs:     10_000,
			RetryBudgetMs:  120_000,
		},
		Executors: map[string]ExecutorConfig{
			"general": {
				Command: "taskweave-agent",
				Args:    []string{"--capability", "general"},
			},
			"browser": {
				Command: "taskweave-agent",
				Args:    []string{"--capability", "browser"},
			},
			"data-analysis": {
				Command: "taskweave-agent",
				Args:    []string{"--capability", "data-analysis"},
			},
			"protocol": {
				Command: "taskweave-agent",
				Args:    []string{"--capability", "protocol"},
			},
		},
	}
}

// DefaultStorePath returns the conventional database location,
// ~/.taskweave/taskweave.db.
func DefaultStorePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".taskweave", "taskweave.db"), nil
}
