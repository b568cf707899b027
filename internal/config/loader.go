package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config,
// defaults. Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.taskweave/config.json
// Project: .taskweave/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".taskweave", "config.json")
	projectPath := filepath.Join(".taskweave", "config.json")

	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a JSON config file and merges it into the base
// config. Missing files are silently skipped.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	mergeEngine(&base.Engine, loaded.Engine)

	if loaded.Store.Path != "" {
		base.Store.Path = loaded.Store.Path
	}

	for key, exec := range loaded.Executors {
		base.Executors[key] = exec
	}

	return nil
}

// mergeEngine overlays non-zero engine settings. BestEffort merges as a
// plain boolean OR: a layer can enable it but not disable a lower layer's
// setting, matching how the other scalar fields behave.
func mergeEngine(base *EngineConfig, loaded EngineConfig) {
	if loaded.MaxConcurrency != 0 {
		base.MaxConcurrency = loaded.MaxConcurrency
	}
	if loaded.MaxAttempts != 0 {
		base.MaxAttempts = loaded.MaxAttempts
	}
	if loaded.BestEffort {
		base.BestEffort = true
	}
	if loaded.RetryInitialMs != 0 {
		base.RetryInitialMs = loaded.RetryInitialMs
	}
	if loaded.RetryMaxMs != 0 {
		base.RetryMaxMs = loaded.RetryMaxMs
	}
	if loaded.RetryBudgetMs != 0 {
		base.RetryBudgetMs = loaded.RetryBudgetMs
	}
}
