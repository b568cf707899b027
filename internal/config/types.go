package config

// ExecutorConfig defines the command an agent type runs its tasks
// through. The task input arrives on the command's stdin and the result
// is read from its stdout.
type ExecutorConfig struct {
	Command string   `json:"command"`        // Binary name or path
	Args    []string `json:"args,omitempty"` // Args appended to every invocation
	Env     []string `json:"env,omitempty"`  // Extra environment entries (KEY=VALUE)
}

// EngineConfig tunes workflow execution.
type EngineConfig struct {
	MaxConcurrency int  `json:"max_concurrency,omitempty"` // 0 = wave-bound
	MaxAttempts    int  `json:"max_attempts,omitempty"`    // Total invocations per task
	BestEffort     bool `json:"best_effort,omitempty"`     // Finish despite failed tasks
	RetryInitialMs int  `json:"retry_initial_ms,omitempty"`
	RetryMaxMs     int  `json:"retry_max_ms,omitempty"`
	RetryBudgetMs  int  `json:"retry_budget_ms,omitempty"` // Max total retry time per task
}

// StoreConfig locates the workflow database.
type StoreConfig struct {
	Path string `json:"path,omitempty"` // SQLite file path; empty uses the default
}

// Config is the top-level configuration.
type Config struct {
	Engine    EngineConfig              `json:"engine"`
	Store     StoreConfig               `json:"store"`
	Executors map[string]ExecutorConfig `json:"executors"`
}
