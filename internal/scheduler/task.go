package scheduler

import (
	"fmt"
	"regexp"
)

// Status represents the current state of a task.
type Status string

const (
	StatusPending   Status = "pending"   // Waiting for dependencies
	StatusReady     Status = "ready"     // All dependencies resolved, queued for dispatch
	StatusRunning   Status = "running"   // Currently executing
	StatusCompleted Status = "completed" // Finished successfully
	StatusFailed    Status = "failed"    // Exhausted retries
	StatusSkipped   Status = "skipped"   // Unreachable because a dependency failed
)

// Valid returns true if the status is a known value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusReady, StatusRunning, StatusCompleted, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// AgentType identifies the executor capability a task is dispatched to.
// The set is closed: unknown values are rejected at validation time, never
// at dispatch time.
type AgentType string

const (
	AgentGeneral      AgentType = "general"       // General computation and file operations
	AgentBrowser      AgentType = "browser"       // Web browsing sessions
	AgentDataAnalysis AgentType = "data-analysis" // Data analysis and transformation
	AgentProtocol     AgentType = "protocol"      // Protocol-extension tool servers
)

// AgentTypes lists every known agent type in a fixed order.
func AgentTypes() []AgentType {
	return []AgentType{AgentGeneral, AgentBrowser, AgentDataAnalysis, AgentProtocol}
}

// Valid returns true if the agent type is a known value.
func (a AgentType) Valid() bool {
	switch a {
	case AgentGeneral, AgentBrowser, AgentDataAnalysis, AgentProtocol:
		return true
	default:
		return false
	}
}

const (
	// MinPriority and MaxPriority bound the user-supplied priority hint.
	MinPriority = 1
	MaxPriority = 10
	// DefaultPriority is applied when a task declares no priority.
	DefaultPriority = 1
)

var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Task is one unit of work within a workflow. After validation only
// Status, Result, Error, Attempts and Metadata change.
type Task struct {
	// ID is unique within a workflow; alphanumeric, dash and underscore only.
	ID string `json:"task_id"`
	// Description is the instruction handed to the executor.
	Description string `json:"description"`
	// AgentType names the executor capability for this task.
	AgentType AgentType `json:"agent_type"`
	// Priority is a tie-break hint (1-10), not a correctness constraint.
	Priority int `json:"priority,omitempty"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `json:"dependencies,omitempty"`
	// Status is the current state of the task.
	Status Status `json:"status"`
	// Metadata is an open key/value bag for executor-specific parameters.
	Metadata map[string]string `json:"metadata,omitempty"`
	// Result holds the executor output after completion.
	Result string `json:"result,omitempty"`
	// Error holds the latest error detail if the task failed.
	Error string `json:"error,omitempty"`
	// Attempts counts executor invocations, including retries.
	Attempts int `json:"attempts,omitempty"`
}

// Validate checks field-level constraints. Cross-task constraints
// (unknown dependencies, cycles) are checked by BuildGraph.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: empty task id", ErrInvalidTask)
	}
	if !taskIDPattern.MatchString(t.ID) {
		return fmt.Errorf("%w: task id %q contains characters outside [A-Za-z0-9_-]", ErrInvalidTask, t.ID)
	}
	if t.Description == "" {
		return fmt.Errorf("%w: task %q has an empty description", ErrInvalidTask, t.ID)
	}
	if !t.AgentType.Valid() {
		return fmt.Errorf("%w: task %q has unknown agent type %q", ErrInvalidTask, t.ID, t.AgentType)
	}
	if t.Priority != 0 && (t.Priority < MinPriority || t.Priority > MaxPriority) {
		return fmt.Errorf("%w: task %q priority %d outside %d-%d", ErrInvalidTask, t.ID, t.Priority, MinPriority, MaxPriority)
	}
	for _, depID := range t.DependsOn {
		if depID == t.ID {
			return fmt.Errorf("%w: task %q depends on itself", ErrSelfDependency, t.ID)
		}
	}
	return nil
}

// Normalize fills in defaults a caller may omit.
func (t *Task) Normalize() {
	if t.Priority == 0 {
		t.Priority = DefaultPriority
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.DependsOn != nil {
		cp.DependsOn = append([]string(nil), t.DependsOn...)
	}
	if t.Metadata != nil {
		cp.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
