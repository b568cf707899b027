package events

import (
	"time"

	"github.com/taskweave/taskweave/internal/scheduler"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	WorkflowID() string
}

// Topic constants
const (
	TopicTask     = "task"
	TopicWorkflow = "workflow"
)

// Event type constants
const (
	EventTypeTaskStarted      = "task.started"
	EventTypeTaskCompleted    = "task.completed"
	EventTypeTaskFailed       = "task.failed"
	EventTypeTaskSkipped      = "task.skipped"
	EventTypeTaskRetrying     = "task.retrying"
	EventTypeWorkflowStarted  = "workflow.started"
	EventTypeWorkflowProgress = "workflow.progress"
	EventTypeWorkflowFinished = "workflow.finished"
)

// TaskStarted is published when a task is dispatched to its executor.
type TaskStarted struct {
	Workflow  string
	Task      string
	AgentType scheduler.AgentType
	Timestamp time.Time
}

func (e TaskStarted) EventType() string  { return EventTypeTaskStarted }
func (e TaskStarted) WorkflowID() string { return e.Workflow }

// TaskCompleted is published when a task completes successfully.
type TaskCompleted struct {
	Workflow  string
	Task      string
	Attempts  int
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompleted) EventType() string  { return EventTypeTaskCompleted }
func (e TaskCompleted) WorkflowID() string { return e.Workflow }

// TaskFailed is published when a task exhausts its retries.
type TaskFailed struct {
	Workflow  string
	Task      string
	Attempts  int
	Err       error
	Timestamp time.Time
}

func (e TaskFailed) EventType() string  { return EventTypeTaskFailed }
func (e TaskFailed) WorkflowID() string { return e.Workflow }

// TaskSkipped is published when a task is skipped because a dependency
// failed permanently.
type TaskSkipped struct {
	Workflow  string
	Task      string
	Cause     string // id of the failed dependency
	Timestamp time.Time
}

func (e TaskSkipped) EventType() string  { return EventTypeTaskSkipped }
func (e TaskSkipped) WorkflowID() string { return e.Workflow }

// TaskRetrying is published before a retry attempt.
type TaskRetrying struct {
	Workflow  string
	Task      string
	Attempt   int
	Err       error
	Timestamp time.Time
}

func (e TaskRetrying) EventType() string  { return EventTypeTaskRetrying }
func (e TaskRetrying) WorkflowID() string { return e.Workflow }

// WorkflowStarted is published when a workflow transitions to running.
type WorkflowStarted struct {
	Workflow  string
	Total     int
	Timestamp time.Time
}

func (e WorkflowStarted) EventType() string  { return EventTypeWorkflowStarted }
func (e WorkflowStarted) WorkflowID() string { return e.Workflow }

// WorkflowProgress is published after each wave of completions lands.
type WorkflowProgress struct {
	Workflow  string
	Total     int
	Completed int
	Failed    int
	Skipped   int
	Running   int
	Timestamp time.Time
}

func (e WorkflowProgress) EventType() string  { return EventTypeWorkflowProgress }
func (e WorkflowProgress) WorkflowID() string { return e.Workflow }

// WorkflowFinished is published when a workflow reaches a terminal status.
type WorkflowFinished struct {
	Workflow  string
	Status    string
	Detail    string
	Duration  time.Duration
	Timestamp time.Time
}

func (e WorkflowFinished) EventType() string  { return EventTypeWorkflowFinished }
func (e WorkflowFinished) WorkflowID() string { return e.Workflow }
