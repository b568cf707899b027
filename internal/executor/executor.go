package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/taskweave/taskweave/internal/scheduler"
)

// ErrUnboundAgentType reports an agent type with no registered executor.
var ErrUnboundAgentType = errors.New("no executor for agent type")

// Request carries everything an executor needs to run one task.
type Request struct {
	Workflow  string
	Task      string
	AgentType scheduler.AgentType
	// Input is the task description, prefixed with the results of its
	// dependencies so downstream tasks can build on upstream output.
	Input string
	// Metadata is the task's executor-specific parameter bag.
	Metadata map[string]string
}

// Executor runs one task of a given capability and returns its textual
// result. Implementations are opaque to the coordinator: whatever
// concurrency the capability uses internally, the coordinator sees a
// single blocking call honoring ctx.
type Executor interface {
	Execute(ctx context.Context, req Request) (string, error)
}

// Func adapts a plain function to the Executor interface.
type Func func(ctx context.Context, req Request) (string, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Registry maps agent types to executor instances. The agent-type set is
// closed, so a registry covering every type makes dispatch-time lookup
// failures impossible.
type Registry struct {
	execs map[scheduler.AgentType]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{execs: make(map[scheduler.AgentType]Executor)}
}

// Register binds an agent type to an executor, replacing any previous
// binding.
func (r *Registry) Register(agentType scheduler.AgentType, e Executor) {
	r.execs[agentType] = e
}

// Lookup returns the executor bound to the agent type.
func (r *Registry) Lookup(agentType scheduler.AgentType) (Executor, error) {
	e, ok := r.execs[agentType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnboundAgentType, agentType)
	}
	return e, nil
}

// Complete reports an error naming every known agent type left unbound.
// Called at startup so gaps surface before any dispatch.
func (r *Registry) Complete() error {
	var missing []scheduler.AgentType
	for _, at := range scheduler.AgentTypes() {
		if _, ok := r.execs[at]; !ok {
			missing = append(missing, at)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrUnboundAgentType, missing)
	}
	return nil
}
