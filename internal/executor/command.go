package executor

import (
	"context"
	"fmt"
	"strings"
)

// CommandExecutor runs each task as an external command. The rendered
// task input is written to the command's stdin and whatever it prints
// to stdout becomes the task result. Environment entries carry the
// workflow and task identity so wrapper scripts can log or route.
type CommandExecutor struct {
	Command string
	Args    []string
	Env     []string
	pm      *ProcessManager
}

// NewCommandExecutor creates an executor that spawns the given command
// for every task. pm may be nil when subprocess tracking is not needed.
func NewCommandExecutor(command string, args []string, pm *ProcessManager) *CommandExecutor {
	return &CommandExecutor{
		Command: command,
		Args:    args,
		pm:      pm,
	}
}

// Execute spawns the configured command for the task and blocks until
// it exits or ctx is cancelled.
func (e *CommandExecutor) Execute(ctx context.Context, req Request) (string, error) {
	cmd := newCommand(ctx, e.Command, e.Args...)
	cmd.Env = append(cmd.Environ(),
		fmt.Sprintf("TASKWEAVE_WORKFLOW=%s", req.Workflow),
		fmt.Sprintf("TASKWEAVE_TASK=%s", req.Task),
		fmt.Sprintf("TASKWEAVE_AGENT_TYPE=%s", req.AgentType),
	)
	for k, v := range req.Metadata {
		cmd.Env = append(cmd.Env, fmt.Sprintf("TASKWEAVE_META_%s=%s", strings.ToUpper(k), v))
	}
	cmd.Env = append(cmd.Env, e.Env...)

	stdout, _, err := runCommand(ctx, cmd, req.Input, e.pm)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	return strings.TrimRight(string(stdout), "\n"), nil
}

// RenderInput builds the text an executor receives for a task: the
// results of its dependencies first, then the task description. Tasks
// without upstream results receive the bare description.
func RenderInput(description string, depResults map[string]string, order []string) string {
	if len(depResults) == 0 {
		return description
	}
	var b strings.Builder
	b.WriteString("Results from prior tasks:\n")
	for _, id := range order {
		res, ok := depResults[id]
		if !ok || res == "" {
			continue
		}
		fmt.Fprintf(&b, "\n[%s]\n%s\n", id, res)
	}
	b.WriteString("\nYour task:\n")
	b.WriteString(description)
	return b.String()
}
