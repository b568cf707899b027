package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskweave/taskweave/internal/api"
	"github.com/taskweave/taskweave/internal/scheduler"
	"github.com/taskweave/taskweave/internal/store"
)

var (
	tasksFile  string
	workflowID string
)

func init() {
	createCmd.Flags().StringVarP(&tasksFile, "file", "f", "", "Path to the tasks JSON file (required)")
	createCmd.MarkFlagRequired("file")
	createCmd.Flags().StringVar(&workflowID, "id", "", "Workflow id (generated when omitted)")

	runCmd.Flags().StringVarP(&tasksFile, "file", "f", "", "Path to the tasks JSON file (required)")
	runCmd.MarkFlagRequired("file")
	runCmd.Flags().StringVar(&workflowID, "id", "", "Workflow id (generated when omitted)")
}

func loadTasks(path string) ([]*scheduler.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return api.ParseTasks(data)
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Validate a task graph and persist it as a new workflow",
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, err := loadTasks(tasksFile)
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		resp, err := a.handler.Handle(cmd.Context(), api.Request{
			Action:     api.ActionCreate,
			WorkflowID: workflowID,
			Tasks:      tasks,
		})
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

var startCmd = &cobra.Command{
	Use:   "start <workflow-id>",
	Short: "Run a created workflow to completion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		return startWorkflow(cmd.Context(), a, args[0])
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Create a workflow from a tasks file and run it to completion",
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, err := loadTasks(tasksFile)
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		resp, err := a.handler.Handle(cmd.Context(), api.Request{
			Action:     api.ActionCreate,
			WorkflowID: workflowID,
			Tasks:      tasks,
		})
		if err != nil {
			return err
		}
		return startWorkflow(cmd.Context(), a, resp.WorkflowID)
	},
}

// startWorkflow drives the workflow to a terminal state and prints the
// final snapshot. A workflow that finishes failed is a command failure.
func startWorkflow(ctx context.Context, a *app, id string) error {
	// Every agent type must have an executor before any task dispatches.
	if err := a.registry.Complete(); err != nil {
		return err
	}

	resp, err := a.handler.Handle(ctx, api.Request{
		Action:     api.ActionStart,
		WorkflowID: id,
	})
	if err != nil {
		return err
	}
	if err := printResponse(resp); err != nil {
		return err
	}
	if resp.Status == string(store.WorkflowFailed) {
		return fmt.Errorf("workflow %q finished failed: %s", id, resp.Detail)
	}
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status <workflow-id>",
	Short: "Show a workflow's status and per-task statuses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		resp, err := a.handler.Handle(cmd.Context(), api.Request{
			Action:     api.ActionStatus,
			WorkflowID: args[0],
		})
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <workflow-id>",
	Short: "Delete a workflow (refused while it is running)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		resp, err := a.handler.Handle(cmd.Context(), api.Request{
			Action:     api.ActionDelete,
			WorkflowID: args[0],
		})
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all known workflows",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		resp, err := a.handler.Handle(cmd.Context(), api.Request{Action: api.ActionList})
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}
