package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/taskweave/taskweave/internal/scheduler"
)

// Create validates the task list into a DAG and persists the workflow
// atomically. Validation failures surface before anything is written.
func (s *SQLiteStore) Create(ctx context.Context, workflowID string, tasks []*scheduler.Task) error {
	if workflowID == "" {
		return fmt.Errorf("%w: empty workflow id", ErrInvalidState)
	}

	// Validation runs before persistence; a rejected plan leaves no trace.
	if _, err := scheduler.BuildGraph(tasks); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM workflows WHERE id = ?`, workflowID).Scan(&exists)
	if err == nil {
		return fmt.Errorf("%w: %q", ErrDuplicateWorkflow, workflowID)
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to check workflow existence: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflows (id, status) VALUES (?, ?)
	`, workflowID, WorkflowCreated)
	if err != nil {
		return fmt.Errorf("failed to insert workflow: %w", err)
	}

	for pos, task := range tasks {
		metadata, err := json.Marshal(task.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for task %q: %w", task.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_tasks
				(workflow_id, id, position, description, agent_type, priority, status, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, workflowID, task.ID, pos, task.Description, string(task.AgentType), task.Priority, string(task.Status), string(metadata))
		if err != nil {
			return fmt.Errorf("failed to insert task %q: %w", task.ID, err)
		}
	}

	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO task_dependencies (workflow_id, task_id, depends_on_id)
				VALUES (?, ?, ?)
			`, workflowID, task.ID, depID)
			if err != nil {
				return fmt.Errorf("failed to insert dependency %s -> %s: %w", task.ID, depID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Start transitions the workflow from created to running. A second start
// reports the workflow's actual state without altering it.
func (s *SQLiteStore) Start(ctx context.Context, workflowID string) error {
	s.locks.lock(workflowID)
	defer s.locks.unlock(workflowID)

	res, err := s.db.ExecContext(ctx, `
		UPDATE workflows
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, WorkflowRunning, workflowID, WorkflowCreated)
	if err != nil {
		return fmt.Errorf("failed to start workflow: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 1 {
		return nil
	}

	// No transition happened; report why.
	status, err := s.workflowStatus(ctx, workflowID)
	if err != nil {
		return err
	}
	switch {
	case status == WorkflowRunning:
		return fmt.Errorf("%w: %q", ErrAlreadyRunning, workflowID)
	case status.Terminal():
		return fmt.Errorf("%w: %q is %s", ErrAlreadyTerminal, workflowID, status)
	default:
		return fmt.Errorf("%w: %q is %s", ErrInvalidState, workflowID, status)
	}
}

// UpdateTask writes one task status transition through to storage.
// Writes to the same workflow are serialized so observers never see a
// task in two states.
func (s *SQLiteStore) UpdateTask(ctx context.Context, workflowID string, upd TaskUpdate) error {
	s.locks.lock(workflowID)
	defer s.locks.unlock(workflowID)

	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_tasks
		SET status = ?, result = ?, error = ?, attempts = ?
		WHERE workflow_id = ? AND id = ?
	`, string(upd.Status), upd.Result, upd.Error, upd.Attempts, workflowID, upd.ID)
	if err != nil {
		return fmt.Errorf("failed to update task %q: %w", upd.ID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: task %q in workflow %q", ErrNotFound, upd.ID, workflowID)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE workflows SET updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, workflowID)
	if err != nil {
		return fmt.Errorf("failed to touch workflow: %w", err)
	}
	return nil
}

// FinishWorkflow records the workflow's terminal status and detail.
func (s *SQLiteStore) FinishWorkflow(ctx context.Context, workflowID string, status WorkflowStatus, detail string) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %s is not a terminal status", ErrInvalidState, status)
	}

	s.locks.lock(workflowID)
	defer s.locks.unlock(workflowID)

	res, err := s.db.ExecContext(ctx, `
		UPDATE workflows
		SET status = ?, detail = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, string(status), detail, workflowID)
	if err != nil {
		return fmt.Errorf("failed to finish workflow: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, workflowID)
	}
	return nil
}

// Snapshot returns an immutable point-in-time copy of the workflow with
// its tasks in insertion order.
func (s *SQLiteStore) Snapshot(ctx context.Context, workflowID string) (*Snapshot, error) {
	snap := &Snapshot{ID: workflowID}
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT status, detail, created_at, updated_at
		FROM workflows WHERE id = ?
	`, workflowID).Scan(&status, &snap.Detail, &snap.CreatedAt, &snap.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, workflowID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow: %w", err)
	}
	snap.Status = WorkflowStatus(status)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, description, agent_type, priority, status, metadata, result, error, attempts
		FROM workflow_tasks
		WHERE workflow_id = ?
		ORDER BY position
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		task := &scheduler.Task{}
		var agentType, taskStatus, metadata string
		if err := rows.Scan(&task.ID, &task.Description, &agentType, &task.Priority,
			&taskStatus, &metadata, &task.Result, &task.Error, &task.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		task.AgentType = scheduler.AgentType(agentType)
		task.Status = scheduler.Status(taskStatus)
		if metadata != "" && metadata != "null" {
			if err := json.Unmarshal([]byte(metadata), &task.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for task %q: %w", task.ID, err)
			}
		}
		snap.Tasks = append(snap.Tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	// Load dependencies per task (second connection; see SetMaxOpenConns).
	for _, task := range snap.Tasks {
		depRows, err := s.db.QueryContext(ctx, `
			SELECT depends_on_id FROM task_dependencies
			WHERE workflow_id = ? AND task_id = ?
			ORDER BY depends_on_id
		`, workflowID, task.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to query dependencies for %q: %w", task.ID, err)
		}
		for depRows.Next() {
			var depID string
			if err := depRows.Scan(&depID); err != nil {
				depRows.Close()
				return nil, fmt.Errorf("failed to scan dependency: %w", err)
			}
			task.DependsOn = append(task.DependsOn, depID)
		}
		depRows.Close()
		if err := depRows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating dependencies: %w", err)
		}
	}

	return snap, nil
}

// Delete removes a workflow and its tasks. Refused while running.
func (s *SQLiteStore) Delete(ctx context.Context, workflowID string) error {
	s.locks.lock(workflowID)
	defer s.locks.unlock(workflowID)

	status, err := s.workflowStatus(ctx, workflowID)
	if err != nil {
		return err
	}
	if status == WorkflowRunning {
		return fmt.Errorf("%w: cannot delete running workflow %q", ErrInvalidState, workflowID)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, workflowID); err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	s.locks.forget(workflowID)
	return nil
}

// List returns summaries of all known workflows, oldest first.
func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.id, w.status, w.detail, w.created_at, w.updated_at,
			COUNT(t.id),
			SUM(CASE WHEN t.status = 'completed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN t.status = 'failed' THEN 1 ELSE 0 END)
		FROM workflows w
		LEFT JOIN workflow_tasks t ON t.workflow_id = w.id
		GROUP BY w.id
		ORDER BY w.created_at, w.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var status string
		var completed, failed sql.NullInt64
		if err := rows.Scan(&sum.ID, &status, &sum.Detail, &sum.CreatedAt, &sum.UpdatedAt,
			&sum.Total, &completed, &failed); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		sum.Status = WorkflowStatus(status)
		sum.Completed = int(completed.Int64)
		sum.Failed = int(failed.Int64)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) workflowStatus(ctx context.Context, workflowID string) (WorkflowStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM workflows WHERE id = ?`, workflowID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: %q", ErrNotFound, workflowID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query workflow status: %w", err)
	}
	return WorkflowStatus(status), nil
}
