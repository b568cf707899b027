package store

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS workflow_tasks (
		workflow_id TEXT NOT NULL,
		id TEXT NOT NULL,
		position INTEGER NOT NULL,
		description TEXT NOT NULL,
		agent_type TEXT NOT NULL,
		priority INTEGER NOT NULL,
		status TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		result TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (workflow_id, id),
		FOREIGN KEY (workflow_id) REFERENCES workflows(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_workflow_tasks_position
		ON workflow_tasks(workflow_id, position);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		workflow_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		PRIMARY KEY (workflow_id, task_id, depends_on_id),
		FOREIGN KEY (workflow_id, task_id) REFERENCES workflow_tasks(workflow_id, id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_dependencies_task
		ON task_dependencies(workflow_id, task_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
