package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/taskweave/taskweave/internal/scheduler"
	_ "modernc.org/sqlite"
)

// State errors returned synchronously from store operations.
var (
	ErrNotFound          = errors.New("workflow not found")
	ErrDuplicateWorkflow = errors.New("duplicate workflow id")
	ErrAlreadyRunning    = errors.New("workflow already running")
	ErrAlreadyTerminal   = errors.New("workflow already terminal")
	ErrInvalidState      = errors.New("invalid workflow state")
)

// WorkflowStatus tracks the lifecycle of a workflow.
type WorkflowStatus string

const (
	WorkflowCreated   WorkflowStatus = "created"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
)

// Terminal returns true once the workflow can no longer change state.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed
}

// TaskUpdate carries one task status transition to be written through.
type TaskUpdate struct {
	ID       string
	Status   scheduler.Status
	Result   string
	Error    string
	Attempts int
}

// Snapshot is an immutable point-in-time copy of a workflow. Tasks are in
// insertion order.
type Snapshot struct {
	ID        string
	Status    WorkflowStatus
	Detail    string
	CreatedAt time.Time
	UpdatedAt time.Time
	Tasks     []*scheduler.Task
}

// TasksWithStatus returns the ids of tasks currently in the given status.
func (s *Snapshot) TasksWithStatus(status scheduler.Status) []string {
	var out []string
	for _, t := range s.Tasks {
		if t.Status == status {
			out = append(out, t.ID)
		}
	}
	return out
}

// Summary is a compact listing entry for one workflow.
type Summary struct {
	ID        string
	Status    WorkflowStatus
	Detail    string
	Total     int
	Completed int
	Failed    int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the durable registry of workflows. A workflow is owned
// exclusively by its store; the coordinator writes every status
// transition back through this interface.
type Store interface {
	// Create validates the task list into a DAG and persists the workflow.
	Create(ctx context.Context, workflowID string, tasks []*scheduler.Task) error

	// Start transitions created -> running.
	Start(ctx context.Context, workflowID string) error

	// UpdateTask writes one task status transition.
	UpdateTask(ctx context.Context, workflowID string, upd TaskUpdate) error

	// FinishWorkflow writes the workflow's terminal status and detail.
	FinishWorkflow(ctx context.Context, workflowID string, status WorkflowStatus, detail string) error

	// Snapshot returns a point-in-time copy of the workflow and its tasks.
	Snapshot(ctx context.Context, workflowID string) (*Snapshot, error)

	// Delete removes a workflow; refused while it is running.
	Delete(ctx context.Context, workflowID string) error

	// List returns summaries of all known workflows.
	List(ctx context.Context) ([]Summary, error)

	// Close flushes and closes the store.
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	locks *workflowLocks
}

// NewSQLiteStore opens a SQLite-backed store at the given path, creating
// parent directories as needed. Enables WAL mode, foreign keys, and a
// busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)
	return open(ctx, connStr)
}

var memStoreSeq atomic.Int64

// NewMemoryStore creates an in-memory store for testing. A shared cache
// lets both pooled connections see the same database; the sequence number
// keeps separate stores isolated from each other.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	name := fmt.Sprintf("file:memdb%d?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", memStoreSeq.Add(1))
	return open(ctx, name)
}

// open expects pragmas in the DSN's _pragma form so every pooled
// connection gets them; a plain PRAGMA statement would configure only
// whichever connection happened to execute it.
func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(2)

	s := &SQLiteStore{db: db, locks: newWorkflowLocks()}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
