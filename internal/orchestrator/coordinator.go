package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/taskweave/taskweave/internal/events"
	"github.com/taskweave/taskweave/internal/executor"
	"github.com/taskweave/taskweave/internal/scheduler"
	"github.com/taskweave/taskweave/internal/store"
)

// Config configures the coordinator.
type Config struct {
	// MaxConcurrency bounds how many tasks run at once. Zero or negative
	// means no bound beyond the natural wave size.
	MaxConcurrency int
	// MaxAttempts is the total number of executor invocations per task,
	// including the first (default 3).
	MaxAttempts int
	// BestEffort finishes a workflow as completed even when some tasks
	// failed, as long as everything reachable ran.
	BestEffort bool
	// Retry tunes the backoff between attempts.
	Retry RetryConfig
}

// Coordinator drives workflows from running to a terminal state. It owns
// no workflow state itself: every task transition is written through the
// store, so a snapshot taken at any moment reflects reality.
type Coordinator struct {
	store    store.Store
	registry *executor.Registry
	bus      *events.Bus
	cfg      Config
	breakers *CircuitBreakerRegistry
}

// New creates a coordinator. bus may be nil to disable event publishing.
func New(st store.Store, registry *executor.Registry, bus *events.Bus, cfg Config) *Coordinator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	return &Coordinator{
		store:    st,
		registry: registry,
		bus:      bus,
		cfg:      cfg,
		breakers: NewCircuitBreakerRegistry(),
	}
}

// taskOutcome is the settled result of one task execution.
type taskOutcome struct {
	id       string
	result   string
	err      error
	attempts int
}

// Run executes the workflow until every task is resolved or ctx is
// cancelled, then writes the workflow's terminal status and returns the
// final snapshot. The returned error reports coordinator-level problems
// (unknown workflow, wrong state, cancellation); individual task
// failures surface in the snapshot, not the error.
func (c *Coordinator) Run(ctx context.Context, workflowID string) (*store.Snapshot, error) {
	if err := c.store.Start(ctx, workflowID); err != nil {
		return nil, err
	}

	snap, err := c.store.Snapshot(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	graph, err := scheduler.BuildGraph(snap.Tasks)
	if err != nil {
		// The store validated at Create; a broken stored graph is corruption.
		return nil, fmt.Errorf("stored workflow %q is not executable: %w", workflowID, err)
	}

	// Store writes must land even after ctx is cancelled, so in-flight
	// work settles into a consistent terminal picture.
	writeCtx := context.WithoutCancel(ctx)

	startedAt := time.Now()
	c.publish(events.TopicWorkflow, events.WorkflowStarted{
		Workflow:  workflowID,
		Total:     graph.Len(),
		Timestamp: startedAt,
	})
	log.WithFields(log.Fields{
		"workflow": workflowID,
		"tasks":    graph.Len(),
	}).Info("Workflow started")

	completed := make(map[string]bool)
	inFlight := make(map[string]bool)
	results := make(map[string]string)
	var failedIDs, skippedIDs []string

	for ctx.Err() == nil {
		batch := graph.ReadyBatch(completed, inFlight)
		if len(batch) == 0 {
			break
		}

		// Admit the wave in ranked order. Tasks read as ready until their
		// goroutine clears the concurrency limit and actually starts.
		for _, id := range batch {
			task, _ := graph.Task(id)
			task.Status = scheduler.StatusReady
			if err := c.store.UpdateTask(writeCtx, workflowID, store.TaskUpdate{
				ID:     id,
				Status: scheduler.StatusReady,
			}); err != nil {
				return nil, fmt.Errorf("failed to mark task %q ready: %w", id, err)
			}
			inFlight[id] = true
		}

		var mu sync.Mutex
		outcomes := make([]taskOutcome, 0, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		if c.cfg.MaxConcurrency > 0 {
			g.SetLimit(c.cfg.MaxConcurrency)
		}
		for _, id := range batch {
			id := id
			g.Go(func() error {
				out := c.runTask(gctx, writeCtx, workflowID, graph, id, results)
				mu.Lock()
				outcomes = append(outcomes, out)
				mu.Unlock()
				return nil // task errors settle in the store, never abort the wave
			})
		}
		_ = g.Wait()

		// Settle the wave serially: in-memory maps, skip propagation.
		sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].id < outcomes[j].id })
		for _, out := range outcomes {
			delete(inFlight, out.id)
			task, _ := graph.Task(out.id)
			if out.err == nil {
				task.Status = scheduler.StatusCompleted
				completed[out.id] = true
				results[out.id] = out.result
				continue
			}
			task.Status = scheduler.StatusFailed
			failedIDs = append(failedIDs, out.id)
			skipped, err := c.skipDependents(writeCtx, workflowID, graph, out.id)
			if err != nil {
				return nil, err
			}
			skippedIDs = append(skippedIDs, skipped...)
		}

		c.publish(events.TopicWorkflow, events.WorkflowProgress{
			Workflow:  workflowID,
			Total:     graph.Len(),
			Completed: len(completed),
			Failed:    len(failedIDs),
			Skipped:   len(skippedIDs),
			Running:   len(inFlight),
			Timestamp: time.Now(),
		})
	}

	// On cancellation, tasks never admitted to a wave are still pending;
	// resolve them so the terminal snapshot has no dangling statuses.
	if ctx.Err() != nil {
		swept, err := c.skipRemaining(writeCtx, workflowID, graph)
		if err != nil {
			return nil, err
		}
		skippedIDs = append(skippedIDs, swept...)
	}

	status, detail := c.decide(ctx, graph, completed, failedIDs, skippedIDs)
	if err := c.store.FinishWorkflow(writeCtx, workflowID, status, detail); err != nil {
		return nil, err
	}
	c.publish(events.TopicWorkflow, events.WorkflowFinished{
		Workflow:  workflowID,
		Status:    string(status),
		Detail:    detail,
		Duration:  time.Since(startedAt),
		Timestamp: time.Now(),
	})
	log.WithFields(log.Fields{
		"workflow": workflowID,
		"status":   status,
		"duration": time.Since(startedAt).Round(time.Millisecond),
	}).Info("Workflow finished")

	final, snapErr := c.store.Snapshot(writeCtx, workflowID)
	if snapErr != nil {
		return nil, snapErr
	}
	if ctx.Err() != nil {
		return final, ctx.Err()
	}
	return final, nil
}

// runTask executes one task through retry and circuit breaker, writes
// its terminal task status to the store and returns the outcome.
func (c *Coordinator) runTask(ctx, writeCtx context.Context, workflowID string, graph *scheduler.Graph, id string, results map[string]string) taskOutcome {
	task, _ := graph.Task(id)
	started := time.Now()

	if err := c.store.UpdateTask(writeCtx, workflowID, store.TaskUpdate{
		ID:     id,
		Status: scheduler.StatusRunning,
	}); err != nil {
		return c.settleFailure(writeCtx, workflowID, id, 0, fmt.Errorf("failed to mark running: %w", err))
	}
	c.publish(events.TopicTask, events.TaskStarted{
		Workflow:  workflowID,
		Task:      id,
		AgentType: task.AgentType,
		Timestamp: started,
	})

	exec, err := c.registry.Lookup(task.AgentType)
	if err != nil {
		return c.settleFailure(writeCtx, workflowID, id, 0, err)
	}

	depResults := make(map[string]string, len(task.DependsOn))
	for _, depID := range task.DependsOn {
		depResults[depID] = results[depID]
	}
	req := executor.Request{
		Workflow:  workflowID,
		Task:      id,
		AgentType: task.AgentType,
		Input:     executor.RenderInput(task.Description, depResults, task.DependsOn),
		Metadata:  task.Metadata,
	}

	cb := c.breakers.Get(string(task.AgentType))
	onRetry := func(attempt int, retryErr error) {
		log.WithFields(log.Fields{
			"workflow": workflowID,
			"task":     id,
			"attempt":  attempt,
		}).WithError(retryErr).Warn("Task attempt failed, retrying")
		c.publish(events.TopicTask, events.TaskRetrying{
			Workflow:  workflowID,
			Task:      id,
			Attempt:   attempt,
			Err:       retryErr,
			Timestamp: time.Now(),
		})
	}

	result, attempts, err := executeWithRetry(ctx, exec, req, cb, c.cfg.Retry, c.cfg.MaxAttempts, onRetry)
	if err != nil {
		return c.settleFailure(writeCtx, workflowID, id, attempts, err)
	}

	if err := c.store.UpdateTask(writeCtx, workflowID, store.TaskUpdate{
		ID:       id,
		Status:   scheduler.StatusCompleted,
		Result:   result,
		Attempts: attempts,
	}); err != nil {
		return c.settleFailure(writeCtx, workflowID, id, attempts, fmt.Errorf("failed to persist result: %w", err))
	}
	c.publish(events.TopicTask, events.TaskCompleted{
		Workflow:  workflowID,
		Task:      id,
		Attempts:  attempts,
		Duration:  time.Since(started),
		Timestamp: time.Now(),
	})
	return taskOutcome{id: id, result: result, attempts: attempts}
}

// settleFailure records a task's permanent failure in the store.
func (c *Coordinator) settleFailure(writeCtx context.Context, workflowID, id string, attempts int, cause error) taskOutcome {
	if err := c.store.UpdateTask(writeCtx, workflowID, store.TaskUpdate{
		ID:       id,
		Status:   scheduler.StatusFailed,
		Error:    cause.Error(),
		Attempts: attempts,
	}); err != nil {
		log.WithFields(log.Fields{
			"workflow": workflowID,
			"task":     id,
		}).WithError(err).Error("Failed to persist task failure")
	}
	log.WithFields(log.Fields{
		"workflow": workflowID,
		"task":     id,
		"attempts": attempts,
	}).WithError(cause).Error("Task failed")
	c.publish(events.TopicTask, events.TaskFailed{
		Workflow:  workflowID,
		Task:      id,
		Attempts:  attempts,
		Err:       cause,
		Timestamp: time.Now(),
	})
	return taskOutcome{id: id, err: cause, attempts: attempts}
}

// skipDependents marks every still-pending transitive dependent of the
// failed task as skipped and returns their ids.
func (c *Coordinator) skipDependents(writeCtx context.Context, workflowID string, graph *scheduler.Graph, failedID string) ([]string, error) {
	var skipped []string
	for _, depID := range graph.TransitiveDependents(failedID) {
		task, _ := graph.Task(depID)
		if task.Status.Terminal() || task.Status == scheduler.StatusRunning {
			continue
		}
		task.Status = scheduler.StatusSkipped
		if err := c.store.UpdateTask(writeCtx, workflowID, store.TaskUpdate{
			ID:     depID,
			Status: scheduler.StatusSkipped,
			Error:  fmt.Sprintf("skipped: dependency %q failed", failedID),
		}); err != nil {
			return nil, fmt.Errorf("failed to mark task %q skipped: %w", depID, err)
		}
		c.publish(events.TopicTask, events.TaskSkipped{
			Workflow:  workflowID,
			Task:      depID,
			Cause:     failedID,
			Timestamp: time.Now(),
		})
		skipped = append(skipped, depID)
	}
	return skipped, nil
}

// skipRemaining marks every task still unresolved after a cancelled run
// as skipped and returns their ids.
func (c *Coordinator) skipRemaining(writeCtx context.Context, workflowID string, graph *scheduler.Graph) ([]string, error) {
	var skipped []string
	for _, task := range graph.Tasks() {
		if task.Status.Terminal() {
			continue
		}
		task.Status = scheduler.StatusSkipped
		if err := c.store.UpdateTask(writeCtx, workflowID, store.TaskUpdate{
			ID:     task.ID,
			Status: scheduler.StatusSkipped,
			Error:  "skipped: workflow cancelled",
		}); err != nil {
			return nil, fmt.Errorf("failed to mark task %q skipped: %w", task.ID, err)
		}
		c.publish(events.TopicTask, events.TaskSkipped{
			Workflow:  workflowID,
			Task:      task.ID,
			Timestamp: time.Now(),
		})
		skipped = append(skipped, task.ID)
	}
	return skipped, nil
}

// decide picks the workflow's terminal status once no more tasks can be
// dispatched.
func (c *Coordinator) decide(ctx context.Context, graph *scheduler.Graph, completed map[string]bool, failedIDs, skippedIDs []string) (store.WorkflowStatus, string) {
	if ctx.Err() != nil {
		return store.WorkflowFailed, "cancelled"
	}

	resolved := len(completed) + len(failedIDs) + len(skippedIDs)
	if len(failedIDs) == 0 {
		if resolved < graph.Len() {
			// Unreachable with a validated graph, covered all the same.
			return store.WorkflowFailed, fmt.Sprintf("deadlock: %d tasks unreachable", graph.Len()-resolved)
		}
		return store.WorkflowCompleted, ""
	}

	sort.Strings(failedIDs)
	detail := fmt.Sprintf("%d task(s) failed: %s", len(failedIDs), strings.Join(failedIDs, ", "))
	if c.cfg.BestEffort {
		return store.WorkflowCompleted, detail
	}
	return store.WorkflowFailed, detail
}

func (c *Coordinator) publish(topic string, event events.Event) {
	if c.bus != nil {
		c.bus.Publish(topic, event)
	}
}
