package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskweave/taskweave/internal/events"
	"github.com/taskweave/taskweave/internal/executor"
	"github.com/taskweave/taskweave/internal/scheduler"
	"github.com/taskweave/taskweave/internal/store"
)

// fastRetry keeps retry tests quick.
func fastRetry() RetryConfig {
	return RetryConfig{
		InitialInterval:     time.Millisecond,
		MaxInterval:         5 * time.Millisecond,
		MaxElapsedTime:      5 * time.Second,
		Multiplier:          1.5,
		RandomizationFactor: 0,
	}
}

func task(id string, deps ...string) *scheduler.Task {
	return &scheduler.Task{
		ID:          id,
		Description: "work for " + id,
		AgentType:   scheduler.AgentGeneral,
		DependsOn:   deps,
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewMemoryStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func registryWith(exec executor.Executor) *executor.Registry {
	r := executor.NewRegistry()
	for _, at := range scheduler.AgentTypes() {
		r.Register(at, exec)
	}
	return r
}

func echoInput() executor.Executor {
	return executor.Func(func(ctx context.Context, req executor.Request) (string, error) {
		return "result of " + req.Task, nil
	})
}

func statusOf(snap *store.Snapshot, id string) scheduler.Status {
	for _, tk := range snap.Tasks {
		if tk.ID == id {
			return tk.Status
		}
	}
	return ""
}

func taskIn(snap *store.Snapshot, id string) *scheduler.Task {
	for _, tk := range snap.Tasks {
		if tk.ID == id {
			return tk
		}
	}
	return nil
}

func TestRunDiamondCompletes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, "wf", []*scheduler.Task{
		task("A"), task("B", "A"), task("C", "A"), task("D", "B", "C"),
	}))

	var mu sync.Mutex
	inputs := map[string]string{}
	exec := executor.Func(func(ctx context.Context, req executor.Request) (string, error) {
		mu.Lock()
		inputs[req.Task] = req.Input
		mu.Unlock()
		return "result of " + req.Task, nil
	})

	c := New(st, registryWith(exec), nil, Config{Retry: fastRetry()})
	snap, err := c.Run(ctx, "wf")
	require.NoError(t, err)
	require.Equal(t, store.WorkflowCompleted, snap.Status)
	for _, id := range []string{"A", "B", "C", "D"} {
		require.Equal(t, scheduler.StatusCompleted, statusOf(snap, id), "task %s", id)
	}
	require.Equal(t, "result of D", taskIn(snap, "D").Result)

	// Downstream tasks see upstream results, in dependency order.
	require.Equal(t, "work for A", inputs["A"])
	require.Contains(t, inputs["D"], "result of B")
	require.Contains(t, inputs["D"], "result of C")
	require.Less(t, strings.Index(inputs["D"], "result of B"), strings.Index(inputs["D"], "result of C"))
	require.True(t, strings.HasSuffix(inputs["D"], "work for D"))
}

func TestRunFailurePropagatesSkips(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, "wf", []*scheduler.Task{
		task("A"), task("B", "A"), task("C", "A"), task("D", "B", "C"),
	}))

	exec := executor.Func(func(ctx context.Context, req executor.Request) (string, error) {
		if req.Task == "B" {
			return "", errors.New("B exploded")
		}
		return "ok", nil
	})

	c := New(st, registryWith(exec), nil, Config{MaxAttempts: 2, Retry: fastRetry()})
	snap, err := c.Run(ctx, "wf")
	require.NoError(t, err)
	require.Equal(t, store.WorkflowFailed, snap.Status)
	require.Contains(t, snap.Detail, "B")

	require.Equal(t, scheduler.StatusCompleted, statusOf(snap, "A"))
	require.Equal(t, scheduler.StatusFailed, statusOf(snap, "B"))
	require.Equal(t, scheduler.StatusCompleted, statusOf(snap, "C"))
	require.Equal(t, scheduler.StatusSkipped, statusOf(snap, "D"))

	b := taskIn(snap, "B")
	require.Equal(t, 2, b.Attempts)
	require.Contains(t, b.Error, "B exploded")
	require.Contains(t, taskIn(snap, "D").Error, `dependency "B" failed`)
}

func TestRunBestEffort(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, "wf", []*scheduler.Task{
		task("A"), task("B", "A"), task("C", "A"),
	}))

	exec := executor.Func(func(ctx context.Context, req executor.Request) (string, error) {
		if req.Task == "B" {
			return "", errors.New("nope")
		}
		return "ok", nil
	})

	c := New(st, registryWith(exec), nil, Config{MaxAttempts: 1, BestEffort: true, Retry: fastRetry()})
	snap, err := c.Run(ctx, "wf")
	require.NoError(t, err)
	require.Equal(t, store.WorkflowCompleted, snap.Status)
	require.Contains(t, snap.Detail, "1 task(s) failed")
	require.Equal(t, scheduler.StatusFailed, statusOf(snap, "B"))
	require.Equal(t, scheduler.StatusCompleted, statusOf(snap, "C"))
}

func TestRunRetryThenSucceed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, "wf", []*scheduler.Task{task("A")}))

	var calls atomic.Int32
	exec := executor.Func(func(ctx context.Context, req executor.Request) (string, error) {
		if calls.Add(1) == 1 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})

	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe(events.TopicTask, 32)

	c := New(st, registryWith(exec), bus, Config{MaxAttempts: 3, Retry: fastRetry()})
	snap, err := c.Run(ctx, "wf")
	require.NoError(t, err)
	require.Equal(t, store.WorkflowCompleted, snap.Status)
	require.Equal(t, 2, taskIn(snap, "A").Attempts)

	var sawRetry bool
	for {
		select {
		case ev := <-sub:
			if ev.EventType() == events.EventTypeTaskRetrying {
				sawRetry = true
			}
		default:
			require.True(t, sawRetry, "expected a task.retrying event")
			return
		}
	}
}

func TestRunStateErrors(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	c := New(st, registryWith(echoInput()), nil, Config{Retry: fastRetry()})

	_, err := c.Run(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, st.Create(ctx, "wf", []*scheduler.Task{task("A")}))
	_, err = c.Run(ctx, "wf")
	require.NoError(t, err)

	_, err = c.Run(ctx, "wf")
	require.ErrorIs(t, err, store.ErrAlreadyTerminal)
}

func TestRunCancellation(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Create(context.Background(), "wf", []*scheduler.Task{
		task("A"), task("B", "A"),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	exec := executor.Func(func(ctx context.Context, req executor.Request) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})
	go func() {
		<-started
		cancel()
	}()

	c := New(st, registryWith(exec), nil, Config{MaxAttempts: 1, Retry: fastRetry()})
	snap, err := c.Run(ctx, "wf")
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, snap)
	require.Equal(t, store.WorkflowFailed, snap.Status)
	require.Equal(t, "cancelled", snap.Detail)
	// B was never dispatched.
	require.Equal(t, scheduler.StatusSkipped, statusOf(snap, "B"))
}

// Cancellation between waves: tasks whose dependencies all completed but
// which were never admitted must still resolve, not stay pending inside
// a terminal workflow.
func TestRunCancellationSweepsPending(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Create(context.Background(), "wf", []*scheduler.Task{
		task("A"), task("B", "A"),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	exec := executor.Func(func(ctx context.Context, req executor.Request) (string, error) {
		// Cancel after A succeeds, before the next wave is admitted.
		cancel()
		return "ok", nil
	})

	c := New(st, registryWith(exec), nil, Config{MaxAttempts: 1, Retry: fastRetry()})
	snap, err := c.Run(ctx, "wf")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, store.WorkflowFailed, snap.Status)
	require.Equal(t, "cancelled", snap.Detail)

	require.Equal(t, scheduler.StatusCompleted, statusOf(snap, "A"))
	require.Equal(t, scheduler.StatusSkipped, statusOf(snap, "B"))
	require.Contains(t, taskIn(snap, "B").Error, "cancelled")
}

func TestRunUnboundAgentType(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, "wf", []*scheduler.Task{{
		ID:          "A",
		Description: "browse",
		AgentType:   scheduler.AgentBrowser,
	}}))

	r := executor.NewRegistry()
	r.Register(scheduler.AgentGeneral, echoInput())

	c := New(st, r, nil, Config{MaxAttempts: 1, Retry: fastRetry()})
	snap, err := c.Run(ctx, "wf")
	require.NoError(t, err)
	require.Equal(t, store.WorkflowFailed, snap.Status)
	require.Contains(t, taskIn(snap, "A").Error, "no executor for agent type")
}

func TestRunConcurrencyLimit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	var tasks []*scheduler.Task
	for i := 0; i < 6; i++ {
		tasks = append(tasks, task(fmt.Sprintf("t%d", i)))
	}
	require.NoError(t, st.Create(ctx, "wf", tasks))

	var current, peak atomic.Int32
	exec := executor.Func(func(ctx context.Context, req executor.Request) (string, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
		return "ok", nil
	})

	c := New(st, registryWith(exec), nil, Config{MaxConcurrency: 2, Retry: fastRetry()})
	snap, err := c.Run(ctx, "wf")
	require.NoError(t, err)
	require.Equal(t, store.WorkflowCompleted, snap.Status)
	require.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunPublishesWorkflowEvents(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, "wf", []*scheduler.Task{task("A"), task("B", "A")}))

	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe(events.TopicWorkflow, 32)

	c := New(st, registryWith(echoInput()), bus, Config{Retry: fastRetry()})
	_, err := c.Run(ctx, "wf")
	require.NoError(t, err)

	var types []string
	for done := false; !done; {
		select {
		case ev := <-sub:
			types = append(types, ev.EventType())
		default:
			done = true
		}
	}
	require.NotEmpty(t, types)
	require.Equal(t, events.EventTypeWorkflowStarted, types[0])
	require.Equal(t, events.EventTypeWorkflowFinished, types[len(types)-1])
	require.Contains(t, types, events.EventTypeWorkflowProgress)
}
