package store

import "sync"

// workflowLocks provides per-workflow mutual exclusion for status writes.
// Keyed mutex pattern: each workflow id gets its own mutex, so concurrent
// task completions within one workflow are serialized while different
// workflows proceed fully independently.
type workflowLocks struct {
	mu    sync.Mutex             // Guards the locks map itself
	locks map[string]*sync.Mutex // Per-workflow mutexes
}

func newWorkflowLocks() *workflowLocks {
	return &workflowLocks{
		locks: make(map[string]*sync.Mutex),
	}
}

// lock acquires the mutex for the given workflow id, creating it on first
// access.
func (w *workflowLocks) lock(workflowID string) {
	w.mu.Lock()
	l, exists := w.locks[workflowID]
	if !exists {
		l = &sync.Mutex{}
		w.locks[workflowID] = l
	}
	w.mu.Unlock()

	// Acquire outside the manager lock to avoid contention.
	l.Lock()
}

// unlock releases the mutex for the given workflow id.
func (w *workflowLocks) unlock(workflowID string) {
	w.mu.Lock()
	l, exists := w.locks[workflowID]
	w.mu.Unlock()

	if exists {
		l.Unlock()
	}
}

// forget drops the mutex for a deleted workflow.
func (w *workflowLocks) forget(workflowID string) {
	w.mu.Lock()
	delete(w.locks, workflowID)
	w.mu.Unlock()
}
