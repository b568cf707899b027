package scheduler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gammazero/toposort"
)

// Validation errors. All are surfaced synchronously at workflow creation
// and never reach execution.
var (
	ErrInvalidTask       = errors.New("invalid task")
	ErrDuplicateTaskID   = errors.New("duplicate task id")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrSelfDependency    = errors.New("self dependency")
	ErrCycle             = errors.New("cyclic dependency")
)

// Graph is a validated directed acyclic graph of tasks. It is built once
// from an ordered task list and is immutable afterwards; execution state
// lives in the tasks' Status fields, not in the graph structure.
type Graph struct {
	tasks      map[string]*Task
	order      []string            // insertion order, for deterministic tie-breaking
	dependents map[string][]string // taskID -> tasks that depend on it
}

// BuildGraph validates an ordered task list into a Graph.
// It rejects duplicate ids, dangling dependency references, self
// dependencies and cycles. The input tasks are normalized in place.
func BuildGraph(tasks []*Task) (*Graph, error) {
	g := &Graph{
		tasks:      make(map[string]*Task, len(tasks)),
		order:      make([]string, 0, len(tasks)),
		dependents: make(map[string][]string),
	}

	for _, task := range tasks {
		task.Normalize()
		if err := task.Validate(); err != nil {
			return nil, err
		}
		if _, exists := g.tasks[task.ID]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTaskID, task.ID)
		}
		g.tasks[task.ID] = task
		g.order = append(g.order, task.ID)
	}

	for _, id := range g.order {
		for _, depID := range g.tasks[id].DependsOn {
			if _, exists := g.tasks[depID]; !exists {
				return nil, fmt.Errorf("%w: task %q depends on %q", ErrUnknownDependency, id, depID)
			}
			g.dependents[depID] = append(g.dependents[depID], id)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(cycle, " -> "))
	}

	return g, nil
}

// findCycle runs a depth-first traversal with white/gray/black coloring.
// A back-edge into a gray node (still on the current path) is a cycle;
// the returned slice names the cycle's members in path order.
func (g *Graph) findCycle() []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current path
		black = 2 // fully explored
	)
	colors := make(map[string]int, len(g.tasks))
	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = gray
		path = append(path, id)

		for _, depID := range g.tasks[id].DependsOn {
			switch colors[depID] {
			case gray:
				// Trim the path down to the cycle entry point.
				for i, p := range path {
					if p == depID {
						cycle = append([]string(nil), path[i:]...)
						return true
					}
				}
				cycle = append([]string(nil), path...)
				return true
			case white:
				if visit(depID) {
					return true
				}
			}
		}

		colors[id] = black
		path = path[:len(path)-1]
		return false
	}

	for _, id := range g.order {
		if colors[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

// Len returns the number of tasks in the graph.
func (g *Graph) Len() int {
	return len(g.tasks)
}

// Task returns the task with the given id.
func (g *Graph) Task(id string) (*Task, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

// Tasks returns all tasks in insertion order.
func (g *Graph) Tasks() []*Task {
	out := make([]*Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[id])
	}
	return out
}

// Dependents returns the ids of tasks that directly depend on id.
func (g *Graph) Dependents(id string) []string {
	return g.dependents[id]
}

// TransitiveDependents returns every task reachable from id over
// dependent edges, in breadth-first order. Used to propagate skips when
// a task fails permanently.
func (g *Graph) TransitiveDependents(id string) []string {
	seen := map[string]bool{id: true}
	queue := append([]string(nil), g.dependents[id]...)
	var out []string

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		out = append(out, next)
		queue = append(queue, g.dependents[next]...)
	}
	return out
}

// TopoOrder returns task ids in an order where every dependency precedes
// its dependents. The graph is already cycle-checked, so this cannot fail
// on a Graph produced by BuildGraph.
func (g *Graph) TopoOrder() ([]string, error) {
	var edges []toposort.Edge
	for _, id := range g.order {
		task := g.tasks[id]
		if len(task.DependsOn) == 0 {
			// Root tasks need a nil edge so toposort includes them.
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, depID := range task.DependsOn {
			edges = append(edges, toposort.Edge{depID, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCycle, err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	return order, nil
}
