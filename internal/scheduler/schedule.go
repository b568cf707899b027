package scheduler

import "sort"

// Depths computes the topological depth of every task: 0 for tasks with
// no dependencies, otherwise 1 + the maximum depth of any dependency.
// Depth is the longest path from a root, so the maximum depth + 1 is the
// minimum number of sequential stages the workflow needs regardless of
// executor concurrency. The result is deterministic for a given graph.
func (g *Graph) Depths() map[string]int {
	order, _ := g.TopoOrder()
	depths := make(map[string]int, len(order))
	for _, id := range order {
		depth := 0
		for _, depID := range g.tasks[id].DependsOn {
			if d := depths[depID] + 1; d > depth {
				depth = d
			}
		}
		depths[id] = depth
	}
	return depths
}

// CriticalPaths computes, for every task, the length of the longest chain
// of dependents hanging off it. Tasks on the longest chain bound the
// workflow's end-to-end completion time, so they are promoted in the
// ready-batch ordering ahead of equal-depth siblings.
func (g *Graph) CriticalPaths() map[string]int {
	order, _ := g.TopoOrder()
	remaining := make(map[string]int, len(order))
	// Walk reverse-topologically so every dependent is resolved first.
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		longest := 0
		for _, depID := range g.dependents[id] {
			if d := remaining[depID] + 1; d > longest {
				longest = d
			}
		}
		remaining[id] = longest
	}
	return remaining
}

// ReadyBatch returns the ids of tasks whose dependencies are all in
// completed and which are neither completed, in flight, nor terminally
// resolved. The batch is ordered by (depth ascending, critical path
// descending, priority descending, id ascending) so that tasks unblocking
// the most downstream work go first and the order is fully deterministic.
//
// ReadyBatch imposes no concurrency limit; bounding parallelism is the
// coordinator's policy.
func (g *Graph) ReadyBatch(completed, inFlight map[string]bool) []string {
	var ready []string
	for _, id := range g.order {
		task := g.tasks[id]
		if completed[id] || inFlight[id] || task.Status.Terminal() {
			continue
		}
		ok := true
		for _, depID := range task.DependsOn {
			if !completed[depID] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}

	depths := g.Depths()
	critical := g.CriticalPaths()
	sort.SliceStable(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if depths[a] != depths[b] {
			return depths[a] < depths[b]
		}
		if critical[a] != critical[b] {
			return critical[a] > critical[b]
		}
		if pa, pb := g.tasks[a].Priority, g.tasks[b].Priority; pa != pb {
			return pa > pb
		}
		return a < b
	})
	return ready
}
