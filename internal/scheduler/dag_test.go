package scheduler

import (
	"errors"
	"strings"
	"testing"
)

func task(id string, deps ...string) *Task {
	return &Task{
		ID:          id,
		Description: "do " + id,
		AgentType:   AgentGeneral,
		DependsOn:   deps,
	}
}

// TestBuildGraph tests validation with various graph structures.
func TestBuildGraph(t *testing.T) {
	tests := []struct {
		name        string
		tasks       []*Task
		wantErr     error
		errContains string
	}{
		{
			name:  "valid linear chain",
			tasks: []*Task{task("A"), task("B", "A"), task("C", "B")},
		},
		{
			name:  "valid diamond",
			tasks: []*Task{task("A"), task("B", "A"), task("C", "A"), task("D", "B", "C")},
		},
		{
			name:  "single task no deps",
			tasks: []*Task{task("A")},
		},
		{
			name: "disconnected components",
			tasks: []*Task{
				task("A"), task("B", "A"),
				task("C"), task("D", "C"),
			},
		},
		{
			name:        "duplicate task id",
			tasks:       []*Task{task("A"), task("A")},
			wantErr:     ErrDuplicateTaskID,
			errContains: "A",
		},
		{
			name:        "missing dependency",
			tasks:       []*Task{task("A", "ghost")},
			wantErr:     ErrUnknownDependency,
			errContains: "ghost",
		},
		{
			name:        "self dependency",
			tasks:       []*Task{task("A", "A")},
			wantErr:     ErrSelfDependency,
			errContains: "A",
		},
		{
			name:        "direct cycle names both members",
			tasks:       []*Task{task("A", "B"), task("B", "A")},
			wantErr:     ErrCycle,
			errContains: "A",
		},
		{
			name:        "transitive cycle",
			tasks:       []*Task{task("A", "C"), task("B", "A"), task("C", "B")},
			wantErr:     ErrCycle,
			errContains: "cyclic",
		},
		{
			name: "cycle in otherwise valid graph",
			tasks: []*Task{
				task("root"), task("X", "root", "Z"), task("Y", "X"), task("Z", "Y"),
			},
			wantErr: ErrCycle,
		},
		{
			name:        "empty description",
			tasks:       []*Task{{ID: "A", AgentType: AgentGeneral}},
			wantErr:     ErrInvalidTask,
			errContains: "description",
		},
		{
			name:        "bad id characters",
			tasks:       []*Task{{ID: "a b", Description: "x", AgentType: AgentGeneral}},
			wantErr:     ErrInvalidTask,
			errContains: "a b",
		},
		{
			name:        "unknown agent type",
			tasks:       []*Task{{ID: "A", Description: "x", AgentType: "quantum"}},
			wantErr:     ErrInvalidTask,
			errContains: "quantum",
		},
		{
			name:        "priority out of range",
			tasks:       []*Task{{ID: "A", Description: "x", AgentType: AgentGeneral, Priority: 12}},
			wantErr:     ErrInvalidTask,
			errContains: "priority",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := BuildGraph(tt.tasks)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("BuildGraph() error = %v, want nil", err)
				}
				if g.Len() != len(tt.tasks) {
					t.Errorf("Len() = %d, want %d", g.Len(), len(tt.tasks))
				}
				return
			}
			if err == nil {
				t.Fatalf("BuildGraph() error = nil, want %v", tt.wantErr)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("BuildGraph() error = %v, want errors.Is(%v)", err, tt.wantErr)
			}
			if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("BuildGraph() error %q does not mention %q", err, tt.errContains)
			}
		})
	}
}

// TestBuildGraphCycleMembers verifies the error names every task on the cycle.
func TestBuildGraphCycleMembers(t *testing.T) {
	_, err := BuildGraph([]*Task{task("A", "B"), task("B", "A")})
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("BuildGraph() error = %v, want ErrCycle", err)
	}
	for _, id := range []string{"A", "B"} {
		if !strings.Contains(err.Error(), id) {
			t.Errorf("cycle error %q missing member %q", err, id)
		}
	}
}

func TestBuildGraphDefaults(t *testing.T) {
	tasks := []*Task{task("A")}
	if _, err := BuildGraph(tasks); err != nil {
		t.Fatalf("BuildGraph() error = %v", err)
	}
	if tasks[0].Priority != DefaultPriority {
		t.Errorf("Priority = %d, want default %d", tasks[0].Priority, DefaultPriority)
	}
	if tasks[0].Status != StatusPending {
		t.Errorf("Status = %q, want %q", tasks[0].Status, StatusPending)
	}
}

func TestTopoOrder(t *testing.T) {
	g, err := BuildGraph([]*Task{task("A"), task("B", "A"), task("C", "A"), task("D", "B", "C")})
	if err != nil {
		t.Fatalf("BuildGraph() error = %v", err)
	}
	order, err := g.TopoOrder()
	if err != nil {
		t.Fatalf("TopoOrder() error = %v", err)
	}
	if len(order) != 4 {
		t.Fatalf("TopoOrder() returned %d ids, want 4", len(order))
	}
	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	for _, tk := range g.Tasks() {
		for _, dep := range tk.DependsOn {
			if pos[dep] > pos[tk.ID] {
				t.Errorf("dependency %q sorted after dependent %q", dep, tk.ID)
			}
		}
	}
}

func TestTransitiveDependents(t *testing.T) {
	g, err := BuildGraph([]*Task{
		task("A"), task("B", "A"), task("C", "B"), task("D", "C"), task("E"),
	})
	if err != nil {
		t.Fatalf("BuildGraph() error = %v", err)
	}
	got := g.TransitiveDependents("B")
	want := map[string]bool{"C": true, "D": true}
	if len(got) != len(want) {
		t.Fatalf("TransitiveDependents(B) = %v, want members of %v", got, want)
	}
	for _, id := range got {
		if !want[id] {
			t.Errorf("unexpected transitive dependent %q", id)
		}
	}
	if deps := g.TransitiveDependents("E"); len(deps) != 0 {
		t.Errorf("TransitiveDependents(E) = %v, want empty", deps)
	}
}
