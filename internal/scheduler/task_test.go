package scheduler

import (
	"errors"
	"testing"
)

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusReady, StatusRunning, StatusCompleted, StatusFailed, StatusSkipped} {
		if !s.Valid() {
			t.Errorf("Status(%q).Valid() = false, want true", s)
		}
	}
	if Status("paused").Valid() {
		t.Error(`Status("paused").Valid() = true, want false`)
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusPending: false, StatusReady: false, StatusRunning: false,
		StatusCompleted: true, StatusFailed: true, StatusSkipped: true,
	}
	for s, want := range terminal {
		if got := s.Terminal(); got != want {
			t.Errorf("Status(%q).Terminal() = %v, want %v", s, got, want)
		}
	}
}

func TestAgentTypeValid(t *testing.T) {
	for _, a := range AgentTypes() {
		if !a.Valid() {
			t.Errorf("AgentType(%q).Valid() = false, want true", a)
		}
	}
	for _, a := range []AgentType{"", "wizard", "GENERAL"} {
		if a.Valid() {
			t.Errorf("AgentType(%q).Valid() = true, want false", a)
		}
	}
}

func TestTaskValidateIDs(t *testing.T) {
	valid := []string{"a", "task_1", "fetch-data", "A1-b2_c3"}
	for _, id := range valid {
		tk := &Task{ID: id, Description: "x", AgentType: AgentBrowser}
		if err := tk.Validate(); err != nil {
			t.Errorf("Validate(%q) error = %v, want nil", id, err)
		}
	}
	invalid := []string{"", "has space", "semi;colon", "slash/", "dot.dot"}
	for _, id := range invalid {
		tk := &Task{ID: id, Description: "x", AgentType: AgentBrowser}
		if err := tk.Validate(); !errors.Is(err, ErrInvalidTask) {
			t.Errorf("Validate(%q) error = %v, want ErrInvalidTask", id, err)
		}
	}
}

func TestTaskClone(t *testing.T) {
	orig := &Task{
		ID:          "A",
		Description: "x",
		AgentType:   AgentGeneral,
		DependsOn:   []string{"B"},
		Metadata:    map[string]string{"k": "v"},
	}
	cp := orig.Clone()
	cp.DependsOn[0] = "Z"
	cp.Metadata["k"] = "other"
	if orig.DependsOn[0] != "B" {
		t.Error("Clone() shares DependsOn backing array")
	}
	if orig.Metadata["k"] != "v" {
		t.Error("Clone() shares Metadata map")
	}
}
