package config

import (
	"path/filepath"
	"testing"
)

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Engine.MaxConcurrency = 7
	cfg.Store.Path = "/tmp/test.db"
	cfg.Executors["general"] = ExecutorConfig{Command: "custom", Args: []string{"-x"}}

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Engine.MaxConcurrency != 7 {
		t.Errorf("MaxConcurrency = %d, want 7", loaded.Engine.MaxConcurrency)
	}
	if loaded.Store.Path != "/tmp/test.db" {
		t.Errorf("Store.Path = %q", loaded.Store.Path)
	}
	got := loaded.Executors["general"]
	if got.Command != "custom" || len(got.Args) != 1 || got.Args[0] != "-x" {
		t.Errorf("general executor = %+v", got)
	}
}
