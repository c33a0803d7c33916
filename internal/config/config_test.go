package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	store, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	g := store.Global()
	if g.MaxRetries != 3 || !g.Enabled {
		t.Fatalf("unexpected defaults: %+v", g)
	}
	if len(store.TimeoutProfiles()) == 0 {
		t.Fatal("expected at least the built-in default timeout profile")
	}
}

func TestProjectOverrideResolvesOntoGlobal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runner-config.json")
	body := `{
		"global": {"max_retries": 3, "restart_max": 3, "enabled": true},
		"projects": [{"project_id": "p1", "max_retries": 7}]
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	resolved := store.Project("p1")
	if resolved.MaxRetries != 7 {
		t.Fatalf("expected project override to win, got %d", resolved.MaxRetries)
	}
	if resolved.RestartMax != 3 {
		t.Fatalf("expected unset fields to fall back to global, got %d", resolved.RestartMax)
	}

	unknown := store.Project("does-not-exist")
	if unknown.MaxRetries != 3 {
		t.Fatalf("expected global default for unknown project, got %d", unknown.MaxRetries)
	}
}

func TestSetProjectUpsertsOverride(t *testing.T) {
	store, _ := Load(filepath.Join(t.TempDir(), "missing.json"))
	retries := 9
	store.SetProject(ProjectConfig{ProjectID: "p2", MaxRetries: &retries})
	if got := store.Project("p2").MaxRetries; got != 9 {
		t.Fatalf("expected override to apply, got %d", got)
	}
}
