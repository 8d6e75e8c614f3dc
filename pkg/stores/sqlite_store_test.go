package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "loom.db")})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Expected no error initializing, got: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Expected no error migrating, got: %v", err)
	}
	return store
}

func TestSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("Expected error for missing path")
	}
}

func TestSQLiteStore_InputCache(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.GetInputs(ctx, "api", "1.0.0", "models"); err != nil || ok {
		t.Fatalf("Expected cache miss, got ok=%v err=%v", ok, err)
	}

	inputs := map[string]string{"package": "models", "style": "terse"}
	if err := store.PutInputs(ctx, "api", "1.0.0", "models", inputs); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	got, ok, err := store.GetInputs(ctx, "api", "1.0.0", "models")
	if err != nil || !ok {
		t.Fatalf("Expected cache hit, got ok=%v err=%v", ok, err)
	}
	if got["package"] != "models" || got["style"] != "terse" {
		t.Errorf("Expected cached inputs back, got %v", got)
	}

	// Re-caching replaces the previous values.
	if err := store.PutInputs(ctx, "api", "1.0.0", "models", map[string]string{"package": "entities"}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	got, _, err = store.GetInputs(ctx, "api", "1.0.0", "models")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got["package"] != "entities" || len(got) != 1 {
		t.Errorf("Expected replaced inputs, got %v", got)
	}
}

func TestSQLiteStore_PhaseState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	state, err := store.GetPhaseState(ctx, "api", "1.0.0", "models")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if state != nil {
		t.Fatal("Expected no state before first run")
	}

	if err := store.PutPhaseState(ctx, &PhaseState{
		Series:          "api",
		Version:         "1.0.0",
		PhaseID:         "models",
		InstructionHash: "abc",
		InputsHash:      "def",
	}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	state, err = store.GetPhaseState(ctx, "api", "1.0.0", "models")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if state == nil || state.InstructionHash != "abc" || state.InputsHash != "def" {
		t.Errorf("Expected recorded state back, got %+v", state)
	}
}

func TestSQLiteStore_RunIndex(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := &Run{
		ID:        "run-1",
		Series:    "api",
		Version:   "1.0.0",
		Command:   "execute",
		Agent:     "claude",
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if err := store.FinishRun(ctx, "run-1", RunStatusCompleted, "logs/2025-11-03/run.yaml", nil); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got.Status != RunStatusCompleted {
		t.Errorf("Expected completed status, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("Expected completion time recorded")
	}
	if got.LogPath != "logs/2025-11-03/run.yaml" {
		t.Errorf("Expected log path recorded, got %s", got.LogPath)
	}

	other := &Run{ID: "run-2", Series: "webapp", Version: "1.0.0", Command: "execute", Status: RunStatusRunning, StartedAt: time.Now().UTC()}
	if err := store.CreateRun(ctx, other); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	runs, err := store.ListRuns(ctx, "api", 10, 0)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" {
		t.Errorf("Expected only the api run, got %+v", runs)
	}

	all, err := store.ListRuns(ctx, "", 10, 0)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 runs, got %d", len(all))
	}

	if err := store.FinishRun(ctx, "missing", RunStatusFailed, "", nil); err == nil {
		t.Error("Expected error for unknown run")
	}
}
