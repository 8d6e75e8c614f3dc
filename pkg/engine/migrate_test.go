package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/loomworks/loom/pkg/manifest"
	"github.com/loomworks/loom/pkg/provenance"
)

func migrateV1() *manifest.Manifest {
	return &manifest.Manifest{
		Series:  "api",
		Version: manifest.MustParseVersion("1.0.0"),
		Phases: []manifest.PhaseDefinition{
			{ID: "models", Type: manifest.PhaseGeneration, Produces: []string{"src/models.go"}, Instruction: "gen models\n"},
			{ID: "legacy", Type: manifest.PhaseGeneration, Produces: []string{"src/legacy.go"}, Instruction: "gen legacy\n"},
		},
	}
}

func migrateV2() *manifest.Manifest {
	return &manifest.Manifest{
		Series:  "api",
		Version: manifest.MustParseVersion("2.0.0"),
		Phases: []manifest.PhaseDefinition{
			{ID: "models", Type: manifest.PhaseGeneration, Produces: []string{"src/models.go"}, Instruction: "gen models v2\n"},
			{ID: "docs", Type: manifest.PhaseGeneration, Produces: []string{"docs/api.md"}, Instruction: "gen docs\n"},
		},
	}
}

func TestMigrate_RegeneratesChangedAndAddedPhases(t *testing.T) {
	h := newHarness(t,
		fileResponse(map[string]string{"src/models.go": "package models\n"}),
		fileResponse(map[string]string{"src/legacy.go": "package legacy\n"}),
		fileResponse(map[string]string{"src/models.go": "package models // v2\n"}),
		fileResponse(map[string]string{"docs/api.md": "# API\n"}),
	)
	h.publish(t, migrateV1())

	if _, err := h.executor.Execute(context.Background(), RunOptions{Series: "api"}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	h.publish(t, migrateV2())

	result, err := h.executor.Migrate(context.Background(), MigrateOptions{Series: "api"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if result.FromVersion.String() != "1.0.0" || result.ToVersion.String() != "2.0.0" {
		t.Errorf("Expected 1.0.0 -> 2.0.0, got %s -> %s", result.FromVersion, result.ToVersion)
	}
	if !reflect.DeepEqual(result.Regenerated, []string{"docs", "models"}) {
		t.Errorf("Expected [docs models] regenerated, got %v", result.Regenerated)
	}
	if !reflect.DeepEqual(result.Orphans, []string{"src/legacy.go"}) {
		t.Errorf("Expected [src/legacy.go] orphaned, got %v", result.Orphans)
	}
	if result.Record == nil || result.Record.Command != "migrate" {
		t.Fatalf("Expected a migrate run record, got %+v", result.Record)
	}

	// Regenerated artifacts carry the target version.
	fields, err := provenance.Decode(h.workspaceFile(t, "src/models.go"))
	if err != nil {
		t.Fatalf("Expected provenance header, got: %v", err)
	}
	if fields.Version != "2.0.0" {
		t.Errorf("Expected version 2.0.0 stamped, got %s", fields.Version)
	}

	// The orphan stays in place with its old header.
	fields, err = provenance.Decode(h.workspaceFile(t, "src/legacy.go"))
	if err != nil {
		t.Fatalf("Expected orphan to survive, got: %v", err)
	}
	if fields.Version != "1.0.0" {
		t.Errorf("Expected orphan to keep version 1.0.0, got %s", fields.Version)
	}
}

func TestMigrate_DryRunPlansOnly(t *testing.T) {
	h := newHarness(t,
		fileResponse(map[string]string{"src/models.go": "package models\n"}),
		fileResponse(map[string]string{"src/legacy.go": "package legacy\n"}),
	)
	h.publish(t, migrateV1())

	if _, err := h.executor.Execute(context.Background(), RunOptions{Series: "api"}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	h.publish(t, migrateV2())
	callsBefore := len(h.mock.Calls())

	result, err := h.executor.Migrate(context.Background(), MigrateOptions{Series: "api", DryRun: true})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if result.Record != nil {
		t.Error("Expected no run record on dry run")
	}
	if len(result.Regenerated) != 2 {
		t.Errorf("Expected plan to list 2 phases, got %v", result.Regenerated)
	}
	if calls := len(h.mock.Calls()); calls != callsBefore {
		t.Errorf("Expected no agent calls on dry run, got %d extra", calls-callsBefore)
	}
	fields, err := provenance.Decode(h.workspaceFile(t, "src/models.go"))
	if err != nil {
		t.Fatalf("Expected provenance header, got: %v", err)
	}
	if fields.Version != "1.0.0" {
		t.Errorf("Expected workspace untouched, got version %s", fields.Version)
	}
}

func TestMigrate_SameVersionIsNoOp(t *testing.T) {
	h := newHarness(t,
		fileResponse(map[string]string{"src/models.go": "package models\n"}),
		fileResponse(map[string]string{"src/legacy.go": "package legacy\n"}),
	)
	h.publish(t, migrateV1())

	if _, err := h.executor.Execute(context.Background(), RunOptions{Series: "api"}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	result, err := h.executor.Migrate(context.Background(), MigrateOptions{Series: "api"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.FromVersion != result.ToVersion {
		t.Errorf("Expected same-version no-op, got %s -> %s", result.FromVersion, result.ToVersion)
	}
	if len(result.Regenerated) != 0 || result.Record != nil {
		t.Errorf("Expected nothing regenerated, got %+v", result)
	}
	if !reflect.DeepEqual(result.Diff.Unchanged, []string{"models", "legacy"}) {
		t.Errorf("Expected all phases unchanged, got %v", result.Diff.Unchanged)
	}
}

func TestMigrate_ExplicitFromVersion(t *testing.T) {
	h := newHarness(t,
		fileResponse(map[string]string{"docs/api.md": "# API\n"}),
	)
	h.publish(t, migrateV1())
	h.publish(t, migrateV2())

	// Empty workspace: the version must come from the flag. Modified
	// phases have no scanned artifacts here, so only the added phase
	// regenerates.
	result, err := h.executor.Migrate(context.Background(), MigrateOptions{
		Series: "api", FromVersion: "1.0.0",
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !reflect.DeepEqual(result.Regenerated, []string{"docs"}) {
		t.Errorf("Expected [docs] regenerated, got %v", result.Regenerated)
	}
	if len(result.Orphans) != 0 {
		t.Errorf("Expected no orphans in an empty workspace, got %v", result.Orphans)
	}
}

func TestMigrate_ScopeRestrictsScan(t *testing.T) {
	v1 := &manifest.Manifest{
		Series:  "api",
		Version: manifest.MustParseVersion("1.0.0"),
		Phases: []manifest.PhaseDefinition{
			{ID: "server", Type: manifest.PhaseGeneration, Produces: []string{"server/main.go"}, Instruction: "gen server\n"},
			{ID: "client", Type: manifest.PhaseGeneration, Produces: []string{"client/app.ts"}, Instruction: "gen client\n"},
		},
	}
	v2 := &manifest.Manifest{
		Series:  "api",
		Version: manifest.MustParseVersion("1.0.1"),
		Phases: []manifest.PhaseDefinition{
			{ID: "server", Type: manifest.PhaseGeneration, Produces: []string{"server/main.go"}, Instruction: "gen server v2\n"},
			{ID: "client", Type: manifest.PhaseGeneration, Produces: []string{"client/app.ts"}, Instruction: "gen client v2\n"},
		},
	}

	h := newHarness(t,
		fileResponse(map[string]string{"server/main.go": "package main\n"}),
		fileResponse(map[string]string{"client/app.ts": "export {}\n"}),
		fileResponse(map[string]string{"server/main.go": "package main // v2\n"}),
	)
	h.publish(t, v1)

	if _, err := h.executor.Execute(context.Background(), RunOptions{Series: "api"}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	h.publish(t, v2)

	// Only server/ is in scope: the client phase is modified too, but
	// its artifact is outside the scan, so it stays out of the
	// regeneration set.
	result, err := h.executor.Migrate(context.Background(), MigrateOptions{
		Series: "api", ToVersion: "1.0.1", Scope: "server",
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !reflect.DeepEqual(result.Regenerated, []string{"server"}) {
		t.Errorf("Expected [server] regenerated, got %v", result.Regenerated)
	}

	fields, err := provenance.Decode(h.workspaceFile(t, "server/main.go"))
	if err != nil {
		t.Fatalf("Expected provenance header, got: %v", err)
	}
	if fields.Version != "1.0.1" {
		t.Errorf("Expected server regenerated at 1.0.1, got %s", fields.Version)
	}

	fields, err = provenance.Decode(h.workspaceFile(t, "client/app.ts"))
	if err != nil {
		t.Fatalf("Expected provenance header, got: %v", err)
	}
	if fields.Version != "1.0.0" {
		t.Errorf("Expected client left at 1.0.0, got %s", fields.Version)
	}
}

func TestMigrate_NoArtifactsAndNoFromVersion(t *testing.T) {
	h := newHarness(t)
	h.publish(t, migrateV1())
	h.publish(t, migrateV2())

	_, err := h.executor.Migrate(context.Background(), MigrateOptions{Series: "api"})
	if err == nil {
		t.Fatal("Expected error without artifacts or an explicit source version")
	}
	var engineErr *EngineError
	if !errors.As(err, &engineErr) || engineErr.Code != ErrCodeUnknownVersion {
		t.Errorf("Expected UNKNOWN_VERSION, got: %v", err)
	}
}
