package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loomworks/loom/pkg/manifest"
)

func editedCopy(m *manifest.Manifest) *manifest.Manifest {
	copied := *m
	copied.Phases = append([]manifest.PhaseDefinition(nil), m.Phases...)
	return &copied
}

func TestMerge_ModificationIsPatch(t *testing.T) {
	h := newHarness(t)
	h.publish(t, singlePhaseManifest())

	edited := editedCopy(singlePhaseManifest())
	edited.Phases[0].Instruction = "Generate the data models, with validation.\n"

	result, err := h.executor.Merge(context.Background(), MergeOptions{Series: "api", Edited: edited})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if result.NewVersion.String() != "1.0.1" {
		t.Errorf("Expected 1.0.1, got %s", result.NewVersion)
	}
	if !result.Published {
		t.Error("Expected new version published")
	}

	published, err := h.loader.Load("api", "1.0.1")
	if err != nil {
		t.Fatalf("Expected 1.0.1 on disk, got: %v", err)
	}
	if published.Phases[0].Instruction != edited.Phases[0].Instruction {
		t.Error("Expected edited instruction published")
	}
}

func TestMerge_AdditionIsMinor(t *testing.T) {
	h := newHarness(t)
	h.publish(t, singlePhaseManifest())

	edited := editedCopy(singlePhaseManifest())
	edited.Phases = append(edited.Phases, manifest.PhaseDefinition{
		ID: "handlers", Type: manifest.PhaseGeneration,
		DependsOn: []string{"models"}, Produces: []string{"src/handlers.go"},
		Instruction: "Generate the handlers.\n",
	})

	result, err := h.executor.Merge(context.Background(), MergeOptions{Series: "api", Edited: edited})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.NewVersion.String() != "1.1.0" {
		t.Errorf("Expected 1.1.0, got %s", result.NewVersion)
	}
}

func TestMerge_RemovalIsMajor(t *testing.T) {
	base := singlePhaseManifest()
	base.Phases = append(base.Phases, manifest.PhaseDefinition{
		ID: "handlers", Type: manifest.PhaseGeneration,
		Produces:    []string{"src/handlers.go"},
		Instruction: "Generate the handlers.\n",
	})

	h := newHarness(t)
	h.publish(t, base)

	edited := editedCopy(base)
	edited.Phases = edited.Phases[:1]
	// A simultaneous addition does not soften the removal.
	edited.Phases = append(edited.Phases, manifest.PhaseDefinition{
		ID: "docs", Type: manifest.PhaseGeneration,
		Produces:    []string{"docs/api.md"},
		Instruction: "Generate the docs.\n",
	})

	result, err := h.executor.Merge(context.Background(), MergeOptions{Series: "api", Edited: edited})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.NewVersion.String() != "2.0.0" {
		t.Errorf("Expected 2.0.0, got %s", result.NewVersion)
	}
}

func TestMerge_OverrideAlwaysWins(t *testing.T) {
	h := newHarness(t)
	h.publish(t, singlePhaseManifest())

	edited := editedCopy(singlePhaseManifest())
	edited.Phases[0].Instruction = "Generate the data models, with validation.\n"

	// Strengthening patch to major.
	result, err := h.executor.Merge(context.Background(), MergeOptions{
		Series: "api", Edited: edited, Override: manifest.BumpMajor,
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.NewVersion.String() != "2.0.0" {
		t.Errorf("Expected 2.0.0, got %s", result.NewVersion)
	}

	// Weakening wins too: an added phase suggests minor, but the
	// override forces patch.
	h2 := newHarness(t)
	h2.publish(t, singlePhaseManifest())

	added := editedCopy(singlePhaseManifest())
	added.Phases = append(added.Phases, manifest.PhaseDefinition{
		ID: "handlers", Type: manifest.PhaseGeneration,
		Produces:    []string{"src/handlers.go"},
		Instruction: "Generate the handlers.\n",
	})

	result, err = h2.executor.Merge(context.Background(), MergeOptions{
		Series: "api", Edited: added, Override: manifest.BumpPatch,
	})
	if err != nil {
		t.Fatalf("Expected weaker override to apply, got: %v", err)
	}
	if result.NewVersion.String() != "1.0.1" {
		t.Errorf("Expected 1.0.1, got %s", result.NewVersion)
	}
	if !result.Published {
		t.Error("Expected new version published")
	}
	if _, err := h2.loader.Load("api", "1.0.1"); err != nil {
		t.Errorf("Expected 1.0.1 on disk, got: %v", err)
	}

	// The weakening is called out on the merge record.
	records, err := h2.log.List("api", 0)
	if err != nil || len(records) != 1 {
		t.Fatalf("Expected one log record, got %d (err=%v)", len(records), err)
	}
	found := false
	for _, w := range records[0].Warnings {
		if strings.Contains(w, "weaker") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected weak-override warning, got %v", records[0].Warnings)
	}
}

func TestMerge_EmptyDiffIsNoOp(t *testing.T) {
	h := newHarness(t)
	h.publish(t, singlePhaseManifest())

	result, err := h.executor.Merge(context.Background(), MergeOptions{
		Series: "api", Edited: editedCopy(singlePhaseManifest()),
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.Published {
		t.Error("Expected no publication for an unchanged manifest")
	}
	if result.NewVersion.String() != "1.0.0" {
		t.Errorf("Expected version to stay at 1.0.0, got %s", result.NewVersion)
	}
	if versions := h.loader.KnownVersions("api"); len(versions) != 1 {
		t.Errorf("Expected one published version, got %v", versions)
	}
}

func TestMerge_DryRunPublishesNothing(t *testing.T) {
	h := newHarness(t)
	h.publish(t, singlePhaseManifest())

	edited := editedCopy(singlePhaseManifest())
	edited.Phases[0].Instruction = "changed\n"

	result, err := h.executor.Merge(context.Background(), MergeOptions{
		Series: "api", Edited: edited, DryRun: true,
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.Published {
		t.Error("Expected dry run not to publish")
	}
	if result.NewVersion.String() != "1.0.1" {
		t.Errorf("Expected planned version 1.0.1, got %s", result.NewVersion)
	}
	if versions := h.loader.KnownVersions("api"); len(versions) != 1 {
		t.Errorf("Expected one published version after dry run, got %v", versions)
	}
}

func TestMerge_ArchivesOldManifest(t *testing.T) {
	h := newHarness(t)
	h.publish(t, singlePhaseManifest())

	edited := editedCopy(singlePhaseManifest())
	edited.Phases[0].Instruction = "changed\n"

	if _, err := h.executor.Merge(context.Background(), MergeOptions{Series: "api", Edited: edited}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	entries, err := h.archive.ListAll()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	foundManifest := false
	for _, e := range entries {
		if e.OriginalPath == "manifests/api/1.0.0/manifest.yaml" {
			foundManifest = true
		}
	}
	if !foundManifest {
		t.Errorf("Expected old manifest archived, got %d entries", len(entries))
	}

	// The old version directory is still loadable; merge archives, it
	// does not retire.
	if _, err := h.loader.Load("api", "1.0.0"); err != nil {
		t.Errorf("Expected 1.0.0 still published, got: %v", err)
	}
}

func TestMerge_SeriesMismatchRejected(t *testing.T) {
	h := newHarness(t)
	h.publish(t, singlePhaseManifest())

	edited := editedCopy(singlePhaseManifest())
	edited.Series = "billing"

	_, err := h.executor.Merge(context.Background(), MergeOptions{Series: "api", Edited: edited})
	if err == nil {
		t.Fatal("Expected series mismatch to be rejected")
	}
}

func TestMerge_WritesMergeRecord(t *testing.T) {
	h := newHarness(t)
	h.publish(t, singlePhaseManifest())

	edited := editedCopy(singlePhaseManifest())
	edited.Phases[0].Instruction = "changed\n"

	if _, err := h.executor.Merge(context.Background(), MergeOptions{Series: "api", Edited: edited}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	records, err := h.log.List("api", 0)
	if err != nil || len(records) != 1 {
		t.Fatalf("Expected one log record, got %d (err=%v)", len(records), err)
	}
	if records[0].Command != "merge" {
		t.Errorf("Expected merge command, got %s", records[0].Command)
	}
}

func TestMerge_InstructionFilesFollowThePublishedVersion(t *testing.T) {
	h := newHarness(t)
	h.publish(t, singlePhaseManifest())

	edited := editedCopy(singlePhaseManifest())
	edited.Phases[0].Instruction = "changed body\n"

	if _, err := h.executor.Merge(context.Background(), MergeOptions{Series: "api", Edited: edited}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	path := filepath.Join(h.loader.Dir("api", "1.0.1"), "phases", "models.md")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected instruction file for published version, got: %v", err)
	}
}
