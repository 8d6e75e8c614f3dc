package manifest

import (
	"errors"
	"slices"
	"testing"
)

func selectorManifest() *Manifest {
	return phases(
		PhaseDefinition{ID: "a", Type: PhaseGeneration},
		PhaseDefinition{ID: "b", Type: PhaseGeneration, DependsOn: []string{"a"}},
		PhaseDefinition{ID: "c", Type: PhaseGeneration, DependsOn: []string{"b"}},
		PhaseDefinition{ID: "v", Type: PhaseVerification, DependsOn: []string{"c"}},
	)
}

func TestSelect_EmptySelectionRunsEverything(t *testing.T) {
	ids, warnings, err := Select(selectorManifest(), Selection{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !slices.Equal(ids, []string{"a", "b", "c", "v"}) {
		t.Errorf("Expected all phases in order, got %v", ids)
	}
	if len(warnings) != 0 {
		t.Errorf("Expected no warnings, got %v", warnings)
	}
}

func TestSelect_SinglePhaseWarnsAboutExcludedDependency(t *testing.T) {
	ids, warnings, err := Select(selectorManifest(), Selection{Phase: "b"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !slices.Equal(ids, []string{"b"}) {
		t.Errorf("Expected [b], got %v", ids)
	}
	if len(warnings) != 1 {
		t.Fatalf("Expected one warning about the missing dependency, got %v", warnings)
	}
}

func TestSelect_Range(t *testing.T) {
	// --from b --to v excludes a; the selection proceeds with a warning
	// rather than silently adding a or aborting.
	ids, warnings, err := Select(selectorManifest(), Selection{From: "b", To: "v"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !slices.Equal(ids, []string{"b", "c", "v"}) {
		t.Errorf("Expected [b c v], got %v", ids)
	}
	if len(warnings) != 1 {
		t.Errorf("Expected one warning for b's unselected dependency, got %v", warnings)
	}
}

func TestSelect_OnlyAndSkip(t *testing.T) {
	ids, _, err := Select(selectorManifest(), Selection{Only: []string{"c", "a"}})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	// Re-sorted into topological order regardless of the flag order.
	if !slices.Equal(ids, []string{"a", "c"}) {
		t.Errorf("Expected [a c], got %v", ids)
	}

	ids, _, err = Select(selectorManifest(), Selection{Skip: []string{"v"}})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !slices.Equal(ids, []string{"a", "b", "c"}) {
		t.Errorf("Expected [a b c], got %v", ids)
	}
}

func TestSelect_UnknownPhase(t *testing.T) {
	_, _, err := Select(selectorManifest(), Selection{Phase: "nope"})

	var unknown *UnknownPhaseError
	if !errors.As(err, &unknown) {
		t.Fatalf("Expected UnknownPhaseError, got: %v", err)
	}
	if unknown.PhaseID != "nope" {
		t.Errorf("Expected unknown ID nope, got %s", unknown.PhaseID)
	}
	if len(unknown.Known) != 4 {
		t.Errorf("Expected known alternatives listed, got %v", unknown.Known)
	}
}

func TestSelect_InvertedRangeIsEmpty(t *testing.T) {
	ids, _, err := Select(selectorManifest(), Selection{From: "c", To: "a"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("Expected empty selection for inverted range, got %v", ids)
	}
}
