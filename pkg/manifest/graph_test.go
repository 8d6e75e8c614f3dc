package manifest

import (
	"errors"
	"slices"
	"testing"
)

func phases(defs ...PhaseDefinition) *Manifest {
	return &Manifest{
		Series:  "demo",
		Version: MustParseVersion("1.0.0"),
		Phases:  defs,
	}
}

func TestValidate_EmptyManifest(t *testing.T) {
	if err := Validate(phases()); err != nil {
		t.Fatalf("Expected no error for empty manifest, got: %v", err)
	}
}

func TestValidate_DuplicateID(t *testing.T) {
	m := phases(
		PhaseDefinition{ID: "a", Type: PhaseGeneration},
		PhaseDefinition{ID: "a", Type: PhaseGeneration},
	)

	var dup *DuplicateIDError
	if err := Validate(m); !errors.As(err, &dup) {
		t.Fatalf("Expected DuplicateIDError, got: %v", err)
	} else if dup.PhaseID != "a" {
		t.Errorf("Expected duplicate ID a, got %s", dup.PhaseID)
	}
}

func TestValidate_DanglingDependency(t *testing.T) {
	m := phases(
		PhaseDefinition{ID: "a", Type: PhaseGeneration, DependsOn: []string{"ghost"}},
	)

	var dangling *DanglingDependencyError
	if err := Validate(m); !errors.As(err, &dangling) {
		t.Fatalf("Expected DanglingDependencyError, got: %v", err)
	} else if dangling.Missing != "ghost" {
		t.Errorf("Expected missing dependency ghost, got %s", dangling.Missing)
	}
}

func TestValidate_Cycle(t *testing.T) {
	m := phases(
		PhaseDefinition{ID: "a", Type: PhaseGeneration, DependsOn: []string{"c"}},
		PhaseDefinition{ID: "b", Type: PhaseGeneration, DependsOn: []string{"a"}},
		PhaseDefinition{ID: "c", Type: PhaseGeneration, DependsOn: []string{"b"}},
	)

	var cycle *CycleError
	if err := Validate(m); !errors.As(err, &cycle) {
		t.Fatalf("Expected CycleError, got: %v", err)
	} else if len(cycle.Path) < 3 {
		t.Errorf("Expected cycle path naming the offenders, got %v", cycle.Path)
	}
}

func TestValidate_ProducesOverlap(t *testing.T) {
	// Same hint, no dependency path: rejected.
	m := phases(
		PhaseDefinition{ID: "a", Type: PhaseGeneration, Produces: []string{"src/model.go"}},
		PhaseDefinition{ID: "b", Type: PhaseGeneration, Produces: []string{"src/model.go"}},
	)

	var overlap *ProducesOverlapError
	if err := Validate(m); !errors.As(err, &overlap) {
		t.Fatalf("Expected ProducesOverlapError, got: %v", err)
	}

	// Same hint but ordered by a dependency edge: allowed.
	ordered := phases(
		PhaseDefinition{ID: "a", Type: PhaseGeneration, Produces: []string{"src/model.go"}},
		PhaseDefinition{ID: "b", Type: PhaseGeneration, Produces: []string{"src/model.go"}, DependsOn: []string{"a"}},
	)
	if err := Validate(ordered); err != nil {
		t.Fatalf("Expected ordered overlap to be allowed, got: %v", err)
	}
}

func TestTopologicalOrder_RespectsDependencies(t *testing.T) {
	m := phases(
		PhaseDefinition{ID: "verify", Type: PhaseVerification, DependsOn: []string{"handlers"}},
		PhaseDefinition{ID: "models", Type: PhaseGeneration},
		PhaseDefinition{ID: "handlers", Type: PhaseGeneration, DependsOn: []string{"models"}},
	)

	order, err := TopologicalOrder(m)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []string{"models", "handlers", "verify"}
	if !slices.Equal(order, want) {
		t.Errorf("Expected order %v, got %v", want, order)
	}
}

func TestTopologicalOrder_DeclarationOrderBreaksTies(t *testing.T) {
	m := phases(
		PhaseDefinition{ID: "c", Type: PhaseGeneration},
		PhaseDefinition{ID: "a", Type: PhaseGeneration},
		PhaseDefinition{ID: "b", Type: PhaseGeneration, DependsOn: []string{"c"}},
	)

	order, err := TopologicalOrder(m)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// c and a are unordered; c is declared first so it runs first. b
	// becomes ready after c but a was declared earlier.
	want := []string{"c", "a", "b"}
	if !slices.Equal(order, want) {
		t.Errorf("Expected order %v, got %v", want, order)
	}
}

func TestTopologicalOrder_Deterministic(t *testing.T) {
	m := phases(
		PhaseDefinition{ID: "a", Type: PhaseGeneration},
		PhaseDefinition{ID: "b", Type: PhaseGeneration},
		PhaseDefinition{ID: "c", Type: PhaseGeneration, DependsOn: []string{"a", "b"}},
		PhaseDefinition{ID: "d", Type: PhaseGeneration, DependsOn: []string{"c"}},
	)

	first, err := TopologicalOrder(m)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	for i := 0; i < 10; i++ {
		again, err := TopologicalOrder(m)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if !slices.Equal(first, again) {
			t.Fatalf("Expected deterministic order, got %v then %v", first, again)
		}
	}
}

func TestDirectVerifiers(t *testing.T) {
	m := phases(
		PhaseDefinition{ID: "gen", Type: PhaseGeneration},
		PhaseDefinition{ID: "check", Type: PhaseVerification, DependsOn: []string{"gen"}},
		PhaseDefinition{ID: "other", Type: PhaseGeneration, DependsOn: []string{"gen"}},
	)

	got := m.DirectVerifiers("gen")
	if !slices.Equal(got, []string{"check"}) {
		t.Errorf("Expected [check], got %v", got)
	}
}

func TestMatchesManualPattern(t *testing.T) {
	p := PhaseDefinition{ID: "models", ManualPattern: "*_manual.go"}

	if !p.MatchesManualPattern("src/models_manual.go") {
		t.Error("Expected base-name match for nested path")
	}
	if p.MatchesManualPattern("src/models.go") {
		t.Error("Expected no match for generated file")
	}

	none := PhaseDefinition{ID: "models"}
	if none.MatchesManualPattern("anything.go") {
		t.Error("Expected no match when no pattern is declared")
	}
}
