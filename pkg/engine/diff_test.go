package engine

import (
	"sort"
	"testing"

	"github.com/loomworks/loom/pkg/manifest"
)

func diffFixture(ids map[string]string) *manifest.Manifest {
	m := &manifest.Manifest{Series: "api", Version: manifest.MustParseVersion("1.0.0")}
	ordered := make([]string, 0, len(ids))
	for id := range ids {
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)
	for _, id := range ordered {
		m.Phases = append(m.Phases, manifest.PhaseDefinition{
			ID:          id,
			Type:        manifest.PhaseGeneration,
			Instruction: ids[id],
		})
	}
	return m
}

func TestDiffManifests_Partition(t *testing.T) {
	old := diffFixture(map[string]string{
		"models":   "gen models",
		"handlers": "gen handlers",
		"routes":   "gen routes",
	})
	updated := diffFixture(map[string]string{
		"models":   "gen models",
		"handlers": "gen handlers v2",
		"docs":     "gen docs",
	})

	diff := DiffManifests(old, updated)

	if len(diff.Unchanged) != 1 || diff.Unchanged[0] != "models" {
		t.Errorf("Expected [models] unchanged, got %v", diff.Unchanged)
	}
	if len(diff.Modified) != 1 || diff.Modified[0] != "handlers" {
		t.Errorf("Expected [handlers] modified, got %v", diff.Modified)
	}
	if len(diff.Removed) != 1 || diff.Removed[0] != "routes" {
		t.Errorf("Expected [routes] removed, got %v", diff.Removed)
	}
	if len(diff.Added) != 1 || diff.Added[0] != "docs" {
		t.Errorf("Expected [docs] added, got %v", diff.Added)
	}

	// Every ID from either side lands in exactly one bucket.
	seen := map[string]int{}
	for _, bucket := range [][]string{diff.Added, diff.Removed, diff.Modified, diff.Unchanged} {
		for _, id := range bucket {
			seen[id]++
		}
	}
	for _, id := range []string{"models", "handlers", "routes", "docs"} {
		if seen[id] != 1 {
			t.Errorf("Expected %s in exactly one bucket, got %d", id, seen[id])
		}
	}
}

func TestDiffManifests_MetadataChangesAreModifications(t *testing.T) {
	old := diffFixture(map[string]string{"models": "gen"})
	updated := diffFixture(map[string]string{"models": "gen"})
	updated.Phases[0].Produces = []string{"src/models.go"}

	diff := DiffManifests(old, updated)
	if len(diff.Modified) != 1 {
		t.Errorf("Expected produces change to modify the phase, got %+v", diff)
	}

	old = diffFixture(map[string]string{"models": "gen"})
	updated = diffFixture(map[string]string{"models": "gen"})
	updated.Phases[0].Inputs = []manifest.InputSpec{{Name: "package"}}

	diff = DiffManifests(old, updated)
	if len(diff.Modified) != 1 {
		t.Errorf("Expected input change to modify the phase, got %+v", diff)
	}
}

func TestDiff_BumpKind(t *testing.T) {
	tests := []struct {
		name string
		diff Diff
		want manifest.BumpKind
	}{
		{"removal is major", Diff{Removed: []string{"a"}}, manifest.BumpMajor},
		{"removal plus addition is still major", Diff{Removed: []string{"a"}, Added: []string{"b"}}, manifest.BumpMajor},
		{"addition is minor", Diff{Added: []string{"b"}, Modified: []string{"c"}}, manifest.BumpMinor},
		{"modification is patch", Diff{Modified: []string{"c"}}, manifest.BumpPatch},
		{"empty is patch", Diff{}, manifest.BumpPatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.diff.BumpKind(); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestDiff_IsEmpty(t *testing.T) {
	empty := Diff{Unchanged: []string{"a", "b"}}
	if !empty.IsEmpty() {
		t.Error("Expected unchanged-only diff to be empty")
	}
	if (&Diff{Modified: []string{"a"}}).IsEmpty() {
		t.Error("Expected modified diff to be non-empty")
	}
}
