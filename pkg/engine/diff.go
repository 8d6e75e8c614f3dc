package engine

import (
	"github.com/loomworks/loom/pkg/manifest"
)

// Diff classifies every phase of two manifest versions. The four
// buckets partition the union of both phase ID sets, so every phase
// appears in exactly one.
type Diff struct {
	Added     []string
	Removed   []string
	Modified  []string
	Unchanged []string
}

// IsEmpty reports whether nothing changed.
func (d *Diff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// BumpKind returns the version bump the diff mandates: any removal is
// a major bump, any addition without removals is minor, modifications
// alone are a patch.
func (d *Diff) BumpKind() manifest.BumpKind {
	switch {
	case len(d.Removed) > 0:
		return manifest.BumpMajor
	case len(d.Added) > 0:
		return manifest.BumpMinor
	default:
		return manifest.BumpPatch
	}
}

// DiffManifests compares two manifest versions phase by phase.
// Ordering follows the old manifest's declaration order, with added
// phases in the new manifest's order.
func DiffManifests(old, updated *manifest.Manifest) *Diff {
	diff := &Diff{}

	newByID := make(map[string]*manifest.PhaseDefinition, len(updated.Phases))
	for i := range updated.Phases {
		newByID[updated.Phases[i].ID] = &updated.Phases[i]
	}

	oldIDs := make(map[string]bool, len(old.Phases))
	for i := range old.Phases {
		p := &old.Phases[i]
		oldIDs[p.ID] = true

		counterpart, ok := newByID[p.ID]
		switch {
		case !ok:
			diff.Removed = append(diff.Removed, p.ID)
		case p.ContentEqual(counterpart):
			diff.Unchanged = append(diff.Unchanged, p.ID)
		default:
			diff.Modified = append(diff.Modified, p.ID)
		}
	}

	for i := range updated.Phases {
		if !oldIDs[updated.Phases[i].ID] {
			diff.Added = append(diff.Added, updated.Phases[i].ID)
		}
	}

	return diff
}
