package manifest

import (
	"fmt"
	"slices"
)

// Selection narrows a run to a subset of a manifest's phases. Fields
// combine: an explicit Phase wins over From/To; Only intersects and
// Skip subtracts afterwards.
type Selection struct {
	// Phase selects exactly one phase by ID.
	Phase string

	// From is the first phase of an inclusive range over topological
	// order. Empty means the start of the order.
	From string

	// To is the last phase of the range. Empty means the end.
	To string

	// Only restricts the selection to these IDs.
	Only []string

	// Skip removes these IDs from the selection.
	Skip []string
}

// IsEmpty reports whether the selection has no constraints, meaning
// every phase runs.
func (s Selection) IsEmpty() bool {
	return s.Phase == "" && s.From == "" && s.To == "" && len(s.Only) == 0 && len(s.Skip) == 0
}

// UnknownPhaseError reports a selection referencing a phase ID absent
// from the manifest.
type UnknownPhaseError struct {
	PhaseID string
	Known   []string
}

func (e *UnknownPhaseError) Error() string {
	return fmt.Sprintf("unknown phase %q (known phases: %v)", e.PhaseID, e.Known)
}

// Select computes the ordered subset of phase IDs to run. The result
// is always sorted by topological order. When a selected phase depends
// on an excluded phase, a warning is returned but the selection
// proceeds: the dependency may already be satisfied on disk, and if it
// is not, the executor fails that phase at run time.
func Select(m *Manifest, sel Selection) (ids []string, warnings []string, err error) {
	order, err := TopologicalOrder(m)
	if err != nil {
		return nil, nil, err
	}

	for _, ref := range gatherRefs(sel) {
		if _, ok := m.Phase(ref); !ok {
			return nil, nil, &UnknownPhaseError{PhaseID: ref, Known: m.PhaseIDs()}
		}
	}

	selected := order
	if sel.Phase != "" {
		selected = []string{sel.Phase}
	} else if sel.From != "" || sel.To != "" {
		selected = rangeOver(order, sel.From, sel.To)
	}

	if len(sel.Only) > 0 {
		kept := selected[:0:0]
		for _, id := range selected {
			if slices.Contains(sel.Only, id) {
				kept = append(kept, id)
			}
		}
		selected = kept
	}

	if len(sel.Skip) > 0 {
		kept := selected[:0:0]
		for _, id := range selected {
			if !slices.Contains(sel.Skip, id) {
				kept = append(kept, id)
			}
		}
		selected = kept
	}

	// Re-sort by topological order. Explicit single-phase selection is
	// already a singleton, but Only sets may arrive in any order.
	inSelection := make(map[string]bool, len(selected))
	for _, id := range selected {
		inSelection[id] = true
	}
	result := make([]string, 0, len(selected))
	for _, id := range order {
		if inSelection[id] {
			result = append(result, id)
		}
	}

	for _, id := range result {
		p, _ := m.Phase(id)
		for _, dep := range p.DependsOn {
			if !inSelection[dep] {
				warnings = append(warnings,
					fmt.Sprintf("phase %s depends on %s, which is not selected; it must already be satisfied on disk", id, dep))
			}
		}
	}

	return result, warnings, nil
}

func gatherRefs(sel Selection) []string {
	var refs []string
	if sel.Phase != "" {
		refs = append(refs, sel.Phase)
	}
	if sel.From != "" {
		refs = append(refs, sel.From)
	}
	if sel.To != "" {
		refs = append(refs, sel.To)
	}
	refs = append(refs, sel.Only...)
	refs = append(refs, sel.Skip...)
	return refs
}

func rangeOver(order []string, from, to string) []string {
	start, end := 0, len(order)-1
	if from != "" {
		start = slices.Index(order, from)
	}
	if to != "" {
		end = slices.Index(order, to)
	}
	if start < 0 || end < 0 || start > end {
		return nil
	}
	return order[start : end+1]
}
