package manifest

import (
	"fmt"
	"strings"
)

// CycleError reports a circular dependency among phases.
type CycleError struct {
	// Path is the cycle, ending where it started.
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Path, " -> "))
}

// DanglingDependencyError reports a depends_on entry naming a phase
// that does not exist in the manifest.
type DanglingDependencyError struct {
	PhaseID string
	Missing string
}

func (e *DanglingDependencyError) Error() string {
	return fmt.Sprintf("phase %s depends on non-existent phase %s", e.PhaseID, e.Missing)
}

// DuplicateIDError reports two phases declaring the same ID.
type DuplicateIDError struct {
	PhaseID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate phase ID: %s", e.PhaseID)
}

// ProducesOverlapError reports two unordered phases declaring the same
// produces hint. Without a dependency path between them the same
// artifact path could be written concurrently.
type ProducesOverlapError struct {
	Path   string
	First  string
	Second string
}

func (e *ProducesOverlapError) Error() string {
	return fmt.Sprintf("phases %s and %s both produce %s without a dependency path between them",
		e.First, e.Second, e.Path)
}

// Validate checks the manifest's dependency graph: no duplicate IDs,
// no dangling depends_on entries, no cycles, and no overlapping
// produces hints between unordered phases. It must pass before any
// execution or diff is attempted.
func Validate(m *Manifest) error {
	g, err := buildGraph(m)
	if err != nil {
		return err
	}

	if err := g.detectCycles(); err != nil {
		return err
	}

	return g.checkProducesOverlap()
}

// TopologicalOrder returns the phase IDs in dependency order. Among
// phases with no ordering constraint between them, declaration order
// wins, making the result deterministic for a given manifest.
func TopologicalOrder(m *Manifest) ([]string, error) {
	g, err := buildGraph(m)
	if err != nil {
		return nil, err
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}

	return g.stableOrder(), nil
}

// phaseGraph holds the adjacency structure for one manifest.
type phaseGraph struct {
	m *Manifest

	// declIndex maps phase IDs to their declaration position.
	declIndex map[string]int

	// dependents maps a phase ID to the IDs that depend on it.
	dependents map[string][]string

	// inDegree counts unresolved dependencies per phase.
	inDegree map[string]int
}

func buildGraph(m *Manifest) (*phaseGraph, error) {
	g := &phaseGraph{
		m:          m,
		declIndex:  make(map[string]int, len(m.Phases)),
		dependents: make(map[string][]string),
		inDegree:   make(map[string]int),
	}

	for i := range m.Phases {
		p := &m.Phases[i]
		if p.ID == "" {
			return nil, fmt.Errorf("phase at position %d has empty ID", i)
		}
		if _, exists := g.declIndex[p.ID]; exists {
			return nil, &DuplicateIDError{PhaseID: p.ID}
		}
		g.declIndex[p.ID] = i
		g.inDegree[p.ID] = 0
	}

	for i := range m.Phases {
		p := &m.Phases[i]
		for _, dep := range p.DependsOn {
			if _, exists := g.declIndex[dep]; !exists {
				return nil, &DanglingDependencyError{PhaseID: p.ID, Missing: dep}
			}
			g.dependents[dep] = append(g.dependents[dep], p.ID)
			g.inDegree[p.ID]++
		}
	}

	return g, nil
}

// detectCycles uses depth-first search over the dependency edges and
// reports the offending path when a cycle is found.
func (g *phaseGraph) detectCycles() error {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(id string, path []string) *CycleError
	visit = func(id string, path []string) *CycleError {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, next := range g.dependents[id] {
			if !visited[next] {
				if cycle := visit(next, path); cycle != nil {
					return cycle
				}
			} else if onStack[next] {
				start := 0
				for i, p := range path {
					if p == next {
						start = i
						break
					}
				}
				return &CycleError{Path: append(append([]string{}, path[start:]...), next)}
			}
		}

		onStack[id] = false
		return nil
	}

	// Walk in declaration order so the reported cycle is stable.
	for i := range g.m.Phases {
		id := g.m.Phases[i].ID
		if !visited[id] {
			if cycle := visit(id, nil); cycle != nil {
				return cycle
			}
		}
	}

	return nil
}

// stableOrder runs Kahn's algorithm, always picking the ready phase
// with the smallest declaration index.
func (g *phaseGraph) stableOrder() []string {
	inDegree := make(map[string]int, len(g.inDegree))
	for id, d := range g.inDegree {
		inDegree[id] = d
	}

	order := make([]string, 0, len(g.m.Phases))
	done := make(map[string]bool)

	for len(order) < len(g.m.Phases) {
		next := ""
		for i := range g.m.Phases {
			id := g.m.Phases[i].ID
			if !done[id] && inDegree[id] == 0 {
				next = id
				break
			}
		}
		if next == "" {
			// Unreachable after cycle detection.
			break
		}

		order = append(order, next)
		done[next] = true
		for _, dep := range g.dependents[next] {
			inDegree[dep]--
		}
	}

	return order
}

// checkProducesOverlap rejects manifests where two phases declare the
// same produces hint without a dependency path ordering them. This is
// what makes optional concurrent execution safe: a path is never
// written by two in-flight phases.
func (g *phaseGraph) checkProducesOverlap() error {
	byPath := make(map[string][]string)
	for i := range g.m.Phases {
		p := &g.m.Phases[i]
		for _, hint := range p.Produces {
			byPath[hint] = append(byPath[hint], p.ID)
		}
	}

	for hint, owners := range byPath {
		for i := 0; i < len(owners); i++ {
			for j := i + 1; j < len(owners); j++ {
				if !g.connected(owners[i], owners[j]) && !g.connected(owners[j], owners[i]) {
					return &ProducesOverlapError{Path: hint, First: owners[i], Second: owners[j]}
				}
			}
		}
	}

	return nil
}

// connected reports whether a dependency path leads from ancestor to
// descendant.
func (g *phaseGraph) connected(ancestor, descendant string) bool {
	seen := make(map[string]bool)
	stack := []string{ancestor}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == descendant {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		stack = append(stack, g.dependents[id]...)
	}
	return false
}
