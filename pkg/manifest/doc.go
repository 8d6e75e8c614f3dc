// Package manifest models the versioned phase series: phase
// definitions, the dependency graph over them, topological ordering,
// and run selections.
//
// A manifest is one (series, version) pair holding an ordered list of
// phase definitions. The graph over depends_on edges must be acyclic
// with every referenced ID present; Validate enforces this before any
// execution or diff. TopologicalOrder is deterministic: declaration
// order breaks ties between unordered phases.
//
// On disk a manifest lives at <root>/<series>/<version>/manifest.yaml,
// with instruction bodies in per-phase files under phases/. The Loader
// reads and writes this layout and surfaces unknown series/versions
// with their known alternatives.
package manifest
