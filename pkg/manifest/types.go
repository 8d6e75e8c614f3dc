package manifest

import (
	"path"
	"path/filepath"
	"slices"
)

// PhaseType distinguishes phases that produce artifacts from phases
// that check them.
type PhaseType string

const (
	// PhaseGeneration produces source artifacts via an agent.
	PhaseGeneration PhaseType = "generation"

	// PhaseVerification checks artifacts produced by generation phases.
	PhaseVerification PhaseType = "verification"
)

// InputSpec declares one named input a phase requires before it can run.
type InputSpec struct {
	// Name is the placeholder name referenced by the instruction text.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Type is the input value type (string, path, int, bool).
	Type string `yaml:"type,omitempty" json:"type,omitempty" validate:"omitempty,oneof=string path int bool"`

	// Required marks inputs that must resolve before execution.
	Required bool `yaml:"required,omitempty" json:"required,omitempty"`

	// Default is used when no override or cached value resolves.
	Default string `yaml:"default,omitempty" json:"default,omitempty"`
}

// PhaseDefinition is one named unit of instruction within a manifest.
// Definitions are immutable once a (series, version) is published; the
// evolution engine produces a new version rather than editing in place.
type PhaseDefinition struct {
	// ID uniquely identifies the phase within its series and version.
	ID string `yaml:"id" json:"id" validate:"required"`

	// Type is generation or verification.
	Type PhaseType `yaml:"type" json:"type" validate:"required,oneof=generation verification"`

	// Inputs are the declared inputs, in declaration order.
	Inputs []InputSpec `yaml:"inputs,omitempty" json:"inputs,omitempty" validate:"dive"`

	// DependsOn lists phase IDs that must complete before this phase.
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`

	// Produces hints at the artifact paths this phase writes. Two
	// phases may not share a hint unless a dependency path orders them.
	Produces []string `yaml:"produces,omitempty" json:"produces,omitempty"`

	// ManualPattern is a glob naming companion files owned by a human
	// author. The engine creates such a file once as an empty stub and
	// never rewrites it afterwards.
	ManualPattern string `yaml:"manual_pattern,omitempty" json:"manual_pattern,omitempty"`

	// Derive is an optional Starlark script computing default input
	// values from already-resolved inputs.
	Derive string `yaml:"derive,omitempty" json:"derive,omitempty"`

	// Instruction is the rendered instruction text handed to the agent.
	// It is the basis for content equality in the diff engine.
	Instruction string `yaml:"instruction,omitempty" json:"instruction,omitempty"`

	// Source optionally references the requirement document this phase
	// was derived from.
	Source string `yaml:"source,omitempty" json:"source,omitempty"`
}

// ContentEqual reports whether two definitions are byte-identical in
// everything that affects generated output: instruction text, declared
// inputs, dependencies, produces hints, and the manual pattern. Any
// difference, however small, makes the phase "modified".
func (p *PhaseDefinition) ContentEqual(other *PhaseDefinition) bool {
	if other == nil {
		return false
	}
	if p.Instruction != other.Instruction ||
		p.Type != other.Type ||
		p.ManualPattern != other.ManualPattern ||
		p.Derive != other.Derive {
		return false
	}
	if !slices.Equal(p.DependsOn, other.DependsOn) {
		return false
	}
	if !slices.Equal(p.Produces, other.Produces) {
		return false
	}
	return slices.Equal(p.Inputs, other.Inputs)
}

// MatchesManualPattern reports whether a relative artifact path matches
// the phase's manual-extension pattern. The pattern is tried against
// the full slash path and against the base name, so "*_manual.go"
// matches files in any directory.
func (p *PhaseDefinition) MatchesManualPattern(rel string) bool {
	if p.ManualPattern == "" {
		return false
	}
	rel = filepath.ToSlash(rel)
	if ok, err := path.Match(p.ManualPattern, rel); err == nil && ok {
		return true
	}
	ok, err := path.Match(p.ManualPattern, path.Base(rel))
	return err == nil && ok
}

// Manifest is the versioned, ordered, dependency-annotated set of
// phases for a series. Declaration order is significant: it is the
// tie-break for otherwise-unordered phases.
type Manifest struct {
	// Series names the instruction series.
	Series string `yaml:"series" json:"series" validate:"required"`

	// Version is the semantic version of this manifest.
	Version Version `yaml:"version" json:"version"`

	// Phases is the ordered collection of phase definitions.
	Phases []PhaseDefinition `yaml:"phases" json:"phases" validate:"dive"`
}

// Phase returns the definition with the given ID, if present.
func (m *Manifest) Phase(id string) (*PhaseDefinition, bool) {
	for i := range m.Phases {
		if m.Phases[i].ID == id {
			return &m.Phases[i], true
		}
	}
	return nil, false
}

// PhaseIDs returns all phase IDs in declaration order.
func (m *Manifest) PhaseIDs() []string {
	ids := make([]string, len(m.Phases))
	for i := range m.Phases {
		ids[i] = m.Phases[i].ID
	}
	return ids
}

// DirectVerifiers returns the verification phases that depend directly
// on the given generation phase, in declaration order.
func (m *Manifest) DirectVerifiers(id string) []string {
	var out []string
	for i := range m.Phases {
		if m.Phases[i].Type != PhaseVerification {
			continue
		}
		if slices.Contains(m.Phases[i].DependsOn, id) {
			out = append(out, m.Phases[i].ID)
		}
	}
	return out
}
