package engine

import (
	"context"
	"fmt"

	"github.com/loomworks/loom/pkg/manifest"
	"github.com/loomworks/loom/pkg/stores"
)

// Prompter supplies input values the resolver could not find anywhere
// else. The CLI backs this with an interactive prompt; tests and
// non-interactive runs use FailingPrompter.
type Prompter interface {
	Prompt(ctx context.Context, phaseID string, spec manifest.InputSpec) (string, error)
}

// FailingPrompter refuses to prompt. Unresolvable required inputs
// become errors, which is what non-interactive runs want.
type FailingPrompter struct{}

// Prompt always fails.
func (FailingPrompter) Prompt(_ context.Context, phaseID string, spec manifest.InputSpec) (string, error) {
	return "", NewPermanentError(
		fmt.Sprintf("input %s is required and was not provided", spec.Name), nil,
	).WithPhase(phaseID).WithCode(ErrCodeInputUnresolved)
}

// MapPrompter answers prompts from a fixed map, for tests.
type MapPrompter map[string]string

// Prompt returns the mapped value or fails like FailingPrompter.
func (m MapPrompter) Prompt(ctx context.Context, phaseID string, spec manifest.InputSpec) (string, error) {
	if v, ok := m[spec.Name]; ok {
		return v, nil
	}
	return FailingPrompter{}.Prompt(ctx, phaseID, spec)
}

// StateStore is the persistence surface the executor needs for input
// reuse and re-entrancy checks. *stores.SQLiteStore implements it.
type StateStore interface {
	PutInputs(ctx context.Context, series, version, phaseID string, inputs map[string]string) error
	GetInputs(ctx context.Context, series, version, phaseID string) (map[string]string, bool, error)
	PutPhaseState(ctx context.Context, state *stores.PhaseState) error
	GetPhaseState(ctx context.Context, series, version, phaseID string) (*stores.PhaseState, error)
}
