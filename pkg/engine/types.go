package engine

import (
	"time"

	"github.com/loomworks/loom/pkg/execlog"
	"github.com/loomworks/loom/pkg/manifest"
)

// RunOptions parameterizes one engine run.
type RunOptions struct {
	// Series names the phase series to execute.
	Series string

	// Version selects the manifest version. Empty means latest.
	Version string

	// Selection restricts which phases run. Empty means all.
	Selection manifest.Selection

	// Inputs are command-line input overrides. They take precedence
	// over cached and prompted values.
	Inputs map[string]string

	// DryRun resolves, selects, and renders without invoking agents
	// or touching the workspace.
	DryRun bool

	// Command names the operation for the execution log
	// ("execute", "migrate").
	Command string
}

// PhaseStatus is the terminal state of one phase in a run.
type PhaseStatus string

// Phase statuses.
const (
	PhaseSuccess   PhaseStatus = "success"
	PhaseFailed    PhaseStatus = "failed"
	PhaseSkipped   PhaseStatus = "skipped"
	PhaseSatisfied PhaseStatus = "satisfied"
)

// PhaseOutcome is the engine-internal result of one phase execution.
type PhaseOutcome struct {
	PhaseID  string
	Status   PhaseStatus
	Inputs   map[string]string
	Created  []string
	Modified []string
	Archived []string
	Notes    []string
	Build    *execlog.BuildRecord
	Duration time.Duration
	Err      error
}
