package stores

import "time"

// RunStatus represents the lifecycle state of an indexed run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run is the queryable index entry for one engine run. The full record
// lives in the YAML execution log; this row exists so history can be
// filtered without scanning every log file.
type Run struct {
	ID          string
	Series      string
	Version     string
	Command     string
	Agent       string
	Status      RunStatus
	LogPath     string
	Error       *string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// PhaseState is the cached fingerprint of a phase's last successful
// execution. The executor compares it against the current instruction
// and inputs to decide whether a re-run is already satisfied.
type PhaseState struct {
	Series          string
	Version         string
	PhaseID         string
	InstructionHash string
	InputsHash      string
	UpdatedAt       time.Time
}
