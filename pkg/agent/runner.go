// Package agent abstracts the AI backends that carry out phase
// instructions. The engine never talks to a backend directly; it hands
// a Runner an instruction plus resolved inputs and gets back proposed
// file contents, keeping archival and provenance under engine control.
package agent

import (
	"context"
	"time"
)

// Request is one instruction dispatch to a backend.
type Request struct {
	// Instruction is the rendered phase instruction text.
	Instruction string

	// Inputs are the resolved input values, already substituted into
	// the instruction but passed separately for backends that want
	// structured access.
	Inputs map[string]string

	// WorkDir is the workspace root the artifacts belong to. Backends
	// may read existing files here but must not write; all writes go
	// through the engine.
	WorkDir string

	// Timeout bounds the invocation. Zero means the runner default.
	Timeout time.Duration
}

// Result is what a backend produced for one request.
type Result struct {
	// Files maps workspace-relative paths to proposed content.
	Files map[string][]byte

	// Notes carries free-form backend commentary, recorded in the
	// execution log.
	Notes []string
}

// Runner invokes an AI backend with a phase instruction.
type Runner interface {
	// Name identifies the backend in logs and provenance headers.
	Name() string

	// Invoke dispatches the request and blocks until the backend
	// finishes or ctx is done.
	Invoke(ctx context.Context, req *Request) (*Result, error)
}
