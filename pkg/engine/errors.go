// Package engine executes, evolves, and migrates phase series. It
// coordinates manifest loading, phase selection, agent dispatch,
// archival, provenance, build validation, and execution logging.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and
// recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may
	// succeed on retry. Examples: agent timeouts, backend hiccups.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates backend rate limiting. Should be
	// retried with backoff.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict indicates concurrent modification of the
	// workspace or series state.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid manifest, unknown series, policy denial.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with context.
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Phase is the phase ID that caused the error, if applicable.
	Phase string `json:"phase,omitempty"`

	// Operation is the operation being performed when the error
	// occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Phase != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (phase=%s, operation=%s): %s",
			e.Class, e.Message, e.Phase, e.Operation, e.unwrapMessage())
	}
	if e.Phase != "" {
		return fmt.Sprintf("[%s] %s (phase=%s): %s",
			e.Class, e.Message, e.Phase, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithPhase adds phase context to an error.
func (e *EngineError) WithPhase(phaseID string) *EngineError {
	e.Phase = phaseID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried.
func IsRetryable(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient || e.Class == ErrorClassThrottled || e.Class == ErrorClassConflict
	}
	return false
}

// Common error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeUnknownSeries    = "UNKNOWN_SERIES"
	ErrCodeUnknownVersion   = "UNKNOWN_VERSION"
	ErrCodeInputUnresolved  = "INPUT_UNRESOLVED"
	ErrCodeAgentFailed      = "AGENT_FAILED"
	ErrCodeBuildFailed      = "BUILD_FAILED"
	ErrCodePolicyDenied     = "POLICY_DENIED"
	ErrCodeArchiveFailed    = "ARCHIVE_FAILED"
	ErrCodeDependencyFailed = "DEPENDENCY_FAILED"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodePartialFailure   = "PARTIAL_FAILURE"
)
