// Package buildcheck runs the workspace build validation that closes
// every phase that changed artifacts. The check is a configured
// command, so a workspace can point it at whatever toolchain its
// artifacts target.
package buildcheck

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Report is the outcome of one validation.
type Report struct {
	// Passed is true when the command exited zero.
	Passed bool

	// Diagnostics holds the command's output lines when it failed.
	Diagnostics []string

	// Duration is how long the command ran.
	Duration time.Duration
}

// Validator checks a workspace after artifacts change.
type Validator interface {
	// Check runs the validation in dir.
	Check(ctx context.Context, dir string) (*Report, error)
}

// CommandValidator runs a shell command as the validation.
type CommandValidator struct {
	command string
	timeout time.Duration
}

// NewCommandValidator creates a validator for a shell command.
func NewCommandValidator(command string, timeout time.Duration) (*CommandValidator, error) {
	if command == "" {
		return nil, fmt.Errorf("build command is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &CommandValidator{command: command, timeout: timeout}, nil
}

// Check runs the command in dir. A non-zero exit is a failed report,
// not an error; errors mean the command could not run at all.
func (v *CommandValidator) Check(ctx context.Context, dir string) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", v.command)
	cmd.Dir = dir

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	err := cmd.Run()
	report := &Report{Duration: time.Since(start)}

	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("build validation timed out after %s", v.timeout)
	}
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return nil, fmt.Errorf("failed to run build validation: %w", err)
		}
		report.Passed = false
		for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				report.Diagnostics = append(report.Diagnostics, line)
			}
		}
		return report, nil
	}

	report.Passed = true
	return report, nil
}

// NopValidator reports success without running anything. Used when a
// workspace has no build command configured.
type NopValidator struct{}

// Check always passes.
func (NopValidator) Check(ctx context.Context, dir string) (*Report, error) {
	return &Report{Passed: true}, nil
}
