package agent

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// File-block protocol delimiters. The backend command writes each
// produced file to stdout between a file line and an end line; anything
// outside a block is treated as a note.
const (
	fileBlockOpen  = "--- loom-file: "
	fileBlockClose = "--- loom-end"
)

// DefaultTimeout bounds backend invocations that do not set their own.
const DefaultTimeout = 10 * time.Minute

// ExecRunner invokes a backend as a subprocess. The instruction is
// written to the process stdin, resolved inputs are exported as
// LOOM_INPUT_* environment variables, and produced files are read back
// from stdout using the file-block protocol.
type ExecRunner struct {
	name    string
	command string
	args    []string
	timeout time.Duration
}

// NewExecRunner creates a runner for a backend CLI.
func NewExecRunner(name, command string, args []string, timeout time.Duration) (*ExecRunner, error) {
	if command == "" {
		return nil, fmt.Errorf("agent command is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ExecRunner{name: name, command: command, args: args, timeout: timeout}, nil
}

// Name returns the backend name.
func (r *ExecRunner) Name() string {
	return r.name
}

// Invoke runs the backend command for one request.
func (r *ExecRunner) Invoke(ctx context.Context, req *Request) (*Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.command, r.args...)
	cmd.Stdin = strings.NewReader(req.Instruction)
	if req.WorkDir != "" {
		cmd.Dir = req.WorkDir
	}

	env := os.Environ()
	for k, v := range req.Inputs {
		env = append(env, fmt.Sprintf("LOOM_INPUT_%s=%s", strings.ToUpper(k), v))
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("agent %s timed out after %s: %w", r.name, timeout, ctx.Err())
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("agent %s failed: %s", r.name, msg)
	}

	result, err := ParseOutput(stdout.String())
	if err != nil {
		return nil, fmt.Errorf("agent %s produced malformed output: %w", r.name, err)
	}
	return result, nil
}

// ParseOutput decodes the file-block protocol from backend stdout.
func ParseOutput(output string) (*Result, error) {
	result := &Result{Files: make(map[string][]byte)}

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var (
		currentPath string
		currentBody strings.Builder
	)
	for scanner.Scan() {
		line := scanner.Text()

		if currentPath == "" {
			if strings.HasPrefix(line, fileBlockOpen) {
				currentPath = strings.TrimSpace(strings.TrimPrefix(line, fileBlockOpen))
				if currentPath == "" {
					return nil, fmt.Errorf("file block with empty path")
				}
				currentBody.Reset()
				continue
			}
			if note := strings.TrimSpace(line); note != "" {
				result.Notes = append(result.Notes, note)
			}
			continue
		}

		if strings.TrimSpace(line) == fileBlockClose {
			result.Files[currentPath] = []byte(currentBody.String())
			currentPath = ""
			continue
		}
		currentBody.WriteString(line)
		currentBody.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan agent output: %w", err)
	}
	if currentPath != "" {
		return nil, fmt.Errorf("unterminated file block for %s", currentPath)
	}
	return result, nil
}
