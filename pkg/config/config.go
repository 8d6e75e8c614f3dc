// Package config loads loom's configuration from CUE fragments. A
// workspace's effective configuration is the merge of the system,
// user, and workspace fragments, with more specific fragments winning.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// AgentConfig selects and tunes the AI backend.
type AgentConfig struct {
	// Name is the backend identity recorded in provenance headers.
	Name string `json:"name" validate:"required"`

	// Command is the backend CLI to invoke.
	Command string `json:"command" validate:"required"`

	// Args are passed to the command before the instruction.
	Args []string `json:"args,omitempty"`

	// Timeout bounds one invocation.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// BuildConfig describes the post-run build validation.
type BuildConfig struct {
	// Command is the shell command run after artifacts change. Empty
	// disables validation.
	Command string `json:"command,omitempty"`

	// Timeout bounds the command.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// RunConfig tunes engine execution.
type RunConfig struct {
	// Parallel is the worker count for independent phases. 1 means
	// strictly sequential execution.
	Parallel int `json:"parallel" validate:"min=1"`

	// ContinueOnError keeps executing phases whose dependencies all
	// succeeded after another phase fails.
	ContinueOnError bool `json:"continueOnError"`

	// PolicyMode is how policy denials are treated: "enforcing" aborts
	// the run, "advisory" logs a warning.
	PolicyMode string `json:"policyMode" validate:"oneof=enforcing advisory"`
}

// Config is the effective loom configuration. It is assembled once at
// startup and never mutated afterward.
type Config struct {
	// WorkspaceRoot is the directory artifacts are written under.
	WorkspaceRoot string `json:"workspaceRoot" validate:"required"`

	// SeriesRoot holds the versioned manifests.
	SeriesRoot string `json:"seriesRoot" validate:"required"`

	// ArchiveDir holds the append-only artifact archive.
	ArchiveDir string `json:"archiveDir" validate:"required"`

	// LogDir holds the YAML execution logs.
	LogDir string `json:"logDir" validate:"required"`

	// DatabasePath is the SQLite input cache and run index.
	DatabasePath string `json:"databasePath" validate:"required"`

	// PolicyDir optionally holds extra rego policies.
	PolicyDir string `json:"policyDir,omitempty"`

	// LogLevel and LogFormat configure telemetry output.
	LogLevel  string `json:"logLevel" validate:"oneof=trace debug info warn error"`
	LogFormat string `json:"logFormat" validate:"oneof=json console"`

	Agent AgentConfig `json:"agent" validate:"required"`
	Build BuildConfig `json:"build"`
	Run   RunConfig   `json:"run"`
}

// Default returns the configuration used when no fragment sets a
// value. Paths are relative to the workspace root.
func Default() *Config {
	return &Config{
		WorkspaceRoot: ".",
		SeriesRoot:    ".loom/series",
		ArchiveDir:    ".loom/archive",
		LogDir:        ".loom/logs",
		DatabasePath:  ".loom/loom.db",
		LogLevel:      "info",
		LogFormat:     "console",
		Agent: AgentConfig{
			Timeout: 10 * time.Minute,
		},
		Build: BuildConfig{
			Timeout: 5 * time.Minute,
		},
		Run: RunConfig{
			Parallel:   1,
			PolicyMode: "advisory",
		},
	}
}

// Validate checks the assembled configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
