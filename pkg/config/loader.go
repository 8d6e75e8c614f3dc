package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// systemFragment is the machine-wide configuration fragment.
const systemFragment = "/etc/loom/config.cue"

// workspaceFragment is the per-workspace fragment, relative to the
// workspace root.
const workspaceFragment = "loom.cue"

// fragment mirrors the CUE configuration surface. Durations arrive as
// strings ("5m") and are parsed when applied.
type fragment struct {
	WorkspaceRoot string `json:"workspaceRoot"`
	SeriesRoot    string `json:"seriesRoot"`
	ArchiveDir    string `json:"archiveDir"`
	LogDir        string `json:"logDir"`
	DatabasePath  string `json:"databasePath"`
	PolicyDir     string `json:"policyDir"`
	LogLevel      string `json:"logLevel"`
	LogFormat     string `json:"logFormat"`

	Agent struct {
		Name    string   `json:"name"`
		Command string   `json:"command"`
		Args    []string `json:"args"`
		Timeout string   `json:"timeout"`
	} `json:"agent"`

	Build struct {
		Command string `json:"command"`
		Timeout string `json:"timeout"`
	} `json:"build"`

	Run struct {
		Parallel        *int   `json:"parallel"`
		ContinueOnError *bool  `json:"continueOnError"`
		PolicyMode      string `json:"policyMode"`
	} `json:"run"`
}

// Loader assembles the effective configuration from CUE fragments.
type Loader struct {
	ctx *cue.Context
}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{ctx: cuecontext.New()}
}

// Load assembles configuration for a workspace. Fragments are applied
// system, then user, then workspace, then the explicit file if given,
// so later fragments override earlier ones. Missing fragments are
// skipped; an explicit file must exist.
func (l *Loader) Load(workspaceDir, explicit string) (*Config, error) {
	paths := []string{systemFragment}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "loom", "config.cue"))
	}
	paths = append(paths, filepath.Join(workspaceDir, workspaceFragment))

	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return nil, fmt.Errorf("config file %s: %w", explicit, err)
		}
		existing = append(existing, explicit)
	}

	cfg, err := l.LoadFiles(existing...)
	if err != nil {
		return nil, err
	}
	if cfg.WorkspaceRoot == "." {
		cfg.WorkspaceRoot = workspaceDir
	}
	return cfg, nil
}

// LoadFiles assembles configuration from an explicit fragment list,
// later files overriding earlier ones.
func (l *Loader) LoadFiles(paths ...string) (*Config, error) {
	cfg := Default()
	for _, p := range paths {
		frag, err := l.loadFragment(p)
		if err != nil {
			return nil, err
		}
		if err := frag.apply(cfg); err != nil {
			return nil, fmt.Errorf("config fragment %s: %w", p, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) loadFragment(path string) (*fragment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config fragment: %w", err)
	}

	val := l.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse config fragment %s:\n%s", path, cueerrors.Details(err, nil))
	}

	frag := &fragment{}
	if err := val.Decode(frag); err != nil {
		return nil, fmt.Errorf("failed to decode config fragment %s: %w", path, err)
	}
	return frag, nil
}

// apply overlays the fragment's set fields onto cfg.
func (f *fragment) apply(cfg *Config) error {
	setString(&cfg.WorkspaceRoot, f.WorkspaceRoot)
	setString(&cfg.SeriesRoot, f.SeriesRoot)
	setString(&cfg.ArchiveDir, f.ArchiveDir)
	setString(&cfg.LogDir, f.LogDir)
	setString(&cfg.DatabasePath, f.DatabasePath)
	setString(&cfg.PolicyDir, f.PolicyDir)
	setString(&cfg.LogLevel, f.LogLevel)
	setString(&cfg.LogFormat, f.LogFormat)

	setString(&cfg.Agent.Name, f.Agent.Name)
	setString(&cfg.Agent.Command, f.Agent.Command)
	if f.Agent.Args != nil {
		cfg.Agent.Args = f.Agent.Args
	}
	if err := setDuration(&cfg.Agent.Timeout, f.Agent.Timeout); err != nil {
		return fmt.Errorf("agent.timeout: %w", err)
	}

	setString(&cfg.Build.Command, f.Build.Command)
	if err := setDuration(&cfg.Build.Timeout, f.Build.Timeout); err != nil {
		return fmt.Errorf("build.timeout: %w", err)
	}

	if f.Run.Parallel != nil {
		cfg.Run.Parallel = *f.Run.Parallel
	}
	if f.Run.ContinueOnError != nil {
		cfg.Run.ContinueOnError = *f.Run.ContinueOnError
	}
	setString(&cfg.Run.PolicyMode, f.Run.PolicyMode)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
