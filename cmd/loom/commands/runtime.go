package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loomworks/loom/pkg/agent"
	"github.com/loomworks/loom/pkg/archive"
	"github.com/loomworks/loom/pkg/buildcheck"
	"github.com/loomworks/loom/pkg/config"
	"github.com/loomworks/loom/pkg/engine"
	"github.com/loomworks/loom/pkg/execlog"
	"github.com/loomworks/loom/pkg/manifest"
	"github.com/loomworks/loom/pkg/policy"
	"github.com/loomworks/loom/pkg/stores"
	"github.com/loomworks/loom/pkg/telemetry"
)

// runtime bundles the wired components a command needs. Commands build
// one, use it, and Close it.
type runtime struct {
	cfg      *config.Config
	logger   *telemetry.Logger
	loader   *manifest.Loader
	archive  *archive.Store
	log      *execlog.Log
	store    *stores.SQLiteStore
	agents   *agent.Registry
	policies *policy.Engine
	executor *engine.Executor
}

func newRuntime(ctx context.Context) (*runtime, error) {
	workspace, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}

	cfg, err := config.NewLoader().Load(workspace, configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: "stderr",
	})
	if err != nil {
		return nil, err
	}

	loader := manifest.NewLoader(resolvePath(cfg.WorkspaceRoot, cfg.SeriesRoot))

	store, err := archive.NewStore(resolvePath(cfg.WorkspaceRoot, cfg.ArchiveDir))
	if err != nil {
		return nil, err
	}
	log, err := execlog.NewLog(resolvePath(cfg.WorkspaceRoot, cfg.LogDir))
	if err != nil {
		return nil, err
	}

	dbPath := resolvePath(cfg.WorkspaceRoot, cfg.DatabasePath)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	db, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
	if err != nil {
		return nil, err
	}
	if err := db.Init(ctx); err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := db.HealthCheck(ctx); err != nil {
		db.Close()
		return nil, err
	}

	agents := agent.NewRegistry()
	if cfg.Agent.Command != "" {
		runner, err := agent.NewExecRunner(cfg.Agent.Name, cfg.Agent.Command, cfg.Agent.Args, cfg.Agent.Timeout)
		if err != nil {
			db.Close()
			return nil, err
		}
		if err := agents.Register(runner); err != nil {
			db.Close()
			return nil, err
		}
	}

	policies, err := policy.NewEngine(logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	if cfg.PolicyDir != "" {
		dir := resolvePath(cfg.WorkspaceRoot, cfg.PolicyDir)
		if _, statErr := os.Stat(dir); statErr == nil {
			if err := policies.LoadDir(dir); err != nil {
				db.Close()
				return nil, err
			}
		}
	}

	var build buildcheck.Validator
	if cfg.Build.Command != "" {
		v, err := buildcheck.NewCommandValidator(cfg.Build.Command, cfg.Build.Timeout)
		if err != nil {
			db.Close()
			return nil, err
		}
		build = v
	}

	executor, err := engine.NewExecutor(engine.Deps{
		Config:   cfg,
		Loader:   loader,
		Agents:   agents,
		Archive:  store,
		Log:      log,
		Logger:   logger,
		Store:    db,
		Policies: policies,
		Build:    build,
		Prompter: newPrompter(),
		Derive:   config.NewDeriveEvaluator(0),
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		loader:   loader,
		archive:  store,
		log:      log,
		store:    db,
		agents:   agents,
		policies: policies,
		executor: executor,
	}, nil
}

func (r *runtime) Close() {
	if r.store != nil {
		_ = r.store.Close()
	}
}

// resolvePath anchors relative config paths at the workspace root.
func resolvePath(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// newPrompter returns an interactive prompter when stdin is a terminal
// and a failing one otherwise, so scripted runs fail fast instead of
// hanging on a read.
func newPrompter() engine.Prompter {
	info, err := os.Stdin.Stat()
	if err != nil || info.Mode()&os.ModeCharDevice == 0 {
		return engine.FailingPrompter{}
	}
	return stdinPrompter{}
}

// stdinPrompter asks for input values on the terminal.
type stdinPrompter struct{}

func (stdinPrompter) Prompt(_ context.Context, phaseID string, spec manifest.InputSpec) (string, error) {
	fmt.Fprintf(os.Stderr, "Phase %s requires input %q: ", phaseID, spec.Name)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input %s: %w", spec.Name, err)
	}
	value := strings.TrimSpace(line)
	if value == "" {
		return "", fmt.Errorf("input %s is required and was left empty", spec.Name)
	}
	return value, nil
}

// parseInputFlags turns repeated --input key=value flags into a map.
func parseInputFlags(pairs []string) (map[string]string, error) {
	inputs := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q: want key=value", pair)
		}
		inputs[key] = value
	}
	return inputs, nil
}

// printJSON writes v as indented JSON on stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
