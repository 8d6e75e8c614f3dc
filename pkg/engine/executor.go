package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/loomworks/loom/pkg/agent"
	"github.com/loomworks/loom/pkg/archive"
	"github.com/loomworks/loom/pkg/buildcheck"
	"github.com/loomworks/loom/pkg/config"
	"github.com/loomworks/loom/pkg/execlog"
	"github.com/loomworks/loom/pkg/manifest"
	"github.com/loomworks/loom/pkg/policy"
	"github.com/loomworks/loom/pkg/provenance"
	"github.com/loomworks/loom/pkg/stores"
	"github.com/loomworks/loom/pkg/telemetry"
)

// Deps holds the collaborators an Executor needs. Config, Loader,
// Agents, Archive, Log, and Logger are required; the rest degrade
// gracefully when nil.
type Deps struct {
	Config   *config.Config
	Loader   *manifest.Loader
	Agents   *agent.Registry
	Archive  *archive.Store
	Log      *execlog.Log
	Logger   *telemetry.Logger
	Store    StateStore
	Policies *policy.Engine
	Build    buildcheck.Validator
	Prompter Prompter
	Derive   *config.DeriveEvaluator
	Metrics  *telemetry.Metrics
	Tracer   *telemetry.Tracer
}

// Executor runs phase series against a workspace.
type Executor struct {
	cfg      *config.Config
	loader   *manifest.Loader
	agents   *agent.Registry
	archive  *archive.Store
	log      *execlog.Log
	logger   *telemetry.Logger
	store    StateStore
	policies *policy.Engine
	build    buildcheck.Validator
	prompter Prompter
	derive   *config.DeriveEvaluator
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
}

// NewExecutor creates an executor from its collaborators.
func NewExecutor(deps Deps) (*Executor, error) {
	switch {
	case deps.Config == nil:
		return nil, fmt.Errorf("config is required")
	case deps.Loader == nil:
		return nil, fmt.Errorf("manifest loader is required")
	case deps.Agents == nil:
		return nil, fmt.Errorf("agent registry is required")
	case deps.Archive == nil:
		return nil, fmt.Errorf("archive store is required")
	case deps.Log == nil:
		return nil, fmt.Errorf("execution log is required")
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	}

	e := &Executor{
		cfg:      deps.Config,
		loader:   deps.Loader,
		agents:   deps.Agents,
		archive:  deps.Archive,
		log:      deps.Log,
		logger:   deps.Logger.NewComponentLogger("executor"),
		store:    deps.Store,
		policies: deps.Policies,
		build:    deps.Build,
		prompter: deps.Prompter,
		derive:   deps.Derive,
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
	}
	if e.build == nil {
		e.build = buildcheck.NopValidator{}
	}
	if e.prompter == nil {
		e.prompter = FailingPrompter{}
	}
	if e.metrics == nil {
		// A disabled collector keeps the call sites unconditional.
		e.metrics, _ = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}
	return e, nil
}

// Execute runs the selected phases of a series and returns the run
// record. The record is appended to the execution log even when the
// run fails; only setup errors (unknown series, invalid manifest,
// policy denial) return before a record exists.
func (e *Executor) Execute(ctx context.Context, opts RunOptions) (*execlog.Record, error) {
	start := time.Now()
	if opts.Command == "" {
		opts.Command = "execute"
	}

	m, err := e.loadManifest(opts.Series, opts.Version)
	if err != nil {
		return nil, err
	}

	if err := manifest.Validate(m); err != nil {
		return nil, NewPermanentError("manifest validation failed", err).WithCode(ErrCodeValidation)
	}

	policyWarnings, err := e.gateManifest(ctx, m)
	if err != nil {
		return nil, err
	}

	ids, selWarnings, err := manifest.Select(m, opts.Selection)
	if err != nil {
		return nil, NewPermanentError("phase selection failed", err).WithCode(ErrCodeValidation)
	}
	ids = withDirectVerifiers(m, ids, opts.Selection.Skip)

	record := execlog.NewRecord(m.Series, m.Version.String(), opts.Command, e.cfg.Agent.Name)
	record.Warnings = append(record.Warnings, policyWarnings...)
	record.Warnings = append(record.Warnings, selWarnings...)

	logger := e.logger.WithSeries(m.Series, m.Version.String()).WithRunID(record.ID)
	logger.Infof("Running %d of %d phases", len(ids), len(m.Phases))
	e.metrics.RecordRunStarted(opts.Command, m.Series)

	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.StartRunSpan(ctx, record.ID, m.Series, m.Version.String())
		defer span.End()
	}

	outcomes := e.runPhases(ctx, m, ids, opts)

	var runErr error
	for i := range outcomes {
		o := &outcomes[i]
		p, _ := m.Phase(o.PhaseID)
		pr := execlog.PhaseRecord{
			PhaseID:  o.PhaseID,
			Type:     string(p.Type),
			Status:   string(o.Status),
			Inputs:   o.Inputs,
			Created:  o.Created,
			Modified: o.Modified,
			Archived: o.Archived,
			Build:    o.Build,
			Duration: o.Duration,
			Notes:    o.Notes,
		}
		if o.Err != nil {
			pr.Error = o.Err.Error()
			if runErr == nil {
				runErr = o.Err
			}
		}
		if o.Build != nil {
			if !record.Build.Ran {
				record.Build = execlog.BuildRecord{Ran: true, Passed: true}
			}
			if !o.Build.Passed {
				record.Build.Passed = false
			}
			record.Build.Diagnostics = append(record.Build.Diagnostics, o.Build.Diagnostics...)
		}
		record.Phases = append(record.Phases, pr)
	}

	if runErr != nil && e.cfg.Run.ContinueOnError {
		succeeded, failed := 0, 0
		for _, o := range outcomes {
			switch o.Status {
			case PhaseSuccess, PhaseSatisfied:
				succeeded++
			case PhaseFailed:
				failed++
			}
		}
		if succeeded > 0 && failed > 0 {
			runErr = NewPermanentError(
				fmt.Sprintf("%d of %d phases failed", failed, len(outcomes)), runErr,
			).WithCode(ErrCodePartialFailure)
		}
	}

	record.Duration = time.Since(start)
	if runErr != nil {
		record.Error = runErr.Error()
	}

	if !opts.DryRun {
		if _, err := e.log.Append(record); err != nil {
			logger.WithError(err).Error("Failed to append run record")
			if runErr == nil {
				runErr = err
			}
		}
	}

	status := "completed"
	if runErr != nil {
		status = "failed"
	}
	e.metrics.RecordRunCompleted(opts.Command, status, record.Duration)
	logger.Infof("Run %s %s in %s", record.ID, status, record.Duration)

	return record, runErr
}

// withDirectVerifiers extends a selection with the verification phases
// that depend directly on a selected generation phase. Generation
// without its verifier is half a run; explicit Skip still wins.
func withDirectVerifiers(m *manifest.Manifest, ids, skip []string) []string {
	selected := make(map[string]bool, len(ids))
	for _, id := range ids {
		selected[id] = true
	}
	skipped := make(map[string]bool, len(skip))
	for _, id := range skip {
		skipped[id] = true
	}

	added := false
	for _, id := range ids {
		p, _ := m.Phase(id)
		if p.Type != manifest.PhaseGeneration {
			continue
		}
		for _, v := range m.DirectVerifiers(id) {
			if !selected[v] && !skipped[v] {
				selected[v] = true
				added = true
			}
		}
	}
	if !added {
		return ids
	}

	order, err := manifest.TopologicalOrder(m)
	if err != nil {
		return ids
	}
	out := make([]string, 0, len(selected))
	for _, id := range order {
		if selected[id] {
			out = append(out, id)
		}
	}
	return out
}

// loadManifest loads the requested series version, latest when version
// is empty.
func (e *Executor) loadManifest(series, version string) (*manifest.Manifest, error) {
	if version == "" {
		latest, err := e.loader.LatestVersion(series)
		if err != nil {
			return nil, NewPermanentError("failed to resolve latest version", err).WithCode(ErrCodeUnknownSeries)
		}
		version = latest.String()
	}

	m, err := e.loader.Load(series, version)
	if err != nil {
		var unknownSeries *manifest.UnknownSeriesError
		var unknownVersion *manifest.UnknownVersionError
		switch {
		case errors.As(err, &unknownSeries):
			return nil, NewPermanentError("unknown series", err).WithCode(ErrCodeUnknownSeries)
		case errors.As(err, &unknownVersion):
			return nil, NewPermanentError("unknown version", err).WithCode(ErrCodeUnknownVersion)
		default:
			return nil, NewPermanentError("failed to load manifest", err).WithCode(ErrCodeValidation)
		}
	}
	return m, nil
}

// gateManifest runs the policy engine. Error-severity denials abort in
// enforcing mode; everything else becomes warnings on the record.
func (e *Executor) gateManifest(ctx context.Context, m *manifest.Manifest) ([]string, error) {
	if e.policies == nil {
		return nil, nil
	}

	result, err := e.policies.EvaluateManifest(ctx, m)
	if err != nil {
		return nil, NewPermanentError("policy evaluation failed", err).WithCode(ErrCodePolicyDenied)
	}

	warnings := append([]string(nil), result.Warnings...)
	for _, v := range result.Violations {
		warnings = append(warnings, fmt.Sprintf("policy %s: %s", v.Policy, v.Message))
	}

	if !result.Allowed && e.cfg.Run.PolicyMode == "enforcing" {
		return nil, NewPermanentError(
			fmt.Sprintf("manifest denied by policy (%d violations)", len(result.Violations)), nil,
		).WithCode(ErrCodePolicyDenied)
	}
	return warnings, nil
}

// executePhase runs one phase end to end and stamps its elapsed time.
func (e *Executor) executePhase(ctx context.Context, m *manifest.Manifest, p *manifest.PhaseDefinition, opts RunOptions) PhaseOutcome {
	start := time.Now()
	outcome := e.runPhase(ctx, m, p, opts)
	outcome.Duration = time.Since(start)
	return outcome
}

func (e *Executor) runPhase(ctx context.Context, m *manifest.Manifest, p *manifest.PhaseDefinition, opts RunOptions) PhaseOutcome {
	outcome := PhaseOutcome{PhaseID: p.ID}
	logger := e.logger.WithSeries(m.Series, m.Version.String()).WithPhase(p.ID)
	start := time.Now()

	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.StartPhaseSpan(ctx, p.ID, string(p.Type))
		defer span.End()
	}

	inputs, err := e.resolveInputs(ctx, m, p, opts.Inputs)
	if err != nil {
		outcome.Status = PhaseFailed
		outcome.Err = err
		return outcome
	}
	outcome.Inputs = inputs

	instruction := renderInstruction(p.Instruction, inputs)
	fingerprint := fingerprintPhase(instruction, inputs)

	if !opts.DryRun && e.isSatisfied(ctx, m, p, fingerprint) {
		logger.Info("Phase already satisfied, skipping agent call")
		outcome.Status = PhaseSatisfied
		return outcome
	}

	if opts.DryRun {
		outcome.Status = PhaseSkipped
		outcome.Notes = append(outcome.Notes, "dry run")
		return outcome
	}

	runner, err := e.agents.Get(e.cfg.Agent.Name)
	if err != nil {
		outcome.Status = PhaseFailed
		outcome.Err = NewPermanentError("agent not available", err).WithPhase(p.ID).WithCode(ErrCodeAgentFailed)
		return outcome
	}

	agentStart := time.Now()
	result, err := runner.Invoke(ctx, &agent.Request{
		Instruction: instruction,
		Inputs:      inputs,
		WorkDir:     e.cfg.WorkspaceRoot,
		Timeout:     e.cfg.Agent.Timeout,
	})
	e.metrics.RecordAgentCall(runner.Name(), time.Since(agentStart))
	if err != nil {
		e.metrics.RecordAgentError(runner.Name())
		outcome.Status = PhaseFailed
		outcome.Err = classifyAgentError(p.ID, err)
		e.metrics.RecordPhaseExecution(string(p.Type), string(PhaseFailed), time.Since(start))
		return outcome
	}
	outcome.Notes = append(outcome.Notes, result.Notes...)

	if err := e.writeArtifacts(m, p, runner.Name(), result.Files, &outcome); err != nil {
		outcome.Status = PhaseFailed
		outcome.Err = err
		e.metrics.RecordPhaseExecution(string(p.Type), string(PhaseFailed), time.Since(start))
		return outcome
	}

	// Build validation closes every phase that changed artifacts. A
	// failed validation fails the phase; the artifacts stay in place
	// alongside their archived predecessors.
	if len(outcome.Created)+len(outcome.Modified) > 0 {
		report, err := e.runBuildCheck(ctx)
		if err != nil {
			outcome.Build = &execlog.BuildRecord{Ran: true}
			outcome.Status = PhaseFailed
			outcome.Err = err
			e.metrics.RecordPhaseExecution(string(p.Type), string(PhaseFailed), time.Since(start))
			return outcome
		}
		outcome.Build = &execlog.BuildRecord{Ran: true, Passed: report.Passed, Diagnostics: report.Diagnostics}
		if !report.Passed {
			outcome.Status = PhaseFailed
			outcome.Err = NewPermanentError("build validation failed", nil).WithPhase(p.ID).WithCode(ErrCodeBuildFailed)
			e.metrics.RecordPhaseExecution(string(p.Type), string(PhaseFailed), time.Since(start))
			return outcome
		}
	}

	if e.store != nil {
		if err := e.store.PutPhaseState(ctx, &stores.PhaseState{
			Series:          m.Series,
			Version:         m.Version.String(),
			PhaseID:         p.ID,
			InstructionHash: fingerprint.instruction,
			InputsHash:      fingerprint.inputs,
		}); err != nil {
			logger.WithError(err).Warn("Failed to record phase state")
		}
	}

	outcome.Status = PhaseSuccess
	e.metrics.RecordPhaseExecution(string(p.Type), string(PhaseSuccess), time.Since(start))
	return outcome
}

// resolveInputs assembles a phase's input values: explicit overrides
// first, then the cache, then declared defaults, then the prompter for
// anything still missing. Derive scripts run last and only add keys.
func (e *Executor) resolveInputs(ctx context.Context, m *manifest.Manifest, p *manifest.PhaseDefinition, overrides map[string]string) (map[string]string, error) {
	var cached map[string]string
	if e.store != nil {
		var err error
		cached, _, err = e.store.GetInputs(ctx, m.Series, m.Version.String(), p.ID)
		if err != nil {
			e.logger.WithError(err).Warn("Failed to read input cache")
		}
	}

	inputs := make(map[string]string, len(p.Inputs))
	for _, spec := range p.Inputs {
		switch {
		case overrides[spec.Name] != "":
			inputs[spec.Name] = overrides[spec.Name]
		case cached[spec.Name] != "":
			inputs[spec.Name] = cached[spec.Name]
		case spec.Default != "":
			inputs[spec.Name] = spec.Default
		case spec.Required:
			value, err := e.prompter.Prompt(ctx, p.ID, spec)
			if err != nil {
				return nil, err
			}
			inputs[spec.Name] = value
		}
	}

	if p.Derive != "" && e.derive != nil {
		derived, err := e.derive.Derive(ctx, p.Derive, inputs)
		if err != nil {
			return nil, NewPermanentError("input derivation failed", err).WithPhase(p.ID).WithCode(ErrCodeInputUnresolved)
		}
		for k, v := range derived {
			if _, exists := inputs[k]; !exists {
				inputs[k] = v
			}
		}
	}

	if e.store != nil {
		if err := e.store.PutInputs(ctx, m.Series, m.Version.String(), p.ID, inputs); err != nil {
			e.logger.WithError(err).Warn("Failed to cache inputs")
		}
	}
	return inputs, nil
}

// isSatisfied reports whether a phase's last recorded execution still
// covers the current instruction, inputs, and artifacts. Satisfied
// phases are not re-dispatched and archive nothing.
func (e *Executor) isSatisfied(ctx context.Context, m *manifest.Manifest, p *manifest.PhaseDefinition, fp phaseFingerprint) bool {
	if e.store == nil {
		return false
	}

	state, err := e.store.GetPhaseState(ctx, m.Series, m.Version.String(), p.ID)
	if err != nil || state == nil {
		return false
	}
	if state.InstructionHash != fp.instruction || state.InputsHash != fp.inputs {
		return false
	}

	for _, rel := range p.Produces {
		if _, err := os.Stat(filepath.Join(e.cfg.WorkspaceRoot, filepath.FromSlash(rel))); err != nil {
			return false
		}
	}
	return true
}

// writeArtifacts commits agent-produced files to the workspace:
// archive existing content first, stamp provenance, then write
// atomically. Manual-pattern files are stubbed once and never
// rewritten.
func (e *Executor) writeArtifacts(m *manifest.Manifest, p *manifest.PhaseDefinition, agentName string, files map[string][]byte, outcome *PhaseOutcome) error {
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, rel := range paths {
		target, err := e.workspacePath(rel)
		if err != nil {
			return NewPermanentError("artifact path rejected", err).WithPhase(p.ID).WithCode(ErrCodeValidation)
		}

		_, statErr := os.Stat(target)
		exists := statErr == nil

		if p.MatchesManualPattern(rel) {
			if exists {
				outcome.Notes = append(outcome.Notes, fmt.Sprintf("manual file %s left untouched", rel))
				continue
			}
			// The stub is empty: agent content never lands in a file
			// the human owns from its first byte.
			if err := writeFileAtomic(target, nil); err != nil {
				return NewPermanentError("failed to write manual stub", err).WithPhase(p.ID)
			}
			outcome.Created = append(outcome.Created, rel)
			outcome.Notes = append(outcome.Notes, fmt.Sprintf("manual file %s stubbed", rel))
			e.metrics.RecordArtifactWritten()
			continue
		}

		if exists {
			current, err := os.ReadFile(target)
			if err != nil {
				return NewPermanentError("failed to read existing artifact", err).WithPhase(p.ID).WithCode(ErrCodeArchiveFailed)
			}
			if _, err := e.archive.Put(rel, m.Series, m.Version.String(), p.ID, current); err != nil {
				return NewPermanentError("failed to archive artifact", err).WithPhase(p.ID).WithCode(ErrCodeArchiveFailed)
			}
			outcome.Archived = append(outcome.Archived, rel)
			e.metrics.RecordArchiveEntry()
		}

		content := provenance.Inject(string(files[rel]), provenance.Fields{
			Series:    m.Series,
			Version:   m.Version.String(),
			PhaseID:   p.ID,
			Agent:     agentName,
			Timestamp: time.Now().UTC(),
			Source:    p.Source,
		}, rel)

		if err := writeFileAtomic(target, []byte(content)); err != nil {
			return NewPermanentError("failed to write artifact", err).WithPhase(p.ID)
		}
		if exists {
			outcome.Modified = append(outcome.Modified, rel)
		} else {
			outcome.Created = append(outcome.Created, rel)
		}
		e.metrics.RecordArtifactWritten()
	}
	return nil
}

// workspacePath resolves a workspace-relative artifact path, rejecting
// anything that escapes the root.
func (e *Executor) workspacePath(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("artifact path %q is absolute", rel)
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact path %q escapes the workspace", rel)
	}
	return filepath.Join(e.cfg.WorkspaceRoot, clean), nil
}

func (e *Executor) runBuildCheck(ctx context.Context) (*buildcheck.Report, error) {
	report, err := e.build.Check(ctx, e.cfg.WorkspaceRoot)
	if err != nil {
		return nil, NewTransientError("build validation did not run", err).WithCode(ErrCodeBuildFailed)
	}
	e.metrics.RecordBuildCheck(report.Passed)
	return report, nil
}

// renderInstruction substitutes {{name}} placeholders with input
// values. Unknown placeholders are left in place for the agent to see.
func renderInstruction(instruction string, inputs map[string]string) string {
	for k, v := range inputs {
		instruction = strings.ReplaceAll(instruction, "{{"+k+"}}", v)
	}
	return instruction
}

type phaseFingerprint struct {
	instruction string
	inputs      string
}

// fingerprintPhase hashes the rendered instruction and the resolved
// inputs. Matching fingerprints mean a re-run has nothing new to do.
func fingerprintPhase(instruction string, inputs map[string]string) phaseFingerprint {
	ih := sha256.Sum256([]byte(instruction))

	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(inputs[k])
		sb.WriteString("\n")
	}
	nh := sha256.Sum256([]byte(sb.String()))

	return phaseFingerprint{
		instruction: hex.EncodeToString(ih[:]),
		inputs:      hex.EncodeToString(nh[:]),
	}
}

// classifyAgentError maps agent failures onto the error taxonomy.
// Timeouts are transient; everything else is permanent.
func classifyAgentError(phaseID string, err error) *EngineError {
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "timed out") {
		return NewTransientError("agent timed out", err).WithPhase(phaseID).WithCode(ErrCodeTimeout)
	}
	return NewPermanentError("agent invocation failed", err).WithPhase(phaseID).WithCode(ErrCodeAgentFailed)
}

// writeFileAtomic writes content via a temp file and rename so readers
// never observe a partial artifact.
func writeFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-artifact-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to commit artifact: %w", err)
	}
	return nil
}
