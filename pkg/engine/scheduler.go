package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/loomworks/loom/pkg/manifest"
)

// runPhases executes the selected phases in dependency order. With
// Run.Parallel of 1 execution is strictly sequential; higher values
// run independent phases of the same dependency level concurrently.
// Failures skip dependent phases; with ContinueOnError unset the first
// failure also skips everything after it.
func (e *Executor) runPhases(ctx context.Context, m *manifest.Manifest, ids []string, opts RunOptions) []PhaseOutcome {
	if e.cfg.Run.Parallel > 1 {
		return e.runLevels(ctx, m, ids, opts)
	}
	return e.runSequential(ctx, m, ids, opts)
}

func (e *Executor) runSequential(ctx context.Context, m *manifest.Manifest, ids []string, opts RunOptions) []PhaseOutcome {
	selected := make(map[string]bool, len(ids))
	for _, id := range ids {
		selected[id] = true
	}

	outcomes := make([]PhaseOutcome, 0, len(ids))
	byID := make(map[string]*PhaseOutcome, len(ids))
	halted := false

	for _, id := range ids {
		p, _ := m.Phase(id)

		switch {
		case halted:
			outcomes = append(outcomes, skippedOutcome(id, "earlier phase failed"))
		case ctx.Err() != nil:
			outcomes = append(outcomes, skippedOutcome(id, "run cancelled"))
		default:
			if failedDep := firstFailedDependency(p, selected, byID); failedDep != "" {
				outcomes = append(outcomes, dependencyFailedOutcome(id, failedDep))
			} else if unmet := e.firstUnmetDependency(ctx, m, p, selected); unmet != "" && !opts.DryRun {
				outcomes = append(outcomes, dependencyUnmetOutcome(id, unmet))
			} else {
				outcomes = append(outcomes, e.executePhase(ctx, m, p, opts))
			}
		}

		last := &outcomes[len(outcomes)-1]
		byID[id] = last
		if last.Status == PhaseFailed && !e.cfg.Run.ContinueOnError {
			halted = true
		}
	}
	return outcomes
}

// runLevels groups the selected phases into dependency levels and runs
// each level with a bounded worker pool.
func (e *Executor) runLevels(ctx context.Context, m *manifest.Manifest, ids []string, opts RunOptions) []PhaseOutcome {
	selected := make(map[string]bool, len(ids))
	for _, id := range ids {
		selected[id] = true
	}

	// ids arrive topologically ordered, so a phase's selected
	// dependencies always have a level before it is reached.
	levelOf := make(map[string]int, len(ids))
	maxLevel := 0
	for _, id := range ids {
		level := 0
		p, _ := m.Phase(id)
		for _, dep := range p.DependsOn {
			if selected[dep] && levelOf[dep]+1 > level {
				level = levelOf[dep] + 1
			}
		}
		levelOf[id] = level
		if level > maxLevel {
			maxLevel = level
		}
	}

	byID := make(map[string]*PhaseOutcome, len(ids))
	halted := false

	for level := 0; level <= maxLevel; level++ {
		var levelIDs []string
		for _, id := range ids {
			if levelOf[id] == level {
				levelIDs = append(levelIDs, id)
			}
		}

		if halted || ctx.Err() != nil {
			for _, id := range levelIDs {
				o := skippedOutcome(id, "earlier phase failed")
				byID[id] = &o
			}
			continue
		}

		results := make([]PhaseOutcome, len(levelIDs))
		sem := make(chan struct{}, e.cfg.Run.Parallel)
		var wg sync.WaitGroup

		for i, id := range levelIDs {
			p, _ := m.Phase(id)
			if failedDep := firstFailedDependency(p, selected, byID); failedDep != "" {
				results[i] = dependencyFailedOutcome(id, failedDep)
				continue
			}
			if unmet := e.firstUnmetDependency(ctx, m, p, selected); unmet != "" && !opts.DryRun {
				results[i] = dependencyUnmetOutcome(id, unmet)
				continue
			}

			wg.Add(1)
			sem <- struct{}{}
			go func(i int, p *manifest.PhaseDefinition) {
				defer wg.Done()
				defer func() { <-sem }()
				results[i] = e.executePhase(ctx, m, p, opts)
			}(i, p)
		}
		wg.Wait()

		for i, id := range levelIDs {
			o := results[i]
			byID[id] = &o
			if o.Status == PhaseFailed && !e.cfg.Run.ContinueOnError {
				halted = true
			}
		}
	}

	outcomes := make([]PhaseOutcome, 0, len(ids))
	for _, id := range ids {
		outcomes = append(outcomes, *byID[id])
	}
	return outcomes
}

// firstFailedDependency returns the ID of a selected dependency that
// failed or was skipped, or empty when all dependencies are usable.
func firstFailedDependency(p *manifest.PhaseDefinition, selected map[string]bool, byID map[string]*PhaseOutcome) string {
	for _, dep := range p.DependsOn {
		if !selected[dep] {
			continue
		}
		if o, ok := byID[dep]; ok && (o.Status == PhaseFailed || o.Status == PhaseSkipped) {
			return dep
		}
	}
	return ""
}

func skippedOutcome(id, reason string) PhaseOutcome {
	return PhaseOutcome{
		PhaseID: id,
		Status:  PhaseSkipped,
		Notes:   []string{reason},
	}
}

func dependencyFailedOutcome(id, dep string) PhaseOutcome {
	return PhaseOutcome{
		PhaseID: id,
		Status:  PhaseSkipped,
		Err: NewPermanentError(
			fmt.Sprintf("dependency %s did not succeed", dep), nil,
		).WithPhase(id).WithCode(ErrCodeDependencyFailed),
	}
}

// firstUnmetDependency returns an out-of-selection dependency whose
// required outputs are absent, or empty when every such dependency is
// satisfied. Selection excludes a dependency only with a warning; this
// is where an actually-missing one becomes a failure.
func (e *Executor) firstUnmetDependency(ctx context.Context, m *manifest.Manifest, p *manifest.PhaseDefinition, selected map[string]bool) string {
	for _, dep := range p.DependsOn {
		if selected[dep] {
			continue
		}
		d, ok := m.Phase(dep)
		if !ok {
			continue
		}
		if e.dependencySatisfied(ctx, m, d) {
			continue
		}
		return dep
	}
	return ""
}

// dependencySatisfied reports whether a dependency's work product is
// already in place: all of its produces hints exist, or a prior
// execution is recorded for it.
func (e *Executor) dependencySatisfied(ctx context.Context, m *manifest.Manifest, d *manifest.PhaseDefinition) bool {
	if len(d.Produces) > 0 {
		present := true
		for _, rel := range d.Produces {
			if _, err := os.Stat(filepath.Join(e.cfg.WorkspaceRoot, filepath.FromSlash(rel))); err != nil {
				present = false
				break
			}
		}
		if present {
			return true
		}
	}
	if e.store != nil {
		if state, err := e.store.GetPhaseState(ctx, m.Series, m.Version.String(), d.ID); err == nil && state != nil {
			return true
		}
	}
	// With no produces hints and no state store there is nothing to
	// check against.
	return len(d.Produces) == 0 && e.store == nil
}

func dependencyUnmetOutcome(id, dep string) PhaseOutcome {
	return PhaseOutcome{
		PhaseID: id,
		Status:  PhaseFailed,
		Err: NewPermanentError(
			fmt.Sprintf("dependency %s is not satisfied: required output absent", dep), nil,
		).WithPhase(id).WithCode(ErrCodeDependencyFailed),
	}
}
