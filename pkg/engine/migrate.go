package engine

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loomworks/loom/pkg/execlog"
	"github.com/loomworks/loom/pkg/manifest"
	"github.com/loomworks/loom/pkg/provenance"
)

// MigrateOptions parameterizes one workspace migration.
type MigrateOptions struct {
	// Series names the series the workspace was generated from.
	Series string

	// ToVersion is the target manifest version. Empty means latest.
	ToVersion string

	// FromVersion overrides the version detected from provenance
	// headers.
	FromVersion string

	// Scope restricts the provenance scan to one workspace-relative
	// directory. Empty means the whole workspace.
	Scope string

	// Inputs are command-line input overrides for re-generation.
	Inputs map[string]string

	// DryRun reports the migration plan without executing it.
	DryRun bool
}

// MigrateResult reports what a migration did or would do.
type MigrateResult struct {
	FromVersion manifest.Version
	ToVersion   manifest.Version
	Diff        *Diff

	// Regenerated lists the phases the migration re-ran.
	Regenerated []string

	// Orphans lists workspace files whose producing phase no longer
	// exists in the target version. They are left in place.
	Orphans []string

	// Record is the execution record of the re-generation run, nil on
	// dry runs and no-op migrations.
	Record *execlog.Record
}

// Migrate brings a workspace generated under an older manifest version
// up to a newer one. Phases the diff reports as added or modified are
// re-executed; unchanged phases are left alone; artifacts of removed
// phases are reported as orphans but never deleted.
func (e *Executor) Migrate(ctx context.Context, opts MigrateOptions) (*MigrateResult, error) {
	target, err := e.loadManifest(opts.Series, opts.ToVersion)
	if err != nil {
		return nil, err
	}

	scan, err := e.scanWorkspace(target, opts.Scope)
	if err != nil {
		return nil, err
	}

	fromVersion := opts.FromVersion
	if fromVersion == "" {
		fromVersion = scan.version
	}
	if fromVersion == "" {
		return nil, NewPermanentError(
			fmt.Sprintf("no artifacts of series %s found in workspace and no source version given", opts.Series), nil,
		).WithCode(ErrCodeUnknownVersion)
	}

	if fromVersion == target.Version.String() {
		return &MigrateResult{
			FromVersion: target.Version,
			ToVersion:   target.Version,
			Diff:        &Diff{Unchanged: target.PhaseIDs()},
		}, nil
	}

	source, err := e.loadManifest(opts.Series, fromVersion)
	if err != nil {
		return nil, err
	}

	diff := DiffManifests(source, target)
	result := &MigrateResult{
		FromVersion: source.Version,
		ToVersion:   target.Version,
		Diff:        diff,
	}

	// Artifacts whose producing phase vanished stay in the workspace;
	// the operator decides what to do with them.
	for _, removed := range diff.Removed {
		for _, orphan := range scan.byPhase[removed] {
			result.Orphans = append(result.Orphans, orphan)
		}
	}
	sort.Strings(result.Orphans)

	// Modified phases regenerate only when the scan actually mapped an
	// artifact of theirs; a modified phase with nothing in scope has
	// nothing to migrate. Added phases have no prior artifacts and
	// always run.
	regen := append([]string(nil), diff.Added...)
	for _, id := range diff.Modified {
		if len(scan.byPhase[id]) > 0 {
			regen = append(regen, id)
		}
	}
	sort.Strings(regen)
	result.Regenerated = regen

	logger := e.logger.WithSeries(opts.Series, target.Version.String())
	logger.Infof("Migrating %s -> %s: %d phases to regenerate, %d orphans",
		result.FromVersion, result.ToVersion, len(regen), len(result.Orphans))
	for _, orphan := range result.Orphans {
		logger.Warnf("Orphaned artifact %s: its producing phase no longer exists", orphan)
	}

	if len(regen) == 0 || opts.DryRun {
		return result, nil
	}

	record, err := e.Execute(ctx, RunOptions{
		Series:    opts.Series,
		Version:   target.Version.String(),
		Selection: manifest.Selection{Only: regen},
		Inputs:    opts.Inputs,
		Command:   "migrate",
	})
	result.Record = record
	if err != nil {
		return result, err
	}
	return result, nil
}

// workspaceScan is what a provenance sweep of the workspace found for
// one series.
type workspaceScan struct {
	// version is the highest manifest version stamped on any artifact.
	version string

	// byPhase maps producing phase IDs to workspace-relative paths.
	byPhase map[string][]string
}

// scanWorkspace walks the scoped part of the workspace and decodes
// provenance headers. Files without a header, files of other series,
// and loom's own state directories are ignored. Paths in the result
// stay relative to the workspace root, not the scope.
func (e *Executor) scanWorkspace(m *manifest.Manifest, scope string) (*workspaceScan, error) {
	scan := &workspaceScan{byPhase: make(map[string][]string)}

	var highest manifest.Version
	root := e.cfg.WorkspaceRoot
	start := root
	if scope != "" {
		resolved, err := e.workspacePath(scope)
		if err != nil {
			return nil, NewPermanentError("scan scope rejected", err).WithCode(ErrCodeValidation)
		}
		start = resolved
		if _, err := os.Stat(start); err != nil {
			return nil, NewPermanentError(fmt.Sprintf("scan scope %s is not readable", scope), err).WithCode(ErrCodeValidation)
		}
	}

	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != start && (name == ".git" || name == ".loom" || strings.HasPrefix(name, ".tmp-")) {
				return filepath.SkipDir
			}
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		fields, err := provenance.Decode(string(content))
		if err != nil {
			return nil
		}
		if fields.Series != m.Series {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		scan.byPhase[fields.PhaseID] = append(scan.byPhase[fields.PhaseID], filepath.ToSlash(rel))

		if v, err := manifest.ParseVersion(fields.Version); err == nil {
			if highest.IsZero() || v.Compare(highest) > 0 {
				highest = v
			}
		}
		return nil
	})
	if err != nil {
		return nil, NewPermanentError("workspace scan failed", err)
	}

	if !highest.IsZero() {
		scan.version = highest.String()
	}
	for id := range scan.byPhase {
		sort.Strings(scan.byPhase[id])
	}
	return scan, nil
}
