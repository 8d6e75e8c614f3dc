package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/loomworks/loom/pkg/execlog"
	"github.com/loomworks/loom/pkg/manifest"
)

// MergeOptions parameterizes one evolution merge.
type MergeOptions struct {
	// Series names the series being evolved.
	Series string

	// Edited is the changed working copy of the manifest.
	Edited *manifest.Manifest

	// Override forces a bump kind instead of the one the diff
	// mandates. An explicit override always wins; a weaker override
	// is applied with a warning.
	Override manifest.BumpKind

	// DryRun reports what would happen without publishing.
	DryRun bool
}

// MergeResult reports what a merge did or would do.
type MergeResult struct {
	Diff       *Diff
	Bump       manifest.BumpKind
	OldVersion manifest.Version
	NewVersion manifest.Version
	Published  bool
}

// Merge evolves a series: it diffs the edited manifest against the
// latest published version, derives the version bump, archives the old
// manifest directory, and publishes the new version. Nothing is
// executed; artifacts follow on the next run.
func (e *Executor) Merge(ctx context.Context, opts MergeOptions) (*MergeResult, error) {
	if opts.Edited == nil {
		return nil, NewPermanentError("edited manifest is required", nil).WithCode(ErrCodeValidation)
	}

	if err := manifest.Validate(opts.Edited); err != nil {
		return nil, NewPermanentError("edited manifest is invalid", err).WithCode(ErrCodeValidation)
	}

	policyWarnings, err := e.gateManifest(ctx, opts.Edited)
	if err != nil {
		return nil, err
	}

	current, err := e.loadManifest(opts.Series, "")
	if err != nil {
		return nil, err
	}
	if opts.Edited.Series != "" && opts.Edited.Series != current.Series {
		return nil, NewPermanentError(
			fmt.Sprintf("edited manifest is for series %s, not %s", opts.Edited.Series, current.Series), nil,
		).WithCode(ErrCodeValidation)
	}

	diff := DiffManifests(current, opts.Edited)
	result := &MergeResult{
		Diff:       diff,
		OldVersion: current.Version,
	}

	if diff.IsEmpty() {
		result.NewVersion = current.Version
		return result, nil
	}

	logger := e.logger.WithSeries(current.Series, current.Version.String())

	bump := diff.BumpKind()
	var overrideWarning string
	if opts.Override != "" && opts.Override != bump {
		if bumpRank(opts.Override) < bumpRank(bump) {
			overrideWarning = fmt.Sprintf("override %s is weaker than the %s bump the diff suggests", opts.Override, bump)
			logger.Warn(overrideWarning)
		}
		bump = opts.Override
	}
	result.Bump = bump
	result.NewVersion = current.Version.Bump(bump)

	logger.Infof("Merge: %d added, %d removed, %d modified, %d unchanged -> %s",
		len(diff.Added), len(diff.Removed), len(diff.Modified), len(diff.Unchanged), result.NewVersion)

	for _, removed := range diff.Removed {
		logger.Warnf("Phase %s removed; its artifacts remain in the workspace", removed)
	}

	if opts.DryRun {
		return result, nil
	}

	// The old version directory is preserved in the archive before the
	// new version is published alongside it.
	oldDir := e.loader.Dir(current.Series, current.Version.String())
	prefix := fmt.Sprintf("manifests/%s/%s", current.Series, current.Version)
	if err := e.archive.PutTree(prefix, oldDir); err != nil {
		return nil, NewPermanentError("failed to archive old manifest", err).WithCode(ErrCodeArchiveFailed)
	}

	published := *opts.Edited
	published.Series = current.Series
	published.Version = result.NewVersion
	if err := e.loader.Save(&published); err != nil {
		return nil, NewPermanentError("failed to publish new version", err)
	}
	result.Published = true

	record := execlog.NewRecord(current.Series, result.NewVersion.String(), "merge", "")
	record.Warnings = policyWarnings
	if overrideWarning != "" {
		record.Warnings = append(record.Warnings, overrideWarning)
	}
	for _, removed := range diff.Removed {
		record.Warnings = append(record.Warnings,
			fmt.Sprintf("phase %s removed; its artifacts remain in the workspace", removed))
	}
	record.Duration = time.Since(record.Timestamp)
	for _, id := range diff.Added {
		record.Phases = append(record.Phases, execlog.PhaseRecord{PhaseID: id, Status: execlog.StatusSuccess, Notes: []string{"added"}})
	}
	for _, id := range diff.Modified {
		record.Phases = append(record.Phases, execlog.PhaseRecord{PhaseID: id, Status: execlog.StatusSuccess, Notes: []string{"modified"}})
	}
	for _, id := range diff.Removed {
		record.Phases = append(record.Phases, execlog.PhaseRecord{PhaseID: id, Status: execlog.StatusSuccess, Notes: []string{"removed"}})
	}
	if _, err := e.log.Append(record); err != nil {
		logger.WithError(err).Error("Failed to append merge record")
	}

	return result, nil
}

// bumpRank orders bump kinds by strength.
func bumpRank(k manifest.BumpKind) int {
	switch k {
	case manifest.BumpMajor:
		return 3
	case manifest.BumpMinor:
		return 2
	default:
		return 1
	}
}
