package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/pkg/engine"
	"github.com/loomworks/loom/pkg/manifest"
)

func newMergeCommand() *cobra.Command {
	var (
		file   string
		bump   string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "merge <series>",
		Short: "Evolve a series from an edited manifest",
		Long: `Merge an edited manifest into a series as a new version.

This command:
  - Diffs the edited manifest against the latest published version
  - Derives the version bump: removals are major, additions minor,
    modifications patch
  - Archives the old manifest directory
  - Publishes the new version

Nothing is executed; run 'loom migrate' afterwards to bring the
workspace up to the new version.`,
		Example: `  # Merge an edited working copy
  loom merge api --file manifest.yaml

  # Force a stronger bump than the diff mandates
  loom merge api --file manifest.yaml --bump major

  # Preview the bump and diff
  loom merge api --file manifest.yaml --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var override manifest.BumpKind
			switch bump {
			case "":
			case "major", "minor", "patch":
				override = manifest.BumpKind(bump)
			default:
				return fmt.Errorf("invalid bump %q: want major, minor, or patch", bump)
			}

			edited, err := manifest.LoadFile(file)
			if err != nil {
				return engine.NewPermanentError("failed to load edited manifest", err).WithCode(engine.ErrCodeValidation)
			}

			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := rt.executor.Merge(cmd.Context(), engine.MergeOptions{
				Series:   args[0],
				Edited:   edited,
				Override: override,
				DryRun:   dryRun,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(result)
			}

			if result.Diff.IsEmpty() {
				fmt.Printf("No changes against %s/%s\n", args[0], result.OldVersion)
				return nil
			}

			verb := "Published"
			if dryRun {
				verb = "Would publish"
			}
			fmt.Printf("%s %s/%s (%s bump from %s)\n", verb, args[0], result.NewVersion, result.Bump, result.OldVersion)
			printDiff(result.Diff)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "edited manifest file")
	cmd.Flags().StringVar(&bump, "bump", "", "override the version bump (major, minor, patch)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the diff and bump without publishing")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func printDiff(d *engine.Diff) {
	for _, id := range d.Added {
		fmt.Printf("  + %s\n", id)
	}
	for _, id := range d.Removed {
		fmt.Printf("  - %s\n", id)
	}
	for _, id := range d.Modified {
		fmt.Printf("  ~ %s\n", id)
	}
	for _, id := range d.Unchanged {
		fmt.Printf("    %s\n", id)
	}
}
