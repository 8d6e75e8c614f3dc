package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/pkg/engine"
)

func newMigrateCommand() *cobra.Command {
	var (
		toVersion   string
		fromVersion string
		scope       string
		inputPairs  []string
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "migrate <series>",
		Short: "Migrate the workspace to a newer manifest version",
		Long: `Migrate a workspace generated under an older manifest version.

This command:
  - Detects the source version from provenance headers in the
    workspace (or --from)
  - Diffs the source against the target version
  - Re-executes added and modified phases
  - Leaves artifacts of removed phases in place as orphans, with
    warnings`,
		Example: `  # Migrate to the latest version
  loom migrate api

  # Migrate to a pinned version
  loom migrate api --to 2.0.0

  # Preview the migration plan
  loom migrate api --dry-run

  # Scan only part of the workspace
  loom migrate api --scope src/server`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := parseInputFlags(inputPairs)
			if err != nil {
				return err
			}

			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := rt.executor.Migrate(cmd.Context(), engine.MigrateOptions{
				Series:      args[0],
				ToVersion:   toVersion,
				FromVersion: fromVersion,
				Scope:       scope,
				Inputs:      inputs,
				DryRun:      dryRun,
			})
			if result != nil && result.Record != nil && !dryRun {
				indexRun(cmd, rt, result.Record, err)
			}
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(result)
			}

			if result.FromVersion == result.ToVersion {
				fmt.Printf("Workspace is already at %s/%s\n", args[0], result.ToVersion)
				return nil
			}

			verb := "Migrated"
			if dryRun {
				verb = "Would migrate"
			}
			fmt.Printf("%s %s: %s -> %s\n", verb, args[0], result.FromVersion, result.ToVersion)
			for _, id := range result.Regenerated {
				fmt.Printf("  regenerate %s\n", id)
			}
			for _, orphan := range result.Orphans {
				fmt.Printf("  orphan     %s (producing phase removed; left in place)\n", orphan)
			}
			if result.Record != nil {
				return printRecord(result.Record)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&toVersion, "to", "", "target manifest version (default: latest)")
	cmd.Flags().StringVar(&fromVersion, "from", "", "source version (default: detected from provenance headers)")
	cmd.Flags().StringVar(&scope, "scope", "", "restrict the provenance scan to this workspace directory")
	cmd.Flags().StringArrayVarP(&inputPairs, "input", "i", nil, "input override (key=value, repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the plan without executing")

	return cmd
}
