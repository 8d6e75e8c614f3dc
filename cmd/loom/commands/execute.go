package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/pkg/engine"
	"github.com/loomworks/loom/pkg/execlog"
	"github.com/loomworks/loom/pkg/manifest"
	"github.com/loomworks/loom/pkg/stores"
)

func newExecuteCommand() *cobra.Command {
	var (
		version         string
		phase           string
		fromPhase       string
		toPhase         string
		only            []string
		skip            []string
		inputPairs      []string
		dryRun          bool
		parallel        int
		continueOnError bool
	)

	cmd := &cobra.Command{
		Use:   "execute <series>",
		Short: "Execute the phases of a series",
		Long: `Execute the phases of a series against the workspace.

This command:
  - Loads the manifest (latest version unless --version is given)
  - Selects phases via --phase, --from/--to, --only, and --skip
  - Resolves inputs from flags, the cache, defaults, and prompts
  - Skips phases whose fingerprints and artifacts are already satisfied
  - Archives existing artifacts before overwriting them
  - Stamps provenance headers on everything it writes
  - Runs the build validation command when artifacts changed`,
		Example: `  # Execute every phase of the latest version
  loom execute api

  # Execute one phase of a pinned version
  loom execute api --version 1.2.0 --phase models

  # Execute a range with an input override
  loom execute api --from models --to handlers --input package=user

  # Plan only
  loom execute api --dry-run`,
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

			if cmd.Flags().Changed("parallel") {
				rt.cfg.Run.Parallel = parallel
			}
			if cmd.Flags().Changed("continue-on-error") {
				rt.cfg.Run.ContinueOnError = continueOnError
			}

			record, runErr := rt.executor.Execute(cmd.Context(), engine.RunOptions{
				Series:  args[0],
				Version: version,
				Selection: manifest.Selection{
					Phase: phase,
					From:  fromPhase,
					To:    toPhase,
					Only:  only,
					Skip:  skip,
				},
				Inputs: inputs,
				DryRun: dryRun,
			})

			if record != nil && !dryRun {
				indexRun(cmd, rt, record, runErr)
			}
			if record != nil {
				if err := printRecord(record); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "manifest version (default: latest)")
	cmd.Flags().StringVar(&phase, "phase", "", "execute a single phase")
	cmd.Flags().StringVar(&fromPhase, "from", "", "first phase of the range")
	cmd.Flags().StringVar(&toPhase, "to", "", "last phase of the range")
	cmd.Flags().StringSliceVar(&only, "only", nil, "restrict to these phases")
	cmd.Flags().StringSliceVar(&skip, "skip", nil, "skip these phases")
	cmd.Flags().StringArrayVarP(&inputPairs, "input", "i", nil, "input override (key=value, repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the plan without calling agents")
	cmd.Flags().IntVar(&parallel, "parallel", 1, "max concurrent independent phases")
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "keep running independent phases after a failure")

	return cmd
}

// indexRun mirrors the run record into the queryable SQLite index.
// Index failures are logged, never fatal: the YAML log is the source
// of truth.
func indexRun(cmd *cobra.Command, rt *runtime, record *execlog.Record, runErr error) {
	run := &stores.Run{
		ID:        record.ID,
		Series:    record.Series,
		Version:   record.Version,
		Command:   record.Command,
		Agent:     record.Agent,
		Status:    stores.RunStatusRunning,
		StartedAt: record.Timestamp,
	}
	if err := rt.store.CreateRun(cmd.Context(), run); err != nil {
		rt.logger.WithError(err).Warn("Failed to index run")
		return
	}

	status := stores.RunStatusCompleted
	var errMsg *string
	if runErr != nil {
		status = stores.RunStatusFailed
		msg := runErr.Error()
		errMsg = &msg
	}
	if err := rt.store.FinishRun(cmd.Context(), record.ID, status, "", errMsg); err != nil {
		rt.logger.WithError(err).Warn("Failed to finish run index entry")
	}
}

// printRecord renders a run record as a summary table or JSON.
func printRecord(record *execlog.Record) error {
	if jsonOutput {
		return printJSON(record)
	}

	fmt.Printf("Run %s (%s %s/%s)\n", record.ID, record.Command, record.Series, record.Version)
	for _, pr := range record.Phases {
		line := fmt.Sprintf("  %-10s %s", pr.Status, pr.PhaseID)
		if len(pr.Created)+len(pr.Modified) > 0 {
			line += fmt.Sprintf("  (%d created, %d modified", len(pr.Created), len(pr.Modified))
			if len(pr.Archived) > 0 {
				line += fmt.Sprintf(", %d archived", len(pr.Archived))
			}
			line += ")"
		}
		fmt.Println(line)
		if pr.Error != "" {
			fmt.Printf("             %s\n", pr.Error)
		}
	}
	if record.Build.Ran {
		result := "passed"
		if !record.Build.Passed {
			result = "failed"
		}
		fmt.Printf("  build      %s\n", result)
		for _, d := range record.Build.Diagnostics {
			fmt.Printf("             %s\n", d)
		}
	}
	for _, w := range record.Warnings {
		fmt.Printf("  warning    %s\n", w)
	}
	status := "succeeded"
	if !record.Succeeded() {
		status = "failed"
	}
	counts := record.Counts()
	fmt.Printf("  status     %s (%d success, %d satisfied, %d failed, %d skipped)\n",
		status, counts[execlog.StatusSuccess], counts[execlog.StatusSatisfied],
		counts[execlog.StatusFailed], counts[execlog.StatusSkipped])
	fmt.Printf("  duration   %s\n", record.Duration.Round(time.Millisecond))
	return nil
}
