package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [series]",
		Short: "Show past runs",
		Long: `Show past runs from the run index, newest first.

Without a series every run is listed. Use 'loom history show' for the
full record of one run.`,
		Example: `  # Last runs across all series
  loom history

  # Last 5 runs of one series
  loom history api --limit 5`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			series := ""
			if len(args) > 0 {
				series = args[0]
			}

			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			// SQLite treats a negative limit as unlimited.
			if limit <= 0 {
				limit = -1
			}
			runs, err := rt.store.ListRuns(cmd.Context(), series, limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(runs)
			}

			if len(runs) == 0 {
				fmt.Println("No runs recorded")
				return nil
			}
			for _, r := range runs {
				errMark := ""
				if r.Error != nil {
					errMark = "  " + *r.Error
				}
				fmt.Printf("%s  %-7s %-9s %s/%s  %s%s\n",
					r.StartedAt.Format(time.RFC3339), r.Command, r.Status,
					r.Series, r.Version, shortID(r.ID), errMark)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list (0 for all)")
	cmd.AddCommand(newHistoryShowCommand())

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run record in full",
		Example: `  # Full record by ID prefix
  loom history show 3f2a`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			record, err := rt.log.Get(args[0])
			if err != nil {
				// The YAML record may have been cleaned up; the index
				// still knows the run's outline.
				run, idxErr := rt.store.GetRun(cmd.Context(), args[0])
				if idxErr != nil {
					return err
				}
				if jsonOutput {
					return printJSON(run)
				}
				fmt.Printf("Run %s (%s %s/%s)\n", run.ID, run.Command, run.Series, run.Version)
				fmt.Printf("  status     %s\n", run.Status)
				fmt.Printf("  started    %s\n", run.StartedAt.Format(time.RFC3339))
				if run.Error != nil {
					fmt.Printf("  error      %s\n", *run.Error)
				}
				return nil
			}
			if jsonOutput {
				return printJSON(record)
			}
			return printRecord(record)
		},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
