package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSeriesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "series",
		Short: "Inspect published series",
	}

	cmd.AddCommand(newSeriesListCommand())
	cmd.AddCommand(newSeriesShowCommand())

	return cmd
}

func newSeriesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List published series and their versions",
		Example: `  # All series under the series root
  loom series list`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			series := rt.loader.KnownSeries()
			if jsonOutput {
				out := make(map[string][]string, len(series))
				for _, s := range series {
					out[s] = rt.loader.KnownVersions(s)
				}
				return printJSON(out)
			}

			if len(series) == 0 {
				fmt.Println("No series published")
				return nil
			}
			for _, s := range series {
				versions := rt.loader.KnownVersions(s)
				fmt.Printf("%-20s %s\n", s, strings.Join(versions, ", "))
			}
			return nil
		},
	}
}

func newSeriesShowCommand() *cobra.Command {
	var version string

	cmd := &cobra.Command{
		Use:   "show <series>",
		Short: "Show the phases of a series version",
		Example: `  # Phases of the latest version
  loom series show api

  # Phases of a pinned version
  loom series show api --version 1.2.0`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if version == "" {
				latest, err := rt.loader.LatestVersion(args[0])
				if err != nil {
					return err
				}
				version = latest.String()
			}
			m, err := rt.loader.Load(args[0], version)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(m)
			}

			fmt.Printf("%s/%s: %d phases\n", m.Series, m.Version, len(m.Phases))
			for _, p := range m.Phases {
				line := fmt.Sprintf("  %-12s %s", p.Type, p.ID)
				if len(p.DependsOn) > 0 {
					line += fmt.Sprintf("  (after %s)", strings.Join(p.DependsOn, ", "))
				}
				fmt.Println(line)
				for _, produced := range p.Produces {
					fmt.Printf("               -> %s\n", produced)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "manifest version (default: latest)")
	return cmd
}
