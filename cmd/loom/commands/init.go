package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/pkg/manifest"
)

func newInitCommand() *cobra.Command {
	var version string

	cmd := &cobra.Command{
		Use:   "init <series>",
		Short: "Scaffold a new series",
		Long: `Scaffold a new series with a starter manifest.

The starter manifest has one generation phase; edit it and the
instruction file under phases/, then publish changes with 'loom
merge'.`,
		Example: `  # Create a series at 0.1.0
  loom init api

  # Start at a different version
  loom init api --start-version 1.0.0`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := manifest.ParseVersion(version)
			if err != nil {
				return err
			}

			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if versions := rt.loader.KnownVersions(args[0]); len(versions) > 0 {
				return fmt.Errorf("series %s already exists (versions: %v)", args[0], versions)
			}

			m := &manifest.Manifest{
				Series:  args[0],
				Version: v,
				Phases: []manifest.PhaseDefinition{
					{
						ID:   "scaffold",
						Type: manifest.PhaseGeneration,
						Inputs: []manifest.InputSpec{
							{Name: "name", Type: "string", Required: true},
						},
						Produces:    []string{"README.md"},
						Instruction: "Write a short README.md introducing the {{name}} project.\n",
					},
				},
			}
			if err := rt.loader.Save(m); err != nil {
				return err
			}

			fmt.Printf("Created %s/%s under %s\n", m.Series, m.Version, rt.loader.Dir(m.Series, m.Version.String()))
			return nil
		},
	}

	cmd.Flags().StringVar(&version, "start-version", "0.1.0", "initial manifest version")
	return cmd
}
