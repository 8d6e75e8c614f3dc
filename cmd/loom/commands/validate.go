package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/pkg/engine"
	"github.com/loomworks/loom/pkg/manifest"
)

func newValidateCommand() *cobra.Command {
	var (
		version string
		file    string
	)

	cmd := &cobra.Command{
		Use:   "validate [series]",
		Short: "Validate a manifest",
		Long: `Validate a manifest without executing anything.

This command checks:
  - Schema conformance of the manifest and its phases
  - Dependency references and cycle freedom
  - Produces-path collisions between unordered phases
  - Policy compliance (OPA/rego)`,
		Example: `  # Validate the latest published version
  loom validate api

  # Validate a pinned version
  loom validate api --version 1.2.0

  # Validate an edited working copy
  loom validate --file manifest.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" && len(args) == 0 {
				return fmt.Errorf("a series name or --file is required")
			}

			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			var m *manifest.Manifest
			if file != "" {
				m, err = manifest.LoadFile(file)
			} else {
				if version == "" {
					latest, lerr := rt.loader.LatestVersion(args[0])
					if lerr != nil {
						return lerr
					}
					version = latest.String()
				}
				m, err = rt.loader.Load(args[0], version)
			}
			if err != nil {
				return engine.NewPermanentError("manifest load failed", err).WithCode(engine.ErrCodeValidation)
			}

			if err := manifest.Validate(m); err != nil {
				return engine.NewPermanentError("manifest validation failed", err).WithCode(engine.ErrCodeValidation)
			}

			result, err := rt.policies.EvaluateManifest(cmd.Context(), m)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(map[string]interface{}{
					"series":     m.Series,
					"version":    m.Version,
					"phases":     len(m.Phases),
					"allowed":    result.Allowed,
					"violations": result.Violations,
					"warnings":   result.Warnings,
				})
			}

			fmt.Printf("Manifest %s/%s: %d phases, valid\n", m.Series, m.Version, len(m.Phases))
			for _, v := range result.Violations {
				fmt.Printf("  %-7s %s: %s\n", v.Severity, v.Policy, v.Message)
			}
			for _, w := range result.Warnings {
				fmt.Printf("  warning %s\n", w)
			}

			if !result.Allowed {
				return engine.NewPermanentError(
					fmt.Sprintf("manifest denied by policy (%d violations)", len(result.Violations)), nil,
				).WithCode(engine.ErrCodePolicyDenied)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "manifest version (default: latest)")
	cmd.Flags().StringVar(&file, "file", "", "validate a standalone manifest file")

	return cmd
}
