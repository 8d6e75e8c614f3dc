package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "loom",
		Short: "Loom - Versioned Instruction Series Engine",
		Long: `Loom runs versioned series of generation and verification phases
against a workspace, dispatching instructions to AI agent backends.

Features:
  - Versioned phase manifests with dependency ordering
  - Provenance headers on every generated artifact
  - Archive-before-overwrite, nothing is ever destroyed
  - Re-entrant execution: satisfied phases are skipped
  - Manifest evolution with semantic version bumps
  - Workspace migration between manifest versions
  - Policy enforcement via OPA/rego`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newExecuteCommand())
	rootCmd.AddCommand(newMergeCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newSeriesCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newArchiveCommand())
	rootCmd.AddCommand(newDevCommand())

	return rootCmd
}
