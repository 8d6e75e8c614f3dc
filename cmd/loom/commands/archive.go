package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/pkg/archive"
)

func newArchiveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect and restore archived artifacts",
		Long: `Inspect the archive of overwritten artifacts.

Every time the engine overwrites a workspace file the previous content
is preserved here. Nothing in the archive is ever deleted.`,
	}

	cmd.AddCommand(newArchiveListCommand())
	cmd.AddCommand(newArchiveShowCommand())
	cmd.AddCommand(newArchiveRestoreCommand())

	return cmd
}

func newArchiveListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list [path]",
		Short: "List archive entries",
		Long: `List archive entries, oldest first.

Without a path every archived artifact is listed; with one, only the
versions of that workspace path.`,
		Example: `  # Everything in the archive
  loom archive list

  # History of one file
  loom archive list src/models.go`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			var entries []archive.Entry
			if len(args) > 0 {
				entries, err = rt.archive.List(args[0])
			} else {
				entries, err = rt.archive.ListAll()
			}
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(entries)
			}

			if len(entries) == 0 {
				fmt.Println("Archive is empty")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%s  %s  (%s/%s phase %s)\n",
					e.Key(), e.OriginalPath, e.Series, e.Version, e.PhaseID)
			}
			return nil
		},
	}
}

func newArchiveShowCommand() *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "show <path>",
		Short: "Print an archived artifact",
		Example: `  # Latest archived version of a file
  loom archive show src/models.go

  # A specific version by key
  loom archive show src/models.go --at 20260830T101502.123456789Z`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			entry, err := findEntry(rt.archive, args[0], at)
			if err != nil {
				return err
			}
			content, err := rt.archive.Get(entry)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(content)
			return err
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "entry key (default: latest)")
	return cmd
}

func newArchiveRestoreCommand() *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "restore <path>",
		Short: "Restore an archived artifact into the workspace",
		Long: `Restore an archived artifact to its original workspace path.

The current workspace content, if any, is archived first, so a restore
is as reversible as everything else.`,
		Example: `  # Restore the most recent archived version
  loom archive restore src/models.go`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			entry, err := findEntry(rt.archive, args[0], at)
			if err != nil {
				return err
			}
			content, err := rt.archive.Get(entry)
			if err != nil {
				return err
			}

			target := filepath.Join(rt.cfg.WorkspaceRoot, filepath.FromSlash(args[0]))
			if current, readErr := os.ReadFile(target); readErr == nil {
				if _, err := rt.archive.Put(args[0], entry.Series, entry.Version, entry.PhaseID, current); err != nil {
					return fmt.Errorf("failed to archive current content: %w", err)
				}
			}

			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			if err := os.WriteFile(target, content, 0644); err != nil {
				return err
			}
			fmt.Printf("Restored %s from %s\n", args[0], entry.Key())
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "entry key (default: latest)")
	return cmd
}

func findEntry(store *archive.Store, path, at string) (archive.Entry, error) {
	if at == "" {
		entry, ok, err := store.Latest(path)
		if err != nil {
			return archive.Entry{}, err
		}
		if !ok {
			return archive.Entry{}, fmt.Errorf("no archive entries for %s", path)
		}
		return entry, nil
	}

	entries, err := store.List(path)
	if err != nil {
		return archive.Entry{}, err
	}
	for _, e := range entries {
		if e.Key() == at {
			return e, nil
		}
	}
	return archive.Entry{}, fmt.Errorf("no archive entry %s for %s", at, path)
}
