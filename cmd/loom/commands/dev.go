package commands

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/loomworks/loom/pkg/manifest"
)

func newDevCommand() *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Watch the series root and revalidate on change",
		Long: `Watch the series root for manifest edits and revalidate the
affected series on every change.

Useful while authoring a new manifest version: keep this running in a
terminal and see validation and policy results as you edit.`,
		Example: `  # Watch with the default debounce
  loom dev

  # Calmer output on busy editors
  loom dev --debounce 2s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer watcher.Close()

			root := rt.loader.Root()
			if err := watchTree(watcher, root); err != nil {
				return err
			}
			fmt.Printf("Watching %s (Ctrl+C to stop)\n", root)

			var (
				timer   *time.Timer
				pending = map[string]bool{}
				fire    = make(chan struct{}, 1)
			)

			for {
				select {
				case <-cmd.Context().Done():
					return nil

				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if event.Op&fsnotify.Create != 0 {
						// New version directories need watching too.
						_ = watchTree(watcher, event.Name)
					}
					if series := seriesOf(root, event.Name); series != "" {
						pending[series] = true
					}
					if timer == nil {
						timer = time.AfterFunc(debounce, func() { fire <- struct{}{} })
					} else {
						timer.Reset(debounce)
					}

				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					rt.logger.WithError(err).Warn("Watcher error")

				case <-fire:
					timer = nil
					for series := range pending {
						revalidate(cmd, rt, series)
					}
					pending = map[string]bool{}
				}
			}
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "delay before revalidating after a change")
	return cmd
}

// watchTree adds a directory and all its subdirectories to the watcher.
func watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		return watcher.Add(path)
	})
}

// seriesOf maps a changed path back to its series directory name.
func seriesOf(root, changed string) string {
	rel, err := filepath.Rel(root, changed)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) == 0 || parts[0] == "." {
		return ""
	}
	return parts[0]
}

func revalidate(cmd *cobra.Command, rt *runtime, series string) {
	latest, err := rt.loader.LatestVersion(series)
	if err != nil {
		fmt.Printf("%s: %v\n", series, err)
		return
	}
	m, err := rt.loader.Load(series, latest.String())
	if err != nil {
		fmt.Printf("%s/%s: %v\n", series, latest, err)
		return
	}
	if err := manifest.Validate(m); err != nil {
		fmt.Printf("%s/%s: invalid: %v\n", series, latest, err)
		return
	}

	result, err := rt.policies.EvaluateManifest(cmd.Context(), m)
	if err != nil {
		fmt.Printf("%s/%s: policy evaluation failed: %v\n", series, latest, err)
		return
	}
	if len(result.Violations) == 0 {
		fmt.Printf("%s/%s: ok (%d phases)\n", series, latest, len(m.Phases))
		return
	}
	fmt.Printf("%s/%s: %d policy violations\n", series, latest, len(result.Violations))
	for _, v := range result.Violations {
		fmt.Printf("  %-7s %s: %s\n", v.Severity, v.Policy, v.Message)
	}
}
