package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/conneroisu/siteroll/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Build, then rebuild whenever pages or watched scripts change",
	Long: `Build the site once, then watch the site input directory and every
watch.include pattern of the configured bundles, rebuilding on change.

Examples:
  siteroll watch                  # Watch with .siteroll.yml
  siteroll watch --verbose        # Print every changed file`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	addSiteFlags(watchCmd.Flags())
	watchCmd.Flags().BoolP("verbose", "v", false, "print changed files")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	verbose, _ := cmd.Flags().GetBool("verbose")
	out := cmd.OutOrStdout()

	p, err := loadProject(cmd)
	if err != nil {
		return err
	}

	// The first build resolves bundle configs, which registers their
	// watch targets with the engine.
	if result, err := p.build(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Build failed: %v\n", err)
	} else {
		printResult(out, p, result)
	}

	fw, err := newProjectWatcher(p)
	if err != nil {
		return err
	}
	defer fw.Stop()

	var mu sync.Mutex
	fw.AddHandler(func(ctx context.Context, events []watcher.ChangeEvent) error {
		mu.Lock()
		defer mu.Unlock()

		if verbose {
			for _, event := range events {
				fmt.Fprintf(out, "  %s: %s\n", event.Type, event.Path)
			}
		} else {
			fmt.Fprintf(out, "%d file(s) changed\n", len(events))
		}

		result, err := p.build(ctx)
		if err != nil {
			return err
		}
		printResult(out, p, result)
		return nil
	})

	if err := fw.Start(ctx); err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}

	fmt.Fprintln(out, "Watching for changes... (Press Ctrl+C to stop)")
	<-ctx.Done()
	fmt.Fprintln(out, "Stopping file watcher...")
	return nil
}

// newProjectWatcher watches the site input and every bundle watch target,
// ignoring the site output.
func newProjectWatcher(p *project) (*watcher.FileWatcher, error) {
	fw, err := watcher.NewFileWatcher(p.root, p.cfg.Watch.Debounce, p.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	input := p.engine.InputDir()
	targets := p.engine.WatchTargets()

	if err := fw.AddRecursive(input); err != nil {
		fw.Stop()
		return nil, fmt.Errorf("failed to watch %s: %w", input, err)
	}
	for _, pattern := range targets {
		if err := fw.AddPattern(pattern); err != nil {
			p.logger.Warn(context.Background(), err, "cannot watch pattern", "pattern", pattern)
		}
	}

	fw.AddFilter(watcher.ExcludeDirFilter(filepath.Clean(p.engine.OutputDir())))
	fw.AddFilter(watcher.NoGitFilter)
	fw.AddFilter(watcher.NoEditorTempFilter)
	fw.AddFilter(watcher.AnyFilter(
		watcher.UnderDirFilter(input),
		watcher.PatternFilter(p.root, targets...),
	))

	return fw, nil
}
