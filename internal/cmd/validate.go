package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/cibox/internal/pipeline"
)

// watchDebounce coalesces the bursts of events editors emit on save.
const watchDebounce = 150 * time.Millisecond

var validateCmd = &cobra.Command{
	Use:   "validate [pipeline.yaml]",
	Short: "Validate a pipeline definition",
	Long: `Validate a pipeline definition against the schema and check its job graph
for duplicate IDs, unknown dependencies, unknown images and cycles.

With --watch the file is validated again every time it changes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().Bool("watch", false, "re-validate whenever the file changes")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	if _, err := NewCommandContext(cmd); err != nil {
		return err
	}
	path := pipelinePath(args)
	w := cmd.OutOrStdout()

	watch, _ := cmd.Flags().GetBool("watch")
	if !watch {
		return validatePipeline(w, path)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return watchPipeline(ctx, w, path)
}

// validatePipeline loads path and reports the outcome on w.
func validatePipeline(w io.Writer, path string) error {
	g, err := pipeline.LoadGraph(path)
	if err != nil {
		fmt.Fprintf(w, "✗ %s\n", path)
		return err
	}
	levels, err := g.Levels()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "✓ %s: pipeline %q is valid (%d jobs, %d images, %d levels)\n",
		path, g.Name, len(g.Jobs), len(g.Images), len(levels))
	return nil
}

// watchPipeline validates path once and again after every change until
// ctx is done. Validation errors are printed, not returned.
func watchPipeline(ctx context.Context, w io.Writer, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors often replace the file on save.
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	report := func() {
		if err := validatePipeline(w, path); err != nil {
			fmt.Fprintf(w, "%v\n", err)
		}
	}
	report()

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			debounce = time.After(watchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(w, "watch error: %v\n", err)
		case <-debounce:
			debounce = nil
			report()
		}
	}
}
