package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cibox",
	Short: "Container-scoped task runner for CI pipelines",
	Long: `cibox runs the jobs of a pipeline inside reproducible container images,
captures their outputs as artifacts and compares results across jobs that run
the same task under different images.

Images are built from a base reference plus install steps and cached by the
content hash of their definition. Jobs run in parallel wherever their
dependencies allow, each in an isolated container with bounded resources.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, which is cancelled on
// interrupt.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default .cibox/config.yaml)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: text, json")
	pf.String("format", "text", "output format: text, json, yaml")
	pf.Bool("no-color", false, "disable colored output")
	pf.BoolP("verbose", "v", false, "verbose output")
}
