package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/cibox/internal/artifact"
	"github.com/felixgeelhaar/cibox/internal/errors"
	"github.com/felixgeelhaar/cibox/internal/events"
	"github.com/felixgeelhaar/cibox/internal/metrics"
	"github.com/felixgeelhaar/cibox/internal/orchestrator"
	"github.com/felixgeelhaar/cibox/internal/pipeline"
	"github.com/felixgeelhaar/cibox/internal/report"
	"github.com/felixgeelhaar/cibox/internal/telemetry"
	"github.com/felixgeelhaar/cibox/internal/version"
)

// DefaultPipeline is the pipeline file used when none is given.
const DefaultPipeline = "pipeline.yaml"

// exportTimeout bounds artifact export after the run finished.
const exportTimeout = 5 * time.Minute

var runCmd = &cobra.Command{
	Use:   "run [pipeline.yaml]",
	Short: "Run a pipeline",
	Long: `Run every job of a pipeline in its container image and print a report.

Jobs start as soon as all their dependencies are finished. A failed job skips
its dependents unless it is marked continue-on-error. The run fails when a job
is skipped or a job's outcome contradicts its expectation.

Examples:
  # Run pipeline.yaml in the current directory
  cibox run

  # Show the execution plan without running anything
  cibox run ci/pipeline.yaml --dry-run

  # Save the report and export artifacts
  cibox run --report report.json --export ./artifacts
`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().Bool("dry-run", false, "print the execution plan without running jobs")
	runCmd.Flags().String("report", "", "write the report to this file (.json, .yaml)")
	runCmd.Flags().String("export", "", "export artifacts to this directory")
	runCmd.Flags().String("metrics-file", "", "write Prometheus metrics in textfile format")
	runCmd.Flags().String("events", "", "append job events as JSON lines to this file")
	runCmd.Flags().Int("parallelism", 0, "maximum concurrently running jobs (default from config)")
	runCmd.Flags().String("run-id", "", "run identifier (default random)")
	runCmd.Flags().String("group-by", "group", "comparison key: group, job")
	runCmd.Flags().Bool("no-progress", false, "disable the progress bar")

	rootCmd.AddCommand(runCmd)
}

func pipelinePath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return DefaultPipeline
}

func groupKey(name string) (report.KeyFunc, error) {
	switch name {
	case "group", "":
		return report.ByGroup, nil
	case "job":
		return report.ByJobID, nil
	default:
		return nil, errors.Newf(errors.ErrCodeConfigRunnerSettings, "unknown --group-by %q", name).
			WithSuggestion("Use --group-by group or --group-by job")
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cctx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	cfg := cctx.Config
	flags := cmd.Flags()

	g, err := pipeline.LoadGraph(pipelinePath(args))
	if err != nil {
		return err
	}

	if dry, _ := flags.GetBool("dry-run"); dry {
		return printPlan(cmd.OutOrStdout(), g)
	}

	key, err := groupKey(flagString(cmd, "group-by"))
	if err != nil {
		return err
	}
	if p, _ := flags.GetInt("parallelism"); p > 0 {
		cfg.Run.Parallelism = p
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg.Telemetry.ServiceVersion = version.GetInfo().Short()
	shutdown, err := telemetry.InitProvider(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			cctx.Logger.WithError(err).Warn("failed to flush traces")
		}
	}()

	runID := flagString(cmd, "run-id")
	if runID == "" {
		runID = uuid.NewString()
	}

	registry, m := metrics.NewRegistry()
	resolver := newResolver(cfg, cctx.Logger, m)
	runner := newRunner(cfg, cctx.Logger)
	if err := runner.Available(ctx); err != nil {
		return err
	}

	orch := &orchestrator.Orchestrator{
		Resolver:    resolver,
		Runner:      runner,
		Store:       artifact.NewMemoryStore(),
		Workspace:   cfg.Run.Workspace,
		Parallelism: cfg.Run.Parallelism,
		Policy:      &cfg.Policy,
		Logger:      cctx.Logger,
		Metrics:     m,
		GroupKey:    key,
		AuditDir:    cfg.Run.AuditDir,
		RunID:       runID,
	}

	var observers multiObserver
	if showProgress(cmd, cctx) {
		observers = append(observers, newProgressObserver(len(g.Jobs), cmd.ErrOrStderr()))
	}
	if path := flagString(cmd, "events"); path != "" {
		rec, err := events.Create(path, runID)
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				cctx.Logger.WithError(err).Warn("failed to write event log")
			}
		}()
		observers = append(observers, rec)
	}
	if len(observers) > 0 {
		orch.Observer = observers
	}

	rep, runErr := orch.Run(ctx, g)
	if rep == nil {
		return runErr
	}

	if err := resolver.Wait(); err != nil {
		cctx.Logger.WithError(err).Warn("image push failed")
	}
	if err := resolver.Cache().Save(); err != nil {
		cctx.Logger.WithError(err).Warn("failed to save image cache manifest")
	}

	if runErr == nil {
		if err := exportArtifacts(cctx, rep.RunID, orch.Store, flagString(cmd, "export")); err != nil {
			return err
		}
	}
	if path := flagString(cmd, "report"); path != "" {
		if err := report.Save(rep, path); err != nil {
			return err
		}
	}
	if path := flagString(cmd, "metrics-file"); path != "" {
		if err := metrics.WriteTextfile(path, registry); err != nil {
			cctx.Logger.WithError(err).Warn("failed to write metrics textfile")
		}
	}

	formatter, err := report.NewFormatter(cctx.Format, &report.FormatterOptions{
		Writer:  cmd.OutOrStdout(),
		NoColor: cctx.NoColor,
		Verbose: cctx.Verbose,
	})
	if err != nil {
		return err
	}
	if err := formatter.Format(rep); err != nil {
		return err
	}

	if runErr != nil {
		return runErr
	}
	if rep.Status != report.StatusSuccess {
		return fmt.Errorf("run %s finished with status %s", rep.RunID, rep.Status)
	}
	return nil
}

func exportArtifacts(cctx *CommandContext, runID string, store artifact.Store, dir string) error {
	exporters, err := newExporters(cctx.Config, dir)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
	defer cancel()

	for _, e := range exporters {
		n, err := e.Export(ctx, runID, store)
		if err != nil {
			return err
		}
		cctx.Logger.Info("exported artifacts", "count", n, "exporter", fmt.Sprintf("%T", e))
	}
	return nil
}

func showProgress(cmd *cobra.Command, cctx *CommandContext) bool {
	if off, _ := cmd.Flags().GetBool("no-progress"); off {
		return false
	}
	_, ci := os.LookupEnv("CI")
	return !ci && cctx.Format == "text"
}

func flagString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}
