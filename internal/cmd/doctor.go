package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/cibox/internal/artifact"
	"github.com/felixgeelhaar/cibox/internal/config"
	"github.com/felixgeelhaar/cibox/internal/errors"
	"github.com/felixgeelhaar/cibox/internal/health"
	"github.com/felixgeelhaar/cibox/internal/report"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that this host can run pipelines",
	Long: `Check the container engine, the state directories, host resources and the
configured artifact export target. Exits non-zero when a check is unhealthy.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// doctorChecks returns the checks for cfg in display order.
func doctorChecks(cfg *config.Config) []health.Checker {
	workspace := cfg.Run.Workspace
	if workspace == "" {
		workspace = filepath.Join(os.TempDir(), "cibox")
	}
	checks := []health.Checker{
		health.NewDockerChecker(cfg.Docker.Bin),
		health.NewDirChecker("cache-dir", cfg.Cache.Dir),
		health.NewDirChecker("workspace", workspace),
		health.NewDirChecker("audit-dir", cfg.Run.AuditDir),
		&health.HostChecker{Parallelism: cfg.Run.Parallelism},
	}
	if cfg.Export.S3.Endpoint != "" {
		checks = append(checks, &health.FuncChecker{
			CheckName: "s3-export",
			OK:        fmt.Sprintf("bucket %s reachable", cfg.Export.S3.Bucket),
			Probe: func(ctx context.Context) error {
				s3, err := artifact.NewS3Exporter(cfg.Export.S3)
				if err != nil {
					return err
				}
				return s3.Ping(ctx)
			},
		})
	}
	return checks
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cctx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}

	manager := health.NewManager()
	for _, c := range doctorChecks(cctx.Config) {
		manager.AddChecker(c)
	}
	results := manager.Check(cmd.Context())
	overall := health.OverallStatus(results)

	if cctx.Format != "text" {
		formatter, err := report.NewFormatter(cctx.Format, &report.FormatterOptions{Writer: cmd.OutOrStdout()})
		if err != nil {
			return err
		}
		if err := formatter.Format(map[string]any{"status": overall, "checks": results}); err != nil {
			return err
		}
	} else {
		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"Check", "Status", "Message"})
		for _, r := range results {
			t.AppendRow(table.Row{r.Name, r.Status, r.Message})
		}
		t.Render()
		fmt.Fprintf(cmd.OutOrStdout(), "overall: %s\n", overall)
	}

	if overall == health.StatusUnhealthy {
		return errors.New(errors.ErrCodeExecDockerNotAvailable, "host is not ready to run pipelines").
			WithSuggestion("Fix the unhealthy checks listed above")
	}
	return nil
}
