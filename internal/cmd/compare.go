package cmd

import (
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/cibox/internal/report"
)

var compareCmd = &cobra.Command{
	Use:   "compare <report> <report>...",
	Short: "Compare saved run reports",
	Long: `Compare the jobs of saved run reports, typically the same pipeline run
on differently provisioned hosts. Jobs with the same ID are grouped across
runs and diffed by outcome, exit code, stdout and artifact digests.

Examples:
  cibox compare runner-a.json runner-b.json
  cibox compare --group-by group --format json a.yaml b.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCompare,
}

func init() {
	compareCmd.Flags().String("group-by", "job", "comparison key: job, group")
	compareCmd.Flags().String("output", "", "also save the comparison report to this file")
	rootCmd.AddCommand(compareCmd)
}

func runCompare(cmd *cobra.Command, args []string) error {
	cctx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	key, err := groupKey(flagString(cmd, "group-by"))
	if err != nil {
		return err
	}

	rep, err := compareReports(args, key)
	if err != nil {
		return err
	}
	if path := flagString(cmd, "output"); path != "" {
		if err := report.Save(rep, path); err != nil {
			return err
		}
	}

	formatter, err := report.NewFormatter(cctx.Format, &report.FormatterOptions{
		Writer:  cmd.OutOrStdout(),
		NoColor: cctx.NoColor,
		Verbose: true,
	})
	if err != nil {
		return err
	}
	return formatter.Format(rep)
}

// compareReports loads the reports at paths and compares their jobs as one
// result set.
func compareReports(paths []string, key report.KeyFunc) (*report.RunReport, error) {
	reports := make([]*report.RunReport, 0, len(paths))
	for _, p := range paths {
		rep, err := report.Load(p)
		if err != nil {
			return nil, err
		}
		reports = append(reports, rep)
	}

	cmp := report.Compare(report.Merge(reports...), key)
	if len(reports) == 1 {
		cmp.RunID = reports[0].RunID
		cmp.Pipeline = reports[0].Pipeline
	} else {
		cmp.RunID = "comparison"
	}
	return cmp, nil
}
