package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/cibox/internal/report"
	"github.com/felixgeelhaar/cibox/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print version information including version number, git commit,
build date, Go version, and platform.`,
	RunE: runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	info := version.GetInfo()
	format, _ := cmd.Flags().GetString("format")
	verbose, _ := cmd.Flags().GetBool("verbose")

	switch {
	case format == "json" || format == "yaml":
		formatter, err := report.NewFormatter(format, &report.FormatterOptions{Writer: cmd.OutOrStdout()})
		if err != nil {
			return err
		}
		return formatter.Format(info)
	case verbose:
		fmt.Fprintln(cmd.OutOrStdout(), info.String())
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "cibox %s\n", info.Short())
	}
	return nil
}
