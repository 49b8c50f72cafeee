package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/cibox/internal/exec"
)

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Remove containers left behind by interrupted runs",
	Long: `Remove containers labelled as managed by cibox. By default only stopped
containers are removed; --all also removes running ones, which interrupts any
run in progress on this host.`,
	RunE: runReap,
}

func init() {
	reapCmd.Flags().String("run", "", "only reap containers of this run")
	reapCmd.Flags().Bool("all", false, "also remove running containers")
	rootCmd.AddCommand(reapCmd)
}

func runReap(cmd *cobra.Command, args []string) error {
	cctx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	all, _ := cmd.Flags().GetBool("all")

	runner := newRunner(cctx.Config, cctx.Logger)
	n, err := runner.Reap(cmd.Context(), exec.ReapOptions{RunID: flagString(cmd, "run"), All: all})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d containers\n", n)
	return nil
}
