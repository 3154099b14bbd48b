package cmd

import (
	"github.com/spf13/cobra"

	"github.com/steveyegge/sidecar/internal/proc"
	"github.com/steveyegge/sidecar/internal/reaper"
	"github.com/steveyegge/sidecar/internal/ui"
)

var reapCmd = &cobra.Command{
	Use:     "reap",
	GroupID: GroupParts,
	Short:   "Kill stale worker instances left by a previous run",
	Long: `Find processes whose command line matches the reaper pattern, ask them
to exit, and force-kill any that are still alive after the grace period.
The supervisor's own process is never matched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		r := reaper.New(proc.New(), cfg.Reaper.Pattern,
			reaper.WithGrace(cfg.Reaper.Grace.Duration),
			reaper.WithLogger(logger.Named("reaper")))

		n := r.Cleanup(cmd.Context())
		p := ui.NewPrinter(cmd.OutOrStdout())
		if n == 0 {
			p.Line(ui.Pass, "no stale %s processes", r.Pattern())
			return nil
		}
		p.Line(ui.Warn, "cleaned up %d stale %s process(es)", n, r.Pattern())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reapCmd)
}
