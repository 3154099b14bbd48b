package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/steveyegge/sidecar/internal/exitcode"
	"github.com/steveyegge/sidecar/internal/health"
	"github.com/steveyegge/sidecar/internal/ui"
)

var (
	healthPort uint16
	healthWait bool
)

var healthCmd = &cobra.Command{
	Use:     "health",
	GroupID: GroupParts,
	Short:   "Probe a worker's health endpoint",
	Long: `Send one health probe to a worker on 127.0.0.1, or with --wait keep
probing with the configured interval and attempt budget.`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func init() {
	healthCmd.Flags().Uint16Var(&healthPort, "port", 0, "worker port (required)")
	healthCmd.Flags().BoolVar(&healthWait, "wait", false, "retry until healthy or the attempt budget is spent")
	_ = healthCmd.MarkFlagRequired("port")
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, _ []string) error {
	if healthPort == 0 {
		return exitcode.New(exitcode.ErrUsage, "--port must be non-zero")
	}
	c := health.NewChecker(logger.Named("health"))
	c.Path = cfg.Health.Path
	c.Client.Timeout = cfg.Health.Timeout.Duration

	var err error
	if healthWait {
		err = c.Await(cmd.Context(), healthPort, health.Budget{
			Interval: cfg.Health.Interval.Duration,
			Attempts: cfg.Health.Attempts,
		})
	} else {
		err = c.Probe(cmd.Context(), healthPort)
	}

	p := ui.NewPrinter(cmd.OutOrStdout())
	if err != nil {
		p.Line(ui.Fail, "%s", c.URL(healthPort))
		if errors.Is(err, health.ErrTimedOut) {
			return exitcode.Wrap(exitcode.ErrTimeout, "waiting for worker health", err)
		}
		return exitcode.Wrap(exitcode.ErrGeneral, "health probe failed", err)
	}
	p.Line(ui.Pass, "%s", c.URL(healthPort))
	return nil
}
