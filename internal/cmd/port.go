package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/sidecar/internal/exitcode"
	"github.com/steveyegge/sidecar/internal/port"
)

var portCmd = &cobra.Command{
	Use:     "port",
	GroupID: GroupParts,
	Short:   "Allocate and print a free loopback port",
	Long: `Allocate a loopback port the same way "sidecar run" does and print it.

The port is verified bindable on 127.0.0.1 and released before printing, so
another process may take it before you use it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := port.Allocate()
		if err != nil {
			return exitcode.Wrap(exitcode.ErrPortUnavailable, "allocating port", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), p)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portCmd)
}
