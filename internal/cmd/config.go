package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/sidecar/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: GroupConfig,
	Short:   "Inspect the effective configuration",
	Long: `Inspect the supervisor configuration.

Values come from built-in defaults, then the config file, then SIDECAR_*
environment variables.`,
	RunE: requireSubcommand,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as TOML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cfg.Write(cmd.OutOrStdout())
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p := configPath
		if p == "" {
			var err error
			if p, err = config.DefaultPath(); err != nil {
				return err
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), p)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}
