// Package cmd provides CLI commands for the sidecar supervisor.
package cmd

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/steveyegge/sidecar/internal/config"
	"github.com/steveyegge/sidecar/internal/constants"
	"github.com/steveyegge/sidecar/internal/exitcode"
	"github.com/steveyegge/sidecar/internal/logging"
	"github.com/steveyegge/sidecar/internal/telemetry"
)

var rootCmd = &cobra.Command{
	Use:     "sidecar",
	Short:   "Sidecar process supervisor for the provisioning worker",
	Version: Version,
	Long: `sidecar runs the provisioning worker as a child process of a desktop shell.

It reaps stale instances, picks a free loopback port, stages the packaged
worker into a per-user cache, waits for the worker's health endpoint and
tears the whole process tree down exactly once on exit.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	configPath string
	logLevel   string

	// Set by setup for the running command.
	cfg       *config.Config
	logger    = zap.NewNop()
	closeLogs = func() {}
	provider  *telemetry.Provider
)

// Commands that must work without a valid config.
var configExemptCommands = map[string]bool{
	"version":    true,
	"help":       true,
	"completion": true,
}

func setup(cmd *cobra.Command, _ []string) error {
	if configExemptCommands[cmd.Name()] {
		return nil
	}

	c, err := config.Load(configPath)
	if err != nil {
		return exitcode.Wrap(exitcode.ErrUsage, "loading config", err)
	}
	if logLevel != "" {
		c.Log.Level = logLevel
		if err := c.Validate(); err != nil {
			return exitcode.Wrap(exitcode.ErrUsage, "invalid --log-level", err)
		}
	}
	cfg = c

	l, closeFn, err := logging.New(logging.Options{
		Level:  c.Log.Level,
		Format: c.Log.Format,
		File:   c.Log.File,
		Writer: cmd.ErrOrStderr(),
	})
	if err != nil {
		return exitcode.Wrap(exitcode.ErrUsage, "configuring logging", err)
	}
	logger, closeLogs = l, closeFn

	p, err := telemetry.Init(cmd.Context(), constants.AppName, Version)
	if err != nil {
		logger.Warn("telemetry disabled", zap.Error(err))
	}
	provider = p
	return nil
}

// teardown flushes whatever setup opened. Cobra skips post-run hooks when
// RunE fails, so execute calls this directly.
func teardown(ctx context.Context) {
	if err := provider.Shutdown(context.WithoutCancel(ctx)); err != nil {
		logger.Debug("telemetry shutdown", zap.Error(err))
	}
	closeLogs()
	logger, closeLogs, provider = zap.NewNop(), func() {}, nil
}

// Execute runs the root command and returns an exit code.
// The caller (main) should call os.Exit with this code.
func Execute() int {
	return execute(context.Background(), os.Args[1:])
}

func execute(ctx context.Context, args []string) int {
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	teardown(ctx)
	if err != nil {
		// Cobra has already printed the error.
		if exitcode.Is(err, exitcode.ErrUsage) && !strings.Contains(err.Error(), "--help") {
			rootCmd.PrintErrln("Run 'sidecar --help' for usage.")
		}
		return exitcode.Code(err)
	}
	return exitcode.Success
}

// Command group IDs - used by subcommands to organize help output
const (
	GroupSupervise = "supervise"
	GroupParts     = "parts"
	GroupConfig    = "config"
)

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: GroupSupervise, Title: "Supervision:"},
		&cobra.Group{ID: GroupParts, Title: "Individual Steps:"},
		&cobra.Group{ID: GroupConfig, Title: "Configuration:"},
	)

	rootCmd.SetHelpCommandGroupID(GroupConfig)
	rootCmd.SetCompletionCommandGroupID(GroupConfig)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: <user config dir>/sidecar/sidecar.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level: debug, info, warn, error")
}

// buildCommandPath walks the command hierarchy to build the full command path.
// For example: "sidecar config path".
func buildCommandPath(cmd *cobra.Command) string {
	var parts []string
	for c := cmd; c != nil; c = c.Parent() {
		parts = append([]string{c.Name()}, parts...)
	}
	return strings.Join(parts, " ")
}

// requireSubcommand returns a RunE function for parent commands that require
// a subcommand. Without this, Cobra silently shows help and exits 0 for
// unknown subcommands like "sidecar config foobar", masking errors.
func requireSubcommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return exitcode.Newf(exitcode.ErrUsage, "requires a subcommand\n\nRun '%s --help' for usage", buildCommandPath(cmd))
	}
	return exitcode.Newf(exitcode.ErrUsage, "unknown command %q for %q\n\nRun '%s --help' for available commands",
		args[0], buildCommandPath(cmd), buildCommandPath(cmd))
}
