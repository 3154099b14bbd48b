package cmd

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version information, set at build time with -ldflags "-X".
var (
	Version = "0.1.0-dev"
	Build   = ""
	Commit  = ""
)

var versionCmd = &cobra.Command{
	Use:     "version",
	GroupID: GroupConfig,
	Short:   "Print version information",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), versionString())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func versionString() string {
	s := "sidecar " + Version
	if c := resolveCommit(); c != "" {
		s += " (" + c + ")"
	}
	if Build != "" {
		s += " built " + Build
	}
	return fmt.Sprintf("%s %s/%s", s, runtime.GOOS, runtime.GOARCH)
}

// resolveCommit prefers the ldflags value, then the VCS stamp from the build.
func resolveCommit() string {
	c := Commit
	if c == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					c = s.Value
					break
				}
			}
		}
	}
	if len(c) > 12 {
		c = c[:12]
	}
	return c
}
