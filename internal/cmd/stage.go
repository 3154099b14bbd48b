package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/sidecar/internal/exitcode"
	"github.com/steveyegge/sidecar/internal/stage"
	"github.com/steveyegge/sidecar/internal/ui"
)

var stageCmd = &cobra.Command{
	Use:     "stage",
	GroupID: GroupParts,
	Short:   "Copy the packaged worker bundle into the per-user cache",
	Long: `Stage the packaged worker into the artifact cache and print its path.

The copy is skipped when the cached fingerprint matches the bundle. Exits
with a not-found code when the resource directory is not a packaged bundle.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := newStager()
		if err != nil {
			return err
		}
		res, err := s.Stage()
		if errors.Is(err, stage.ErrNotPackaged) {
			return exitcode.Wrapf(exitcode.ErrBundleNotFound, err, "no bundle in %s", s.SourceDir)
		}
		if err != nil {
			return exitcode.Wrap(exitcode.ErrStaging, "staging worker bundle", err)
		}

		p := ui.NewPrinter(cmd.OutOrStdout())
		if res.Restaged {
			p.Line(ui.Pass, "staged %s", res.Path)
		} else {
			p.Line(ui.Pass, "cache up to date: %s", res.Path)
		}
		p.Detail("fingerprint %s", res.Fingerprint)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stageCmd)
}

// newStager builds a Stager from the loaded config.
func newStager() (*stage.Stager, error) {
	resourceDir, err := cfg.ResolveResourceDir()
	if err != nil {
		return nil, exitcode.Wrap(exitcode.ErrFileNotFound, "resolving resource directory", err)
	}
	if info, err := os.Stat(resourceDir); err != nil || !info.IsDir() {
		return nil, exitcode.FileNotFound(resourceDir)
	}
	cacheDir := cfg.Stage.CacheDir
	if cacheDir == "" {
		if cacheDir, err = stage.DefaultCacheDir(); err != nil {
			return nil, exitcode.Wrap(exitcode.ErrStaging, "resolving cache directory", err)
		}
	}
	s := stage.New(resourceDir, cacheDir, logger.Named("stage"))
	s.Mode = cfg.Stage.Fingerprint
	s.SupportDir = cfg.Stage.SupportDir
	return s, nil
}
