package supervisor

import (
	"go.uber.org/zap"

	"github.com/steveyegge/sidecar/internal/config"
	"github.com/steveyegge/sidecar/internal/health"
	"github.com/steveyegge/sidecar/internal/proc"
	"github.com/steveyegge/sidecar/internal/reaper"
	"github.com/steveyegge/sidecar/internal/stage"
)

// OptionsFromConfig builds Options from a loaded config. A missing default
// executable is not an error here; Launch reports it only if staging does
// not supply one either.
func OptionsFromConfig(cfg *config.Config, log *zap.Logger) (Options, error) {
	if log == nil {
		log = zap.NewNop()
	}
	resourceDir, err := cfg.ResolveResourceDir()
	if err != nil {
		return Options{}, err
	}

	cacheDir := cfg.Stage.CacheDir
	if cacheDir == "" {
		if cacheDir, err = stage.DefaultCacheDir(); err != nil {
			return Options{}, err
		}
	}
	stager := stage.New(resourceDir, cacheDir, log.Named("stage"))
	stager.Mode = cfg.Stage.Fingerprint
	stager.SupportDir = cfg.Stage.SupportDir

	exe, err := DefaultExecutable(resourceDir, cfg.Worker.Name, cfg.Worker.Executable)
	if err != nil {
		log.Debug("no default worker executable", zap.Error(err))
		exe = ""
	}

	in := proc.New()
	checker := health.NewChecker(log.Named("health"))
	checker.Path = cfg.Health.Path
	checker.Client.Timeout = cfg.Health.Timeout.Duration

	return Options{
		Name:         cfg.Worker.Name,
		Executable:   exe,
		Stager:       stager,
		SolutionsDir: config.ResolvePath(resourceDir, cfg.Worker.SolutionsDir),
		FrontendDir:  config.ResolvePath(resourceDir, cfg.Worker.FrontendDir),
		Args:         cfg.Worker.Args,
		Env:          cfg.Worker.Env,
		Inspector:    in,
		Reaper: reaper.New(in, cfg.Reaper.Pattern,
			reaper.WithGrace(cfg.Reaper.Grace.Duration),
			reaper.WithLogger(log.Named("reaper"))),
		Checker: checker,
		HealthBudget: health.Budget{
			Interval: cfg.Health.Interval.Duration,
			Attempts: cfg.Health.Attempts,
		},
		GracefulTimeout: cfg.Shutdown.GracefulTimeout.Duration,
		PollInterval:    cfg.Shutdown.PollInterval.Duration,
		ForceTimeout:    cfg.Shutdown.ForceTimeout.Duration,
		SweepPattern:    cfg.Reaper.Pattern,
		Logger:          log,
	}, nil
}
