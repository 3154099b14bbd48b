// Package supervisor launches the worker process, waits for it to become
// healthy and tears it down exactly once.
//
// Control flow for Start: reap stale instances, allocate a port, reap again,
// launch, then block until the worker answers its health endpoint. Any
// number of shutdown triggers may race; the coordinator body runs once.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/sidecar/internal/constants"
	"github.com/steveyegge/sidecar/internal/health"
	"github.com/steveyegge/sidecar/internal/port"
	"github.com/steveyegge/sidecar/internal/proc"
	"github.com/steveyegge/sidecar/internal/reaper"
	"github.com/steveyegge/sidecar/internal/stage"
)

var (
	// ErrAlreadyShuttingDown is returned by Start and Launch once shutdown began.
	ErrAlreadyShuttingDown = errors.New("supervisor is shutting down")

	// ErrNoExecutable means neither staging nor the default command produced
	// something to run.
	ErrNoExecutable = errors.New("worker executable not found")

	// ErrWorkerExited is returned by AwaitHealthy when the worker dies before
	// answering its health endpoint.
	ErrWorkerExited = errors.New("worker exited before becoming healthy")
)

// Options configures a Supervisor. Zero values fall back to the defaults in
// internal/constants.
type Options struct {
	// Name labels the worker in logs.
	Name string

	// Executable is the default launch command, used when Stager is nil or
	// reports the layout is not packaged or fails.
	Executable string

	// Stager, if set, provides a cached copy of a packaged worker bundle.
	Stager *stage.Stager

	// WorkDir is the worker's working directory. Empty means the directory
	// of the resolved executable.
	WorkDir string

	// SolutionsDir and FrontendDir are passed as --solutions-dir and
	// --frontend-dir only when they exist on disk.
	SolutionsDir string
	FrontendDir  string

	// Args are appended after the generated arguments on every launch.
	Args []string

	// Env is added to the worker's inherited environment.
	Env map[string]string

	Inspector proc.Inspector
	Reaper    *reaper.Reaper

	// Allocate picks the backend port. Defaults to port.Allocate.
	Allocate func() (uint16, error)

	Checker      *health.Checker
	HealthBudget health.Budget

	GracefulTimeout time.Duration
	PollInterval    time.Duration
	ForceTimeout    time.Duration

	// SweepPattern is the kill-by-name pattern used as the last resort.
	SweepPattern string

	Logger *zap.Logger

	// OnWorkerExited is called from the exit watcher goroutine each time a
	// launched worker exits, for diagnostics.
	OnWorkerExited func(ExitStatus)
}

// Supervisor owns one worker's lifecycle.
type Supervisor struct {
	opts    Options
	state   State
	metrics *supervisorMetrics

	// launchMu serializes Launch so concurrent callers spawn at most once.
	launchMu sync.Mutex

	log  *zap.Logger
	wlog *zap.Logger
}

// New returns a Supervisor with defaults applied to opts.
func New(opts Options) *Supervisor {
	if opts.Name == "" {
		opts.Name = constants.WorkerName
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Inspector == nil {
		opts.Inspector = proc.New()
	}
	if opts.SweepPattern == "" {
		opts.SweepPattern = constants.WorkerName
	}
	if opts.Reaper == nil {
		opts.Reaper = reaper.New(opts.Inspector, opts.SweepPattern, reaper.WithLogger(opts.Logger.Named("reaper")))
	}
	if opts.Allocate == nil {
		opts.Allocate = port.Allocate
	}
	if opts.Checker == nil {
		opts.Checker = health.NewChecker(opts.Logger.Named("health"))
	}
	if opts.HealthBudget.Attempts <= 0 || opts.HealthBudget.Interval <= 0 {
		opts.HealthBudget = health.DefaultBudget()
	}
	if opts.GracefulTimeout <= 0 {
		opts.GracefulTimeout = constants.GracefulShutdownTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = constants.ShutdownPollInterval
	}
	if opts.ForceTimeout <= 0 {
		opts.ForceTimeout = constants.ForceKillTimeout
	}

	s := &Supervisor{
		opts: opts,
		log:  opts.Logger,
		wlog: opts.Logger.Named("worker"),
	}
	m, err := newSupervisorMetrics(s.state.Started)
	if err != nil {
		s.log.Warn("metrics disabled", zap.Error(err))
	}
	s.metrics = m
	return s
}

// BackendPort returns the worker's port, or 0 before one is assigned.
func (s *Supervisor) BackendPort() uint16 { return s.state.Port() }

// PID returns the recorded worker pid, or 0.
func (s *Supervisor) PID() int { return s.state.PID() }

// Started reports whether a worker is marked running.
func (s *Supervisor) Started() bool { return s.state.Started() }

// Phase returns the shutdown phase.
func (s *Supervisor) Phase() Phase { return s.state.Phase() }

// LastExit returns the most recent worker exit status.
func (s *Supervisor) LastExit() (ExitStatus, bool) { return s.state.LastExit() }

// Reap runs the stale instance reaper and records the count.
func (s *Supervisor) Reap(ctx context.Context) int {
	n := s.opts.Reaper.Cleanup(ctx)
	if n > 0 {
		s.log.Info("cleaned up stale worker instances", zap.Int("count", n))
	}
	s.metrics.recordReaped(ctx, n)
	return n
}

// Start brings the worker up and blocks until it is healthy. It is a no-op
// returning the current port when a worker is already running.
//
// Errors: port.ErrNoPort when no port can be bound, ErrNoExecutable or a
// spawn error from Launch, and health.ErrTimedOut or ErrWorkerExited from
// AwaitHealthy. After a health failure the worker has been shut down.
func (s *Supervisor) Start(ctx context.Context, extraArgs []string) (uint16, error) {
	if s.state.Phase() != PhaseIdle {
		return 0, ErrAlreadyShuttingDown
	}
	if s.state.Started() {
		return s.state.Port(), nil
	}

	// A leftover worker may still hold the port we would otherwise pick.
	s.Reap(ctx)

	p, err := s.opts.Allocate()
	if err != nil {
		return 0, err
	}
	s.state.setPort(p)
	s.log.Info("allocated backend port", zap.Uint16("port", p))

	// Catch anything that started between the first sweep and now.
	s.Reap(ctx)

	if _, err := s.Launch(ctx, p, extraArgs); err != nil {
		return p, err
	}
	if err := s.AwaitHealthy(ctx); err != nil {
		return p, err
	}
	return p, nil
}

// AwaitHealthy polls the worker's health endpoint within the configured
// budget. On timeout it shuts the worker down synchronously if one is
// recorded, so the allocated port is not leaked.
func (s *Supervisor) AwaitHealthy(ctx context.Context) error {
	checker := *s.opts.Checker
	inner := checker.OnAttempt
	checker.OnAttempt = func(attempt int, err error) {
		s.metrics.recordHealthAttempt(ctx, err == nil)
		if inner != nil {
			inner(attempt, err)
		}
	}
	checker.Precheck = func() error {
		if s.state.Started() {
			return nil
		}
		if st, ok := s.state.LastExit(); ok {
			return fmt.Errorf("%w: %s", ErrWorkerExited, describeExit(st))
		}
		return ErrWorkerExited
	}

	err := checker.Await(ctx, s.state.Port(), s.opts.HealthBudget)
	if err == nil {
		return nil
	}

	if errors.Is(err, health.ErrTimedOut) && s.state.PID() != 0 {
		s.log.Warn("worker failed health check, shutting it down", zap.Error(err))
		s.Shutdown()
	}
	return err
}

func describeExit(st ExitStatus) string {
	if st.Signal != "" {
		return "killed by " + st.Signal
	}
	return fmt.Sprintf("exit code %d", st.Code)
}
