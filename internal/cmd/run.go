package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/steveyegge/sidecar/internal/exitcode"
	"github.com/steveyegge/sidecar/internal/health"
	"github.com/steveyegge/sidecar/internal/port"
	"github.com/steveyegge/sidecar/internal/stage"
	"github.com/steveyegge/sidecar/internal/supervisor"
	"github.com/steveyegge/sidecar/internal/watch"
)

// BackendPortKey prefixes the stdout line that hands the port to the frontend.
const BackendPortKey = "BACKEND_PORT"

const instanceLockFile = "run.lock"

var runWatch bool

var runCmd = &cobra.Command{
	Use:     "run [-- worker-args...]",
	GroupID: GroupSupervise,
	Short:   "Run the worker until interrupted",
	Long: `Run the worker under supervision.

Startup reaps stale instances, allocates a loopback port, stages the packaged
bundle, launches the worker and waits for its health endpoint. Once healthy,
"BACKEND_PORT=<port>" is printed on stdout. An interrupt, a termination
signal or an unexpected worker exit shuts the process tree down exactly once.

Arguments after "--" are appended to the worker's command line.

With --watch, a rebuilt worker executable triggers a full shutdown and a
fresh start on a new port.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "restart the worker when its executable changes")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	unlock, err := acquireInstanceLock()
	if err != nil {
		return err
	}
	defer unlock()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, shutdownSignals()...)
	defer signal.Stop(sigCh)

	sh := &shell{
		out:     cmd.OutOrStdout(),
		log:     logger,
		signals: sigCh,
		extra:   args,
		newSupervisor: func(onExit func(supervisor.ExitStatus)) (*supervisor.Supervisor, error) {
			opts, err := supervisor.OptionsFromConfig(cfg, logger)
			if err != nil {
				return nil, err
			}
			opts.OnWorkerExited = onExit
			return supervisor.New(opts), nil
		},
	}

	if runWatch {
		w, err := newExecutableWatcher()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go func() { _ = w.Run(ctx) }()
		sh.reload = w.Changed()
	}

	return sh.run(cmd.Context())
}

// acquireInstanceLock keeps a second supervisor from sharing the cache and
// reaping the first one's worker.
func acquireInstanceLock() (func(), error) {
	dir := cfg.Stage.CacheDir
	if dir == "" {
		var err error
		if dir, err = stage.DefaultCacheDir(); err != nil {
			return nil, exitcode.Wrap(exitcode.ErrStaging, "resolving cache directory", err)
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, exitcode.Wrap(exitcode.ErrPermission, "creating cache directory", err)
	}

	path := filepath.Join(dir, instanceLockFile)
	fileLock := flock.New(path)
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, exitcode.Wrap(exitcode.ErrBusy, "acquiring instance lock", err)
	}
	if !locked {
		return nil, exitcode.Busy(path)
	}
	return func() { _ = fileLock.Unlock() }, nil
}

func newExecutableWatcher() (*watch.Watcher, error) {
	opts, err := supervisor.OptionsFromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	var paths []string
	if opts.Stager != nil && opts.Stager.IsPackaged() {
		paths = append(paths, opts.Stager.SourceExecutable())
	}
	if opts.Executable != "" {
		paths = append(paths, opts.Executable)
	}
	if len(paths) == 0 {
		return nil, exitcode.WorkerNotFound(cfg.Worker.Name)
	}
	w, err := watch.New(logger, paths...)
	if err != nil {
		return nil, exitcode.Wrap(exitcode.ErrGeneral, "starting watcher", err)
	}
	return w, nil
}

// shell drives supervisors for the run command: one per start, replaced on
// reload.
type shell struct {
	out     io.Writer
	log     *zap.Logger
	signals <-chan os.Signal
	reload  <-chan string
	extra   []string

	newSupervisor func(onExit func(supervisor.ExitStatus)) (*supervisor.Supervisor, error)
}

func (s *shell) run(ctx context.Context) error {
	for {
		exited := make(chan supervisor.ExitStatus, 1)
		sv, err := s.newSupervisor(func(st supervisor.ExitStatus) {
			select {
			case exited <- st:
			default:
			}
		})
		if err != nil {
			return exitcode.Wrap(exitcode.ErrUsage, "configuring supervisor", err)
		}

		again, err := s.cycle(ctx, sv, exited)
		if err != nil || !again {
			return err
		}
		s.log.Info("restarting worker")
	}
}

// cycle runs one supervisor from start to shutdown. It reports whether the
// caller should start a fresh one.
func (s *shell) cycle(ctx context.Context, sv *supervisor.Supervisor, exited <-chan supervisor.ExitStatus) (bool, error) {
	// Signals may land while the health gate is still waiting. The watcher
	// goroutine triggers shutdown, which ends the wait.
	stopped := make(chan string, 1)
	end := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var reason string
		select {
		case sig := <-s.signals:
			reason = sig.String()
		case <-ctx.Done():
			reason = ctx.Err().Error()
		case <-end:
			return
		}
		s.log.Info("shutdown requested", zap.String("reason", reason))
		stopped <- reason
		sv.RequestShutdown()
	}()
	defer func() {
		sv.RequestShutdown()
		close(end)
		wg.Wait()
		sv.ExitHook()
	}()

	wasStopped := func() bool {
		select {
		case r := <-stopped:
			stopped <- r
			return true
		default:
			return false
		}
	}

	p, err := sv.Start(context.WithoutCancel(ctx), s.extra)
	if err != nil {
		if wasStopped() {
			return false, nil
		}
		return false, startError(err)
	}
	fmt.Fprintf(s.out, "%s=%d\n", BackendPortKey, p)

	select {
	case <-stopped:
		return false, nil
	case st := <-exited:
		if wasStopped() {
			return false, nil
		}
		return false, exitcode.Newf(exitcode.ErrWorkerExited, "worker exited unexpectedly (%s)", exitDetail(st))
	case path := <-s.reload:
		if wasStopped() {
			return false, nil
		}
		s.log.Info("worker executable changed, reloading", zap.String("path", path))
		return true, nil
	}
}

// startError maps a Start failure to a process exit code.
func startError(err error) error {
	switch {
	case errors.Is(err, port.ErrNoPort):
		return exitcode.Wrap(exitcode.ErrPortUnavailable, "allocating backend port", err)
	case errors.Is(err, supervisor.ErrNoExecutable):
		return exitcode.Wrap(exitcode.ErrWorkerNotFound, "resolving worker", err)
	case errors.Is(err, health.ErrTimedOut):
		return exitcode.Wrap(exitcode.ErrTimeout, "waiting for worker health", err)
	case errors.Is(err, supervisor.ErrWorkerExited):
		return exitcode.Wrap(exitcode.ErrWorkerExited, "starting worker", err)
	case errors.Is(err, supervisor.ErrAlreadyShuttingDown):
		return exitcode.Wrap(exitcode.ErrConflict, "starting worker", err)
	default:
		return exitcode.Wrap(exitcode.ErrSpawn, "starting worker", err)
	}
}

func exitDetail(st supervisor.ExitStatus) string {
	switch {
	case st.Err != nil:
		return st.Err.Error()
	case st.Signal != "":
		return "signal " + st.Signal
	default:
		return fmt.Sprintf("code %d", st.Code)
	}
}
