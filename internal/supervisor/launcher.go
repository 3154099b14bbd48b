package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/steveyegge/sidecar/internal/config"
	"github.com/steveyegge/sidecar/internal/constants"
	"github.com/steveyegge/sidecar/internal/stage"
	"github.com/steveyegge/sidecar/internal/telemetry"
	"github.com/steveyegge/sidecar/internal/util"
)

// maxLineBytes bounds one line of worker output.
const maxLineBytes = 1 << 20

// spawnRetry covers "text file busy" right after a fresh copy of the
// executable is staged.
var spawnRetry = func() util.RetryConfig {
	cfg := util.DefaultRetryConfig()
	cfg.MaxAttempts = 5
	cfg.InitialDelay = 50 * time.Millisecond
	cfg.MaxDelay = 500 * time.Millisecond
	return cfg
}()

// worker is one spawned process and the read ends of its output pipes.
type worker struct {
	cmd    *exec.Cmd
	stdout *os.File
	stderr *os.File
}

// Launch spawns the worker on port. If a worker is already started it
// returns the existing pid without spawning.
func (s *Supervisor) Launch(ctx context.Context, port uint16, extraArgs []string) (int, error) {
	s.launchMu.Lock()
	defer s.launchMu.Unlock()

	if s.state.Started() {
		pid := s.state.PID()
		s.log.Debug("worker already started", zap.Int("pid", pid))
		return pid, nil
	}
	if s.state.Phase() != PhaseIdle {
		return 0, ErrAlreadyShuttingDown
	}

	exe, err := s.resolveExecutable()
	if err != nil {
		return 0, err
	}
	dir := s.opts.WorkDir
	if dir == "" {
		dir = filepath.Dir(exe)
	}

	args := s.workerArgs(port, extraArgs)
	instanceID := uuid.NewString()
	env := config.EnvForExecCommand(config.MergeEnv(
		telemetry.WorkerEnv(instanceID),
		config.WorkerEnv(config.WorkerEnvConfig{
			InstanceID: instanceID,
			Port:       port,
			Extra:      s.opts.Env,
		}),
	))

	cfg := spawnRetry
	cfg.OnRetry = func(attempt int, err error) {
		s.log.Debug("retrying worker spawn", zap.Int("attempt", attempt), zap.Error(err))
	}
	w, err := util.Retry(ctx, cfg, func() (*worker, error) {
		return spawn(exe, dir, args, env)
	})
	if err != nil {
		return 0, fmt.Errorf("spawning %s: %w", exe, err)
	}

	h := newHandle(w.cmd.Process)
	s.state.setPort(port)
	s.state.recordLaunch(h)

	s.log.Info("worker spawned",
		zap.String("name", s.opts.Name),
		zap.Int("pid", h.PID()),
		zap.Uint16("port", port),
		zap.String("executable", exe),
		zap.String("instance", instanceID))

	go s.drain(w.stdout, zapcore.InfoLevel, "stdout")
	go s.drain(w.stderr, zapcore.WarnLevel, "stderr")
	go s.watch(w)

	return h.PID(), nil
}

// resolveExecutable prefers a staged bundle and falls back to the default
// launch command when staging does not apply or fails.
func (s *Supervisor) resolveExecutable() (string, error) {
	if s.opts.Stager != nil {
		res, err := s.opts.Stager.Stage()
		switch {
		case err == nil:
			if res.Restaged {
				s.log.Info("staged worker bundle", zap.String("path", res.Path), zap.String("fingerprint", res.Fingerprint))
			}
			return res.Path, nil
		case errors.Is(err, stage.ErrNotPackaged):
			s.log.Debug("not a packaged layout, using default launch command")
		default:
			s.log.Warn("staging failed, using default launch command", zap.Error(err))
		}
	}
	if s.opts.Executable == "" {
		return "", ErrNoExecutable
	}
	return s.opts.Executable, nil
}

// workerArgs builds the command line. Resource flags are omitted entirely
// when their directory is missing, never passed empty.
func (s *Supervisor) workerArgs(port uint16, extra []string) []string {
	args := []string{
		"--port", strconv.Itoa(int(port)),
		"--host", constants.LoopbackHost,
	}
	if dirExists(s.opts.SolutionsDir) {
		args = append(args, "--solutions-dir", s.opts.SolutionsDir)
	}
	if dirExists(s.opts.FrontendDir) {
		args = append(args, "--frontend-dir", s.opts.FrontendDir)
	}
	args = append(args, s.opts.Args...)
	return append(args, extra...)
}

func dirExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// spawn starts exe with stdout and stderr on OS pipes. The parent's write
// ends are closed after Start so the readers see EOF once every holder of
// the write ends (the worker and any descendants) has exited.
func spawn(exe, dir string, args, env []string) (*worker, error) {
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		_ = outR.Close()
		_ = outW.Close()
		return nil, err
	}

	cmd := exec.Command(exe, args...) //nolint:gosec // G204: exe comes from config or the staged bundle
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = outW
	cmd.Stderr = errW
	configureCmd(cmd)

	startErr := cmd.Start()
	_ = outW.Close()
	_ = errW.Close()
	if startErr != nil {
		_ = outR.Close()
		_ = errR.Close()
		return nil, startErr
	}
	return &worker{cmd: cmd, stdout: outR, stderr: errR}, nil
}

// drain forwards each line of r to the worker logger at level until EOF.
func (s *Supervisor) drain(r *os.File, level zapcore.Level, stream string) {
	defer r.Close()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		if ce := s.wlog.Check(level, line); ce != nil {
			ce.Write(zap.String("stream", stream))
		}
	}
	if err := sc.Err(); err != nil {
		s.log.Debug("worker output scan stopped", zap.String("stream", stream), zap.Error(err))
		// Keep the pipe empty so the worker never blocks on a full buffer.
		_, _ = io.Copy(io.Discard, r)
	}
}

// watch waits for the worker to exit and clears the state it owned.
func (s *Supervisor) watch(w *worker) {
	pid := w.cmd.Process.Pid
	waitErr := w.cmd.Wait()

	st := ExitStatus{PID: pid, Code: -1, At: time.Now()}
	if ps := w.cmd.ProcessState; ps != nil {
		st.Code = ps.ExitCode()
		st.Signal = exitSignal(ps)
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		st.Err = waitErr
	}

	s.state.recordExit(st)
	s.metrics.recordExit(context.Background(), st.Code)
	s.log.Info("worker exited",
		zap.Int("pid", pid),
		zap.Int("code", st.Code),
		zap.String("signal", st.Signal),
		zap.Error(st.Err))

	if s.opts.OnWorkerExited != nil {
		s.opts.OnWorkerExited(st)
	}
}

// DefaultExecutable resolves the default launch command for a worker named
// name. override, when set, is used as given: a bare name is looked up on
// PATH and a relative path resolves against resourceDir. Otherwise the worker
// binary is looked for in resourceDir, then on PATH.
func DefaultExecutable(resourceDir, name, override string) (string, error) {
	if override != "" {
		if !strings.ContainsAny(override, `/\`) {
			path, err := exec.LookPath(override)
			if err != nil {
				return "", fmt.Errorf("%w: %v", ErrNoExecutable, err)
			}
			return path, nil
		}
		path := config.ResolvePath(resourceDir, override)
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%w: %s", ErrNoExecutable, path)
		}
		return path, nil
	}

	for _, base := range []string{name, constants.WorkerBinary} {
		candidate := filepath.Join(resourceDir, withExeSuffix(base))
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoExecutable, name)
}

func withExeSuffix(base string) string {
	if runtime.GOOS == "windows" && !strings.HasSuffix(strings.ToLower(base), ".exe") {
		return base + ".exe"
	}
	return base
}
