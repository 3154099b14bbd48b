package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/steveyegge/sidecar/internal/health"
	"github.com/steveyegge/sidecar/internal/proc"
)

// selfWorker returns Options that launch this test binary as a fake worker.
func selfWorker(t *testing.T, mode string) (Options, *observer.ObservedLogs) {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)

	core, logs := observer.New(zapcore.DebugLevel)
	return Options{
		Name:            "fake-worker",
		Executable:      exe,
		Env:             map[string]string{workerModeEnv: mode},
		SweepPattern:    "sidecar-supervisor-test-no-such-process",
		HealthBudget:    health.Budget{Interval: 50 * time.Millisecond, Attempts: 100},
		GracefulTimeout: 2 * time.Second,
		PollInterval:    20 * time.Millisecond,
		ForceTimeout:    time.Second,
		Logger:          zap.New(core),
	}, logs
}

func TestStart_HealthyThenGracefulShutdown(t *testing.T) {
	opts, logs := selfWorker(t, "serve")
	s := New(opts)
	t.Cleanup(func() { s.ExitHook() })

	port, err := s.Start(context.Background(), nil)
	require.NoError(t, err)
	assert.NotZero(t, port)
	assert.Equal(t, port, s.BackendPort())
	assert.True(t, s.Started())
	assert.NotZero(t, s.PID())

	require.NoError(t, health.NewChecker(nil).Probe(context.Background(), port))

	require.Eventually(t, func() bool {
		return logs.FilterMessageSnippet("fake worker listening").Len() == 1
	}, 2*time.Second, 20*time.Millisecond)
	stdout := logs.FilterMessageSnippet("fake worker listening").All()[0]
	assert.Equal(t, "worker", stdout.LoggerName)
	assert.Equal(t, zapcore.InfoLevel, stdout.Level)

	require.Eventually(t, func() bool {
		return logs.FilterMessageSnippet("stderr line").Len() == 1
	}, 2*time.Second, 20*time.Millisecond)
	stderr := logs.FilterMessageSnippet("stderr line").All()[0]
	assert.Equal(t, "worker", stderr.LoggerName)
	assert.Equal(t, zapcore.WarnLevel, stderr.Level)

	pid := s.PID()
	out := s.RequestShutdown()
	assert.True(t, out.Ran)
	assert.Equal(t, pid, out.PID)
	assert.Contains(t, []Result{ResultGraceful, ResultForced}, out.Result)
	assert.Zero(t, s.PID())
	assert.False(t, s.Started())
	assert.False(t, proc.New().IsRunning(pid))
}

func TestLaunch_Idempotent(t *testing.T) {
	opts, _ := selfWorker(t, "serve")
	spawned := 0
	opts.Logger = zap.New(zapcore.RegisterHooks(opts.Logger.Core(), func(e zapcore.Entry) error {
		if e.Message == "worker spawned" {
			spawned++
		}
		return nil
	}))
	s := New(opts)
	t.Cleanup(func() { s.Shutdown() })

	first, err := s.Launch(context.Background(), 0, nil)
	require.NoError(t, err)
	second, err := s.Launch(context.Background(), 0, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, spawned)
}

func TestStart_WorkerExitsEarly(t *testing.T) {
	opts, _ := selfWorker(t, "exit")
	exited := make(chan ExitStatus, 1)
	opts.OnWorkerExited = func(st ExitStatus) { exited <- st }
	s := New(opts)

	_, err := s.Start(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWorkerExited), "got %v", err)

	select {
	case st := <-exited:
		assert.Equal(t, 3, st.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("OnWorkerExited not called")
	}
	assert.Zero(t, s.PID())
	assert.False(t, s.Started())

	last, ok := s.LastExit()
	require.True(t, ok)
	assert.Equal(t, 3, last.Code)
}

func TestStart_NoExecutable(t *testing.T) {
	s := New(Options{
		Inspector:    proc.NewRecorder(),
		SweepPattern: "sidecar-supervisor-test-no-such-process",
	})
	_, err := s.Start(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoExecutable)
	assert.False(t, s.Started())
}

func TestStart_AllocateFailure(t *testing.T) {
	boom := errors.New("no port")
	s := New(Options{
		Inspector:    proc.NewRecorder(),
		SweepPattern: "sidecar-supervisor-test-no-such-process",
		Allocate:     func() (uint16, error) { return 0, boom },
	})
	_, err := s.Start(context.Background(), nil)
	assert.ErrorIs(t, err, boom)
}

func TestWorkerArgs(t *testing.T) {
	solutions := t.TempDir()
	s := New(Options{
		Inspector:    proc.NewRecorder(),
		SolutionsDir: solutions,
		FrontendDir:  filepath.Join(t.TempDir(), "missing"),
		Args:         []string{"--log-level", "debug"},
	})

	args := s.workerArgs(8123, []string{"--extra"})
	assert.Equal(t, []string{
		"--port", "8123",
		"--host", "127.0.0.1",
		"--solutions-dir", solutions,
		"--log-level", "debug",
		"--extra",
	}, args)
	assert.NotContains(t, args, "--frontend-dir", "missing dirs are omitted, never passed empty")
}

func TestDefaultExecutable(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, withExeSuffix("my-worker"))
	require.NoError(t, os.WriteFile(bin, []byte("x"), 0755))

	got, err := DefaultExecutable(dir, "my-worker", "")
	require.NoError(t, err)
	assert.Equal(t, bin, got)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	nested := filepath.Join(dir, "sub", "w")
	require.NoError(t, os.WriteFile(nested, []byte("x"), 0755))
	got, err = DefaultExecutable(dir, "ignored", filepath.Join("sub", "w"))
	require.NoError(t, err)
	assert.Equal(t, nested, got, "relative override resolves against the resource dir")

	_, err = DefaultExecutable(t.TempDir(), "sidecar-no-such-worker-binary", "")
	assert.ErrorIs(t, err, ErrNoExecutable)

	_, err = DefaultExecutable(dir, "", filepath.Join("sub", "missing"))
	assert.ErrorIs(t, err, ErrNoExecutable)
}
