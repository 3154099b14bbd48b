package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/steveyegge/sidecar/internal/exitcode"
	"github.com/steveyegge/sidecar/internal/health"
	"github.com/steveyegge/sidecar/internal/port"
	"github.com/steveyegge/sidecar/internal/supervisor"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// testShell returns a shell whose supervisors launch the test binary.
func testShell(t *testing.T, mode string) (*shell, chan os.Signal, *syncBuffer, *int) {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)

	sigCh := make(chan os.Signal, 1)
	out := &syncBuffer{}
	built := new(int)
	sh := &shell{
		out:     out,
		log:     zap.NewNop(),
		signals: sigCh,
		newSupervisor: func(onExit func(supervisor.ExitStatus)) (*supervisor.Supervisor, error) {
			*built++
			return supervisor.New(supervisor.Options{
				Name:            "fake-worker",
				Executable:      exe,
				Env:             map[string]string{workerModeEnv: mode},
				SweepPattern:    "sidecar-cmd-test-no-such-process",
				HealthBudget:    health.Budget{Interval: 50 * time.Millisecond, Attempts: 100},
				GracefulTimeout: 2 * time.Second,
				PollInterval:    20 * time.Millisecond,
				OnWorkerExited:  onExit,
			}), nil
		},
	}
	return sh, sigCh, out, built
}

func runAsync(sh *shell) <-chan error {
	done := make(chan error, 1)
	go func() { done <- sh.run(context.Background()) }()
	return done
}

func backendPorts(out string) int {
	return strings.Count(out, BackendPortKey+"=")
}

func TestShell_SignalShutsDownCleanly(t *testing.T) {
	sh, sigCh, out, _ := testShell(t, "serve")
	done := runAsync(sh)

	require.Eventually(t, func() bool { return backendPorts(out.String()) == 1 }, 10*time.Second, 20*time.Millisecond)
	assert.Regexp(t, `^BACKEND_PORT=\d+\n$`, out.String())

	sigCh <- syscall.SIGTERM
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after signal")
	}
}

func TestShell_WorkerCrashIsAnError(t *testing.T) {
	sh, _, out, _ := testShell(t, "crash")
	done := runAsync(sh)

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, exitcode.ErrWorkerExited, exitcode.Code(err))
		assert.Contains(t, err.Error(), "code 4")
	case <-time.After(10 * time.Second):
		t.Fatal("run did not notice the worker exit")
	}
	assert.Equal(t, 1, backendPorts(out.String()))
}

func TestShell_ReloadStartsFreshSupervisor(t *testing.T) {
	sh, sigCh, out, built := testShell(t, "serve")
	reload := make(chan string, 1)
	sh.reload = reload
	done := runAsync(sh)

	require.Eventually(t, func() bool { return backendPorts(out.String()) == 1 }, 10*time.Second, 20*time.Millisecond)
	reload <- "worker"
	require.Eventually(t, func() bool { return backendPorts(out.String()) == 2 }, 10*time.Second, 20*time.Millisecond)

	sigCh <- syscall.SIGTERM
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after signal")
	}
	assert.Equal(t, 2, *built)
}

func TestShell_ContextCancelStops(t *testing.T) {
	sh, _, out, _ := testShell(t, "serve")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sh.run(ctx) }()

	require.Eventually(t, func() bool { return backendPorts(out.String()) == 1 }, 10*time.Second, 20*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestShell_SupervisorBuildError(t *testing.T) {
	sh, _, _, _ := testShell(t, "serve")
	sh.newSupervisor = func(func(supervisor.ExitStatus)) (*supervisor.Supervisor, error) {
		return nil, errors.New("bad resource dir")
	}
	err := sh.run(context.Background())
	assert.Equal(t, exitcode.ErrUsage, exitcode.Code(err))
}

func TestStartError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("alloc: %w", port.ErrNoPort), exitcode.ErrPortUnavailable},
		{supervisor.ErrNoExecutable, exitcode.ErrWorkerNotFound},
		{fmt.Errorf("%w after 60 attempts", health.ErrTimedOut), exitcode.ErrTimeout},
		{supervisor.ErrWorkerExited, exitcode.ErrWorkerExited},
		{supervisor.ErrAlreadyShuttingDown, exitcode.ErrConflict},
		{errors.New("exec format error"), exitcode.ErrSpawn},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			got := startError(tt.err)
			assert.Equal(t, tt.want, exitcode.Code(got))
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestExitDetail(t *testing.T) {
	assert.Equal(t, "code 4", exitDetail(supervisor.ExitStatus{Code: 4}))
	assert.Equal(t, "signal SIGKILL", exitDetail(supervisor.ExitStatus{Code: -1, Signal: "SIGKILL"}))
	assert.Equal(t, "wait failed", exitDetail(supervisor.ExitStatus{Err: errors.New("wait failed")}))
}
