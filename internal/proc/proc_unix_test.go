//go:build !windows

package proc

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startSleeper starts a long sleep whose command line is unique to the test.
func startSleeper(t *testing.T, name string) *exec.Cmd {
	t.Helper()
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	data, err := os.ReadFile(sleep)
	require.NoError(t, err)
	bin := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(bin, data, 0755))

	cmd := exec.Command(bin, "60")
	require.NoError(t, cmd.Start())
	go func() { _ = cmd.Wait() }()
	t.Cleanup(func() { _ = cmd.Process.Kill() })
	return cmd
}

func waitStopped(in Inspector, pid int, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if !in.IsRunning(pid) {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

func TestIsRunning(t *testing.T) {
	in := New()
	assert.True(t, in.IsRunning(os.Getpid()))
	assert.False(t, in.IsRunning(0))
	assert.False(t, in.IsRunning(-1))
}

func TestSendGraceful_StopsProcess(t *testing.T) {
	in := New()
	cmd := startSleeper(t, "proc-graceful-sleeper")
	pid := cmd.Process.Pid

	require.True(t, in.IsRunning(pid))
	assert.True(t, in.SendGraceful(pid))
	assert.True(t, waitStopped(in, pid, 2*time.Second), "sleeper should exit on SIGTERM")
}

func TestSendForceful_StopsProcess(t *testing.T) {
	in := New()
	cmd := startSleeper(t, "proc-forceful-sleeper")
	pid := cmd.Process.Pid

	assert.True(t, in.SendForceful(pid))
	assert.True(t, waitStopped(in, pid, 2*time.Second))
}

func TestChildPIDs(t *testing.T) {
	in := New()
	cmd := exec.Command("sh", "-c", "sleep 60 & wait")
	require.NoError(t, cmd.Start())
	go func() { _ = cmd.Wait() }()

	var children []int
	require.Eventually(t, func() bool {
		children = in.ChildPIDs(cmd.Process.Pid)
		return len(children) == 1
	}, 2*time.Second, 20*time.Millisecond)

	in.SendForceful(cmd.Process.Pid)
	assert.True(t, waitStopped(in, children[0], 2*time.Second), "child killed with its parent")
}

func TestFindByName_ExcludesSelf(t *testing.T) {
	in := New()
	cmd := startSleeper(t, "proc-findbyname-sleeper")

	require.Eventually(t, func() bool {
		return len(in.FindByName("proc-findbyname-sleeper")) == 1
	}, 2*time.Second, 20*time.Millisecond)

	pids := in.FindByName("proc-findbyname-sleeper")
	assert.Equal(t, []int{cmd.Process.Pid}, pids)
	assert.NotContains(t, in.FindByName(filepath.Base(os.Args[0])), os.Getpid())
}

func TestKillByName(t *testing.T) {
	in := New()
	a := startSleeper(t, "proc-killbyname-sleeper")

	n := in.KillByName("proc-killbyname-sleeper")
	assert.Equal(t, 1, n)
	assert.True(t, waitStopped(in, a.Process.Pid, 2*time.Second))
	assert.Zero(t, in.KillByName("proc-killbyname-no-such-process"))
}

func TestParsePIDs(t *testing.T) {
	assert.Equal(t, []int{12, 345}, parsePIDs("12\n345\n"))
	assert.Empty(t, parsePIDs(""))
	assert.Equal(t, []int{7}, parsePIDs("x 7 -3 0"))
}
