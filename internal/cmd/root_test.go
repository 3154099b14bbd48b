package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/sidecar/internal/config"
	"github.com/steveyegge/sidecar/internal/exitcode"
)

// runCLI executes the root command with args and returns the exit code and
// captured stdout.
func runCLI(t *testing.T, args ...string) (int, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		configPath, logLevel = "", ""
	})
	code := execute(context.Background(), args)
	return code, out.String()
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sidecar.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestVersion(t *testing.T) {
	code, out := runCLI(t, "version")
	assert.Equal(t, exitcode.Success, code)
	assert.True(t, strings.HasPrefix(out, "sidecar "+Version), out)
}

func TestConfigShow(t *testing.T) {
	path := writeConfig(t, "[worker]\nname = \"custom-worker\"\n")
	code, out := runCLI(t, "--config", path, "config", "show")
	require.Equal(t, exitcode.Success, code)
	assert.Contains(t, out, "[worker]")
	assert.Contains(t, out, `name = "custom-worker"`)
	assert.Contains(t, out, "[shutdown]")
}

func TestConfigPath_Explicit(t *testing.T) {
	path := writeConfig(t, "")
	code, out := runCLI(t, "--config", path, "config", "path")
	require.Equal(t, exitcode.Success, code)
	assert.Equal(t, path+"\n", out)
}

func TestConfig_RequiresSubcommand(t *testing.T) {
	path := writeConfig(t, "")
	code, _ := runCLI(t, "--config", path, "config")
	assert.Equal(t, exitcode.ErrUsage, code)

	code, _ = runCLI(t, "--config", path, "config", "bogus")
	assert.Equal(t, exitcode.ErrUsage, code)
}

func TestMissingConfigFile(t *testing.T) {
	code, _ := runCLI(t, "--config", filepath.Join(t.TempDir(), "absent.toml"), "port")
	assert.Equal(t, exitcode.ErrUsage, code)
}

func TestBadLogLevelFlag(t *testing.T) {
	path := writeConfig(t, "")
	code, _ := runCLI(t, "--config", path, "--log-level", "loud", "port")
	assert.Equal(t, exitcode.ErrUsage, code)
}

func TestPort(t *testing.T) {
	path := writeConfig(t, "")
	code, out := runCLI(t, "--config", path, "port")
	require.Equal(t, exitcode.Success, code)
	p, err := strconv.Atoi(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Greater(t, p, 0)
	assert.LessOrEqual(t, p, 65535)
}

func TestStage_NotPackaged(t *testing.T) {
	resource := t.TempDir()
	path := writeConfig(t, "[worker]\nresource_dir = \""+filepath.ToSlash(resource)+"\"\n"+
		"[stage]\ncache_dir = \""+filepath.ToSlash(t.TempDir())+"\"\n")
	code, _ := runCLI(t, "--config", path, "stage")
	assert.Equal(t, exitcode.ErrBundleNotFound, code)
}

func TestStage_CopiesBundle(t *testing.T) {
	resource := t.TempDir()
	cache := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(resource, exeForTest("provisioning-station-bin")), []byte("bin"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(resource, "_internal"), 0755))

	path := writeConfig(t, "[worker]\nresource_dir = \""+filepath.ToSlash(resource)+"\"\n"+
		"[stage]\ncache_dir = \""+filepath.ToSlash(cache)+"\"\n")
	code, out := runCLI(t, "--config", path, "stage")
	require.Equal(t, exitcode.Success, code)
	assert.Contains(t, out, "staged")
	assert.FileExists(t, filepath.Join(cache, exeForTest("provisioning-station-bin")))

	code, out = runCLI(t, "--config", path, "stage")
	require.Equal(t, exitcode.Success, code)
	assert.Contains(t, out, "cache up to date")
}

func TestHealth_NoWorker(t *testing.T) {
	path := writeConfig(t, "")
	code, out := runCLI(t, "--config", path, "health", "--port", "1", "--wait=false")
	assert.Equal(t, exitcode.ErrGeneral, code)
	assert.Contains(t, out, "127.0.0.1:1/api/health")
}

func TestRunInstanceLock_Busy(t *testing.T) {
	cache := t.TempDir()
	path := writeConfig(t, "[stage]\ncache_dir = \""+filepath.ToSlash(cache)+"\"\n")
	code, _ := runCLI(t, "--config", path, "config", "show")
	require.Equal(t, exitcode.Success, code)

	unlock, err := acquireInstanceLock()
	require.NoError(t, err)
	defer unlock()
	assert.FileExists(t, filepath.Join(cache, instanceLockFile))

	// flock locks belong to the open file, so a second handle in this
	// process sees the lock as held.
	_, err = acquireInstanceLock()
	require.Error(t, err)
	assert.Equal(t, exitcode.ErrBusy, exitcode.Code(err))
}

func TestRequireSubcommand(t *testing.T) {
	parent := &cobra.Command{Use: "parent"}
	child := &cobra.Command{Use: "child"}
	parent.AddCommand(child)

	err := requireSubcommand(child, nil)
	assert.Contains(t, err.Error(), "parent child --help")
	assert.Equal(t, exitcode.ErrUsage, exitcode.Code(err))

	err = requireSubcommand(child, []string{"nope"})
	assert.Contains(t, err.Error(), `unknown command "nope"`)
}

func TestStage_MissingResourceDir(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone")
	path := writeConfig(t, "[worker]\nresource_dir = \""+filepath.ToSlash(missing)+"\"\n"+
		"[stage]\ncache_dir = \""+filepath.ToSlash(t.TempDir())+"\"\n")
	code, _ := runCLI(t, "--config", path, "stage")
	assert.Equal(t, exitcode.ErrFileNotFound, code)
}

func TestWatch_NoExecutable(t *testing.T) {
	saved := cfg
	t.Cleanup(func() { cfg = saved })

	cfg = config.Default()
	cfg.Worker.Name = "sidecar-cmd-test-missing-worker"
	cfg.Worker.ResourceDir = t.TempDir()
	cfg.Stage.CacheDir = t.TempDir()

	_, err := newExecutableWatcher()
	require.Error(t, err)
	assert.Equal(t, exitcode.ErrWorkerNotFound, exitcode.Code(err))
	assert.Contains(t, err.Error(), "sidecar-cmd-test-missing-worker")
}
