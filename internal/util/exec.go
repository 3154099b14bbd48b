package util

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ExecWithOutput runs a command in workDir and returns its trimmed stdout.
// On failure the error carries stderr and wraps the underlying *exec.ExitError,
// so callers can branch on exit status (pgrep exits 1 when nothing matched).
func ExecWithOutput(workDir, name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...) //nolint:gosec // G204: callers pass fixed tool names
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s: %w", msg, err)
		}
		return "", err
	}

	return strings.TrimSpace(stdout.String()), nil
}

// ExecRun runs a command in workDir, discarding output.
func ExecRun(workDir, name string, args ...string) error {
	_, err := ExecWithOutput(workDir, name, args...)
	return err
}

// ExitCode returns the process exit status carried by err, or -1 when err
// is not an exit error.
func ExitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
