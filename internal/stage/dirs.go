package stage

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"

	"github.com/steveyegge/sidecar/internal/constants"
)

// UserDataDir returns the per-user application data root:
// %LocalAppData% on Windows, ~/Library/Application Support on macOS and
// $XDG_DATA_HOME (or ~/.local/share) elsewhere.
func UserDataDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if dir := os.Getenv("LocalAppData"); dir != "" {
			return dir, nil
		}
		return "", errors.New("%LocalAppData% is not set")
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support"), nil
	default:
		if dir := os.Getenv("XDG_DATA_HOME"); dir != "" && filepath.IsAbs(dir) {
			return dir, nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".local", "share"), nil
	}
}

// DefaultCacheDir is <UserDataDir>/sidecar/sidecar.
func DefaultCacheDir() (string, error) {
	root, err := UserDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, constants.AppName, "sidecar"), nil
}
