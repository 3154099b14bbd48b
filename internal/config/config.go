// Package config loads supervisor configuration from a TOML file and
// SIDECAR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/steveyegge/sidecar/internal/constants"
)

// FileName is the config file name inside the per-user config directory.
const FileName = "sidecar.toml"

// Config is the full supervisor configuration. Values come from defaults,
// then the config file, then environment variables, in that priority order.
type Config struct {
	Worker   WorkerConfig   `toml:"worker"`
	Health   HealthConfig   `toml:"health"`
	Shutdown ShutdownConfig `toml:"shutdown"`
	Reaper   ReaperConfig   `toml:"reaper"`
	Stage    StageConfig    `toml:"stage"`
	Log      LogConfig      `toml:"log"`
}

// WorkerConfig describes the worker process.
type WorkerConfig struct {
	// Name is the worker's name, used for logs and the default launch command
	// (env: SIDECAR_WORKER_NAME).
	Name string `toml:"name"`

	// Executable overrides the default launch command when staging does not
	// apply (env: SIDECAR_WORKER_EXECUTABLE).
	Executable string `toml:"executable"`

	// ResourceDir holds the bundled worker and its resources. Empty means the
	// directory containing the supervisor binary (env: SIDECAR_RESOURCE_DIR).
	ResourceDir string `toml:"resource_dir"`

	// SolutionsDir and FrontendDir are passed to the worker only if they exist.
	// Relative paths resolve against ResourceDir.
	SolutionsDir string `toml:"solutions_dir"`
	FrontendDir  string `toml:"frontend_dir"`

	// Args are appended after the generated arguments.
	Args []string `toml:"args"`

	// Env is added to the worker's inherited environment.
	Env map[string]string `toml:"env"`
}

// HealthConfig bounds the readiness wait.
type HealthConfig struct {
	Path     string   `toml:"path"`
	Interval Duration `toml:"interval"`
	Attempts int      `toml:"attempts"`
	Timeout  Duration `toml:"timeout"`
}

// ShutdownConfig tunes the escalation timings.
type ShutdownConfig struct {
	GracefulTimeout Duration `toml:"graceful_timeout"`
	PollInterval    Duration `toml:"poll_interval"`
	ForceTimeout    Duration `toml:"force_timeout"`
}

// ReaperConfig tunes the stale instance sweep.
type ReaperConfig struct {
	Grace   Duration `toml:"grace"`
	Pattern string   `toml:"pattern"`
}

// StageConfig controls the artifact cache.
type StageConfig struct {
	// CacheDir defaults to <UserDataDir>/sidecar/sidecar (env: SIDECAR_CACHE_DIR).
	CacheDir    string `toml:"cache_dir"`
	Fingerprint string `toml:"fingerprint"`
	SupportDir  string `toml:"support_dir"`
}

// LogConfig controls logging.
type LogConfig struct {
	// Level is debug, info, warn or error (env: SIDECAR_LOG_LEVEL).
	Level string `toml:"level"`
	// File, if set, receives JSON logs in addition to stderr (env: SIDECAR_LOG_FILE).
	File string `toml:"file"`
	// Format of the stderr sink: console or json.
	Format string `toml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Worker: WorkerConfig{
			Name:         constants.WorkerName,
			SolutionsDir: filepath.Join("_up_", "solutions"),
			FrontendDir:  filepath.Join("_up_", "frontend", "dist"),
		},
		Health: HealthConfig{
			Path:     constants.HealthPath,
			Interval: Duration{constants.HealthInterval},
			Attempts: constants.HealthAttempts,
			Timeout:  Duration{constants.HealthProbeTimeout},
		},
		Shutdown: ShutdownConfig{
			GracefulTimeout: Duration{constants.GracefulShutdownTimeout},
			PollInterval:    Duration{constants.ShutdownPollInterval},
			ForceTimeout:    Duration{constants.ForceKillTimeout},
		},
		Reaper: ReaperConfig{
			Grace:   Duration{constants.ReaperGrace},
			Pattern: constants.WorkerName,
		},
		Stage: StageConfig{
			Fingerprint: constants.FingerprintSize,
			SupportDir:  constants.SupportDirName,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultPath returns <UserConfigDir>/sidecar/sidecar.toml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, constants.AppName, FileName), nil
}

// Load reads configuration from path. An empty path means DefaultPath, which
// may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err == nil {
			path = p
		}
	}

	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return err
		}
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return fmt.Errorf("parsing %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// applyEnv overlays SIDECAR_* variables.
func (c *Config) applyEnv() error {
	c.Worker.Name = envOr("SIDECAR_WORKER_NAME", c.Worker.Name)
	c.Worker.Executable = envOr("SIDECAR_WORKER_EXECUTABLE", c.Worker.Executable)
	c.Worker.ResourceDir = envOr("SIDECAR_RESOURCE_DIR", c.Worker.ResourceDir)
	c.Stage.CacheDir = envOr("SIDECAR_CACHE_DIR", c.Stage.CacheDir)
	c.Stage.Fingerprint = envOr("SIDECAR_FINGERPRINT", c.Stage.Fingerprint)
	c.Log.Level = envOr("SIDECAR_LOG_LEVEL", c.Log.Level)
	c.Log.File = envOr("SIDECAR_LOG_FILE", c.Log.File)

	var err error
	if c.Health.Attempts, err = envIntOr("SIDECAR_HEALTH_ATTEMPTS", c.Health.Attempts); err != nil {
		return err
	}
	if c.Health.Interval.Duration, err = envDurationOr("SIDECAR_HEALTH_INTERVAL", c.Health.Interval.Duration); err != nil {
		return err
	}
	if c.Shutdown.GracefulTimeout.Duration, err = envDurationOr("SIDECAR_GRACEFUL_TIMEOUT", c.Shutdown.GracefulTimeout.Duration); err != nil {
		return err
	}
	return nil
}

// Validate rejects settings the supervisor cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Worker.Name) == "" {
		problems = append(problems, "worker.name must not be empty")
	}
	if !strings.HasPrefix(c.Health.Path, "/") {
		problems = append(problems, "health.path must start with /")
	}
	if c.Health.Attempts <= 0 {
		problems = append(problems, "health.attempts must be positive")
	}
	durations := []struct {
		key string
		d   Duration
	}{
		{"health.interval", c.Health.Interval},
		{"health.timeout", c.Health.Timeout},
		{"shutdown.graceful_timeout", c.Shutdown.GracefulTimeout},
		{"shutdown.poll_interval", c.Shutdown.PollInterval},
		{"shutdown.force_timeout", c.Shutdown.ForceTimeout},
		{"reaper.grace", c.Reaper.Grace},
	}
	for _, d := range durations {
		if d.d.Duration <= 0 {
			problems = append(problems, d.key+" must be positive")
		}
	}
	if c.Shutdown.PollInterval.Duration > c.Shutdown.GracefulTimeout.Duration {
		problems = append(problems, "shutdown.poll_interval must not exceed shutdown.graceful_timeout")
	}
	if strings.TrimSpace(c.Reaper.Pattern) == "" {
		problems = append(problems, "reaper.pattern must not be empty")
	}
	if !slices.Contains(constants.FingerprintModes(), c.Stage.Fingerprint) {
		problems = append(problems, fmt.Sprintf("stage.fingerprint must be one of %s", strings.Join(constants.FingerprintModes(), ", ")))
	}
	if c.Stage.SupportDir == "" || filepath.Base(c.Stage.SupportDir) != c.Stage.SupportDir {
		problems = append(problems, "stage.support_dir must be a plain directory name")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, "log.level must be debug, info, warn or error")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		problems = append(problems, "log.format must be console or json")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ResolveResourceDir returns Worker.ResourceDir, defaulting to the directory
// of the running executable.
func (c *Config) ResolveResourceDir() (string, error) {
	if c.Worker.ResourceDir != "" {
		return filepath.Abs(c.Worker.ResourceDir)
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

// ResolvePath resolves p against the resource directory unless it is absolute.
func ResolvePath(resourceDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(resourceDir, p)
}

// Write encodes the configuration as TOML.
func (c *Config) Write(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDurationOr(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
