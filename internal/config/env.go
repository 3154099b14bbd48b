package config

import (
	"os"
	"sort"
	"strconv"

	"github.com/steveyegge/sidecar/internal/constants"
)

// WorkerEnvConfig specifies the environment handed to one worker launch.
type WorkerEnvConfig struct {
	// InstanceID correlates supervisor and worker logs for a single launch.
	InstanceID string

	// Port is the port the worker was told to bind.
	Port uint16

	// Extra comes from [worker.env] and wins over generated values.
	Extra map[string]string
}

// WorkerEnv returns the variables the supervisor adds for a worker launch.
func WorkerEnv(cfg WorkerEnvConfig) map[string]string {
	env := map[string]string{
		// Python bundles buffer stdout when it is a pipe; lines would only
		// reach the log at exit.
		"PYTHONUNBUFFERED": "1",
	}
	if cfg.InstanceID != "" {
		env[constants.InstanceIDEnv] = cfg.InstanceID
	}
	if cfg.Port != 0 {
		env["SIDECAR_PORT"] = strconv.Itoa(int(cfg.Port))
	}
	return MergeEnv(env, cfg.Extra)
}

// MergeEnv merges multiple environment maps, with later maps taking precedence.
func MergeEnv(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// EnvForExecCommand returns os.Environ() with env appended in key order.
// Appended entries win because exec uses the last value for a duplicate key.
func EnvForExecCommand(env map[string]string) []string {
	return append(os.Environ(), EnvToSlice(env)...)
}

// EnvToSlice converts an env map to a sorted slice of "K=V" strings.
func EnvToSlice(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([]string, 0, len(env))
	for _, k := range keys {
		result = append(result, k+"="+env[k])
	}
	return result
}
