// Package constants defines shared names, paths and timing defaults for the
// sidecar supervisor.
package constants

import "time"

// Worker identity.
const (
	// WorkerName is the default worker binary name and the kill-by-name pattern.
	WorkerName = "provisioning-station"

	// WorkerBinary is the executable name inside a packaged bundle.
	WorkerBinary = "provisioning-station-bin"

	// SupportDirName is the bundle's internal-support directory. Its presence
	// next to the worker binary marks a packaged distribution.
	SupportDirName = "_internal"

	// LoopbackHost is the only interface the worker is allowed to bind.
	LoopbackHost = "127.0.0.1"

	// HealthPath is the worker's readiness endpoint.
	HealthPath = "/api/health"

	// AppName names the per-user config and data directories.
	AppName = "sidecar"

	// InstanceIDEnv carries the launch's instance ID into the worker environment.
	InstanceIDEnv = "SIDECAR_INSTANCE_ID"
)

// Port allocation.
const (
	// PortAttempts bounds verified-hint attempts before falling back to port 0.
	PortAttempts = 10
)

// Timing defaults. Each one can be overridden through config.
const (
	// HealthInterval is the fixed delay between readiness probes.
	HealthInterval = 500 * time.Millisecond

	// HealthAttempts bounds the readiness probes (~30s with HealthInterval).
	// Sized for first-run extraction and antivirus scans.
	HealthAttempts = 60

	// HealthProbeTimeout bounds a single readiness request.
	HealthProbeTimeout = 2 * time.Second

	// GracefulShutdownTimeout is how long the coordinator waits after the
	// graceful signal before escalating.
	GracefulShutdownTimeout = 5 * time.Second

	// ShutdownPollInterval is the exit polling cadence during shutdown.
	ShutdownPollInterval = 100 * time.Millisecond

	// ForceKillTimeout is how long to wait for a forced kill to land.
	ForceKillTimeout = 1 * time.Second

	// ReaperGrace is the pause between graceful and forced kill of a stale instance.
	ReaperGrace = 500 * time.Millisecond

	// WatchDebounce collapses bursts of writes to a rebuilt worker binary.
	WatchDebounce = 500 * time.Millisecond
)

// Fingerprint modes for the artifact cache.
const (
	FingerprintSize   = "size"
	FingerprintXXHash = "xxhash"
)

// FingerprintModes lists the supported cache fingerprint modes.
func FingerprintModes() []string {
	return []string{FingerprintSize, FingerprintXXHash}
}
