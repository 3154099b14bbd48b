// Package proc provides the process primitives the supervisor builds on:
// liveness checks, child discovery, graceful and forced termination, and
// name-based sweeps. Each OS family has its own implementation behind the
// Inspector interface so callers stay platform-agnostic.
package proc

import (
	"os"
	"slices"
)

// Inspector is the set of process primitives used by the reaper and the
// shutdown coordinator.
type Inspector interface {
	// IsRunning reports whether pid names a live process the caller can inspect.
	IsRunning(pid int) bool

	// ChildPIDs returns the direct children of pid at the moment of the call.
	// It is best-effort and may return nil where discovery is unsupported.
	ChildPIDs(pid int) []int

	// SendGraceful asks pid, and its children that can be discovered now,
	// to terminate cooperatively. It reports whether pid was signalled.
	SendGraceful(pid int) bool

	// SendForceful terminates pid and its tree unconditionally.
	SendForceful(pid int) bool

	// FindByName returns PIDs of processes whose command line or image name
	// matches pattern. The calling process is never included.
	FindByName(pattern string) []int

	// KillByName force-kills every FindByName match and returns how many
	// were signalled.
	KillByName(pattern string) int
}

// New returns the Inspector for the current platform.
func New() Inspector {
	return &system{self: os.Getpid()}
}

// killMatches force-kills each pid in matches using in and counts successes.
func killMatches(in Inspector, matches []int) int {
	n := 0
	for _, pid := range matches {
		if in.SendForceful(pid) {
			n++
		}
	}
	return n
}

// withoutPID drops self from pids.
func withoutPID(pids []int, self int) []int {
	return slices.DeleteFunc(pids, func(p int) bool { return p == self || p <= 0 })
}
