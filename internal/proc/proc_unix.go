//go:build !windows

package proc

import (
	"errors"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/steveyegge/sidecar/internal/util"
)

type system struct {
	self int
}

// IsRunning uses signal 0: nil or EPERM both mean the pid exists.
// Zombies are reported as not running.
func (s *system) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err != nil && !errors.Is(err, unix.EPERM) {
		return false
	}
	return !isZombie(pid)
}

func (s *system) ChildPIDs(pid int) []int {
	if pid <= 0 {
		return nil
	}
	return withoutPID(childPIDs(pid), s.self)
}

func (s *system) SendGraceful(pid int) bool {
	return s.signalTree(pid, unix.SIGTERM)
}

func (s *system) SendForceful(pid int) bool {
	return s.signalTree(pid, unix.SIGKILL)
}

// signalTree signals the current children first so they are found while
// they still have pid as their parent.
func (s *system) signalTree(pid int, sig unix.Signal) bool {
	if pid <= 0 || pid == s.self {
		return false
	}
	for _, child := range s.ChildPIDs(pid) {
		_ = unix.Kill(child, sig)
	}
	return unix.Kill(pid, sig) == nil
}

// FindByName matches against full command lines with pgrep -f.
func (s *system) FindByName(pattern string) []int {
	if pattern == "" {
		return nil
	}
	out, err := util.ExecWithOutput("", "pgrep", "-f", pattern)
	if err != nil {
		// pgrep exits 1 when nothing matched.
		return nil
	}
	return withoutPID(parsePIDs(out), s.self)
}

func (s *system) KillByName(pattern string) int {
	return killMatches(s, s.FindByName(pattern))
}

// parsePIDs parses whitespace-separated PIDs, skipping anything else.
func parsePIDs(out string) []int {
	var pids []int
	for _, field := range strings.Fields(out) {
		pid, err := strconv.Atoi(field)
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}
