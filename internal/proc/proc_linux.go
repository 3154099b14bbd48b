//go:build linux

package proc

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/c9s/goprocinfo/linux"
)

const procRoot = "/proc"

// childPIDs scans /proc/<pid>/stat for processes whose parent is pid.
func childPIDs(pid int) []int {
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return nil
	}
	var children []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		stat, err := readStat(candidate)
		if err != nil {
			// Exited between ReadDir and the read.
			continue
		}
		if int(stat.Ppid) == pid {
			children = append(children, candidate)
		}
	}
	return children
}

// isZombie reports whether pid has exited but not yet been reaped. Signal 0
// still succeeds for zombies, which would otherwise look alive.
func isZombie(pid int) bool {
	stat, err := readStat(pid)
	if err != nil {
		return false
	}
	return strings.HasPrefix(stat.State, "Z") || strings.HasPrefix(stat.State, "X")
}

func readStat(pid int) (*linux.ProcessStat, error) {
	return linux.ReadProcessStat(filepath.Join(procRoot, strconv.Itoa(pid), "stat"))
}
