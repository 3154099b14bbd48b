//go:build windows

package proc

import (
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/steveyegge/sidecar/internal/util"
)

// stillActive is the exit code GetExitCodeProcess reports for a live process.
const stillActive = 259

type system struct {
	self int
}

func (s *system) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid)) //nolint:gosec // G115: pid fits in uint32
	if err != nil {
		// The process exists but belongs to someone we cannot inspect.
		return errors.Is(err, windows.ERROR_ACCESS_DENIED)
	}
	defer windows.CloseHandle(h) //nolint:errcheck
	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == stillActive
}

func (s *system) ChildPIDs(pid int) []int {
	if pid <= 0 {
		return nil
	}
	var children []int
	_ = walkProcesses(func(e *windows.ProcessEntry32) {
		if int(e.ParentProcessID) == pid {
			children = append(children, int(e.ProcessID))
		}
	})
	return withoutPID(children, s.self)
}

// SendGraceful asks taskkill to close the tree without /F.
func (s *system) SendGraceful(pid int) bool {
	if pid <= 0 || pid == s.self {
		return false
	}
	return util.ExecRun("", "taskkill", "/PID", strconv.Itoa(pid), "/T") == nil
}

func (s *system) SendForceful(pid int) bool {
	if pid <= 0 || pid == s.self {
		return false
	}
	return util.ExecRun("", "taskkill", "/F", "/T", "/PID", strconv.Itoa(pid)) == nil
}

// FindByName matches pattern against image names, ignoring case and ".exe".
func (s *system) FindByName(pattern string) []int {
	if pattern == "" {
		return nil
	}
	want := strings.ToLower(pattern)
	var pids []int
	_ = walkProcesses(func(e *windows.ProcessEntry32) {
		image := strings.ToLower(windows.UTF16ToString(e.ExeFile[:]))
		image = strings.TrimSuffix(image, filepath.Ext(image))
		if strings.Contains(image, want) {
			pids = append(pids, int(e.ProcessID))
		}
	})
	return withoutPID(pids, s.self)
}

func (s *system) KillByName(pattern string) int {
	return killMatches(s, s.FindByName(pattern))
}

// walkProcesses calls fn for every entry of a Toolhelp32 process snapshot.
func walkProcesses(fn func(*windows.ProcessEntry32)) error {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return err
	}
	defer windows.CloseHandle(snap) //nolint:errcheck

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	if err := windows.Process32First(snap, &entry); err != nil {
		return err
	}
	for {
		fn(&entry)
		if err := windows.Process32Next(snap, &entry); err != nil {
			if errors.Is(err, windows.ERROR_NO_MORE_FILES) {
				return nil
			}
			return err
		}
	}
}
