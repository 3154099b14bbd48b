package supervisor

import (
	"os"
)

// Handle is the capability to terminate the exact process the Launcher
// spawned, independent of pid reuse.
type Handle struct {
	proc *os.Process
}

func newHandle(p *os.Process) *Handle {
	return &Handle{proc: p}
}

// PID returns the process id.
func (h *Handle) PID() int {
	return h.proc.Pid
}

// Terminate asks the process to stop. See terminate for the per-OS signal.
func (h *Handle) Terminate() error {
	return terminate(h.proc)
}
