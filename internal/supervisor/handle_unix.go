//go:build !windows

package supervisor

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// terminate sends SIGTERM, which the worker may honor or ignore.
func terminate(p *os.Process) error {
	return p.Signal(unix.SIGTERM)
}

// exitSignal names the signal that killed the process, if any.
func exitSignal(ps *os.ProcessState) string {
	if ps == nil {
		return ""
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return unix.SignalName(ws.Signal())
	}
	return ""
}
