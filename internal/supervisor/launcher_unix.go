//go:build !windows

package supervisor

import "os/exec"

// configureCmd leaves the worker in the supervisor's process group so a
// terminal Ctrl-C reaches it too.
func configureCmd(*exec.Cmd) {}
