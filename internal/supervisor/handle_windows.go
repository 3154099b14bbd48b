//go:build windows

package supervisor

import (
	"os"
)

// terminate kills the process: Windows has no cooperative signal for a
// console-less child, so the graceful path relies on taskkill without /F.
func terminate(p *os.Process) error {
	return p.Kill()
}

func exitSignal(*os.ProcessState) string {
	return ""
}
