//go:build !windows && !linux

package proc

import (
	"strconv"

	"github.com/steveyegge/sidecar/internal/util"
)

// childPIDs asks pgrep for direct children; there is no /proc to scan.
func childPIDs(pid int) []int {
	out, err := util.ExecWithOutput("", "pgrep", "-P", strconv.Itoa(pid))
	if err != nil {
		return nil
	}
	return parsePIDs(out)
}

// isZombie is not detected here; signal 0 alone decides liveness.
func isZombie(int) bool {
	return false
}
