// Package port picks a loopback TCP port the worker can bind.
package port

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/steveyegge/sidecar/internal/constants"
)

// ErrNoPort is returned when not even an OS-assigned port can be bound.
// Callers treat it as a fatal startup error.
var ErrNoPort = errors.New("no loopback port available")

// HintFunc proposes a candidate port. The candidate is not trusted until it
// has been verified by binding it.
type HintFunc func() (uint16, error)

// Allocate returns a verified loopback port using the OS as the hint source.
func Allocate() (uint16, error) {
	return AllocateWith(OSHint)
}

// AllocateWith asks hint for candidates and verifies each by binding it.
// After constants.PortAttempts failed candidates it binds port 0 and returns
// whatever the kernel assigned.
func AllocateWith(hint HintFunc) (uint16, error) {
	for attempt := 0; attempt < constants.PortAttempts; attempt++ {
		candidate, err := hint()
		if err != nil || candidate == 0 {
			continue
		}
		if IsBindable(candidate) {
			return candidate, nil
		}
	}

	p, err := OSHint()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoPort, err)
	}
	return p, nil
}

// OSHint binds 127.0.0.1:0, reads back the assigned port and releases it.
func OSHint() (uint16, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(constants.LoopbackHost, "0"))
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address %T", ln.Addr())
	}
	return uint16(addr.Port), nil //nolint:gosec // G115: TCP ports fit in uint16
}

// IsBindable reports whether a listener can be opened on 127.0.0.1:p right now.
func IsBindable(p uint16) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort(constants.LoopbackHost, strconv.Itoa(int(p))))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
