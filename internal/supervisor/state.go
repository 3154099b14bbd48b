package supervisor

import (
	"sync"
	"sync/atomic"
	"time"
)

// Phase is the shutdown coordinator's state.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseShuttingDown
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseShuttingDown:
		return "shutting-down"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// ExitStatus describes how a worker exited. It is informational only.
type ExitStatus struct {
	PID    int
	Code   int
	Signal string
	Err    error
	At     time.Time
}

// State is the supervisor's shared state. Flags, port and pid are atomics;
// the process handle and last exit status are guarded by mu.
//
// A non-zero pid was the Launcher's own child when it was stored. It may have
// exited since, so liveness is re-checked before acting on it.
type State struct {
	started atomic.Bool
	port    atomic.Uint32
	pid     atomic.Int64
	phase   atomic.Int32

	mu       sync.Mutex
	handle   *Handle
	lastExit *ExitStatus
}

// Started reports whether a worker is currently marked running.
func (s *State) Started() bool { return s.started.Load() }

// Port returns the backend port, or 0 before one is assigned.
func (s *State) Port() uint16 { return uint16(s.port.Load()) } //nolint:gosec // G115: stored from a uint16

// PID returns the recorded worker pid, or 0.
func (s *State) PID() int { return int(s.pid.Load()) }

// Phase returns the shutdown phase.
func (s *State) Phase() Phase { return Phase(s.phase.Load()) }

// LastExit returns the most recent worker exit, if any.
func (s *State) LastExit() (ExitStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastExit == nil {
		return ExitStatus{}, false
	}
	return *s.lastExit, true
}

func (s *State) setPort(p uint16) { s.port.Store(uint32(p)) }

// recordLaunch stores a freshly spawned worker.
func (s *State) recordLaunch(h *Handle) {
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
	s.pid.Store(int64(h.PID()))
	s.started.Store(true)
}

// TakeHandle removes and returns the process handle so it is used at most once.
func (s *State) TakeHandle() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.handle
	s.handle = nil
	return h
}

// takePID atomically reads and zeroes the pid.
func (s *State) takePID() int {
	return int(s.pid.Swap(0))
}

// recordExit is called by the exit watcher of the worker with pid. It only
// clears state that still belongs to that worker.
func (s *State) recordExit(st ExitStatus) {
	s.mu.Lock()
	if s.handle != nil && s.handle.PID() == st.PID {
		s.handle = nil
	}
	s.lastExit = &st
	s.mu.Unlock()

	if s.pid.CompareAndSwap(int64(st.PID), 0) {
		s.started.Store(false)
	}
}

// enterShutdown moves Idle to ShuttingDown. Only the first caller wins.
func (s *State) enterShutdown() bool {
	return s.phase.CompareAndSwap(int32(PhaseIdle), int32(PhaseShuttingDown))
}

// finishShutdown leaves the state clean and marks the coordinator done.
func (s *State) finishShutdown() {
	s.started.Store(false)
	s.pid.Store(0)
	s.mu.Lock()
	s.handle = nil
	s.mu.Unlock()
	s.phase.Store(int32(PhaseDone))
}
