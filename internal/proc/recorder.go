package proc

import (
	"sync"
)

// Recorder is an in-memory Inspector for tests. It keeps a table of fake
// processes and logs every call so tests can assert on escalation order.
type Recorder struct {
	mu       sync.Mutex
	running  map[int]bool
	children map[int][]int
	named    map[string][]int
	stubborn map[int]bool
	immortal map[int]bool
	calls    []Call
}

// Call is one recorded Inspector invocation.
type Call struct {
	Op      string
	PID     int
	Pattern string
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		running:  make(map[int]bool),
		children: make(map[int][]int),
		named:    make(map[string][]int),
		stubborn: make(map[int]bool),
		immortal: make(map[int]bool),
	}
}

// Spawn adds a live fake process with the given parent (0 for none) and name.
func (r *Recorder) Spawn(pid, parent int, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running[pid] = true
	if parent != 0 {
		r.children[parent] = append(r.children[parent], pid)
	}
	if name != "" {
		r.named[name] = append(r.named[name], pid)
	}
}

// IgnoreGraceful makes pid survive SendGraceful.
func (r *Recorder) IgnoreGraceful(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stubborn[pid] = true
}

// Unkillable makes pid survive both SendGraceful and SendForceful. Only
// KillByName stops it.
func (r *Recorder) Unkillable(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stubborn[pid] = true
	r.immortal[pid] = true
}

// Exit marks pid as no longer running.
func (r *Recorder) Exit(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running[pid] = false
}

// Calls returns a copy of the call log.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Count returns how many times op was called.
func (r *Recorder) Count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (r *Recorder) record(c Call) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
}

func (r *Recorder) IsRunning(pid int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running[pid]
}

func (r *Recorder) ChildPIDs(pid int) []int {
	r.record(Call{Op: "ChildPIDs", PID: pid})
	r.mu.Lock()
	defer r.mu.Unlock()
	var live []int
	for _, c := range r.children[pid] {
		if r.running[c] {
			live = append(live, c)
		}
	}
	return live
}

func (r *Recorder) SendGraceful(pid int) bool {
	r.record(Call{Op: "SendGraceful", PID: pid})
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running[pid] {
		return false
	}
	if !r.stubborn[pid] {
		r.running[pid] = false
	}
	return true
}

func (r *Recorder) SendForceful(pid int) bool {
	r.record(Call{Op: "SendForceful", PID: pid})
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running[pid] {
		return false
	}
	if !r.immortal[pid] {
		r.running[pid] = false
	}
	return true
}

func (r *Recorder) FindByName(pattern string) []int {
	r.record(Call{Op: "FindByName", Pattern: pattern})
	r.mu.Lock()
	defer r.mu.Unlock()
	var live []int
	for _, pid := range r.named[pattern] {
		if r.running[pid] {
			live = append(live, pid)
		}
	}
	return live
}

func (r *Recorder) KillByName(pattern string) int {
	r.record(Call{Op: "KillByName", Pattern: pattern})
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, pid := range r.named[pattern] {
		if r.running[pid] {
			r.running[pid] = false
			n++
		}
	}
	return n
}

var _ Inspector = (*Recorder)(nil)
