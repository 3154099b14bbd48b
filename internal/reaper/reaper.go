// Package reaper removes worker instances left behind by earlier runs.
package reaper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/sidecar/internal/constants"
	"github.com/steveyegge/sidecar/internal/proc"
)

// Reaper finds stale workers by name and terminates them, gracefully first.
type Reaper struct {
	inspector proc.Inspector
	pattern   string
	grace     time.Duration
	log       *zap.Logger
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithGrace sets the pause between the graceful and the forced kill.
func WithGrace(d time.Duration) Option {
	return func(r *Reaper) { r.grace = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reaper) { r.log = l }
}

// New returns a Reaper matching pattern (the worker name when empty).
func New(in proc.Inspector, pattern string, opts ...Option) *Reaper {
	if pattern == "" {
		pattern = constants.WorkerName
	}
	r := &Reaper{
		inspector: in,
		pattern:   pattern,
		grace:     constants.ReaperGrace,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Pattern returns the name pattern the reaper sweeps for.
func (r *Reaper) Pattern() string {
	return r.pattern
}

// Cleanup terminates every running process matching the pattern and returns
// how many were found. A non-zero count is expected after a crash or a
// force-quit and is not an error.
//
// All matches get the graceful signal, then one shared grace period, then
// survivors are force-killed. A cancelled ctx cuts the grace period short but
// never skips the forced kill.
func (r *Reaper) Cleanup(ctx context.Context) int {
	stale := r.inspector.FindByName(r.pattern)
	if len(stale) == 0 {
		return 0
	}

	r.log.Info("found stale worker instances", zap.String("pattern", r.pattern), zap.Ints("pids", stale))
	for _, pid := range stale {
		if !r.inspector.SendGraceful(pid) {
			r.log.Debug("graceful signal not delivered", zap.Int("pid", pid))
		}
	}

	timer := time.NewTimer(r.grace)
	select {
	case <-ctx.Done():
		timer.Stop()
	case <-timer.C:
	}

	for _, pid := range stale {
		if !r.inspector.IsRunning(pid) {
			continue
		}
		if r.inspector.SendForceful(pid) {
			r.log.Warn("force-killed stale worker", zap.Int("pid", pid))
		} else {
			r.log.Warn("failed to kill stale worker", zap.Int("pid", pid))
		}
	}

	return len(stale)
}
