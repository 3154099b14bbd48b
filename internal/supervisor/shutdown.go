package supervisor

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Result names the step that concluded a shutdown.
type Result string

const (
	// ResultSkipped: another caller already ran the coordinator.
	ResultSkipped Result = "skipped"
	// ResultNotStarted: no pid was recorded; only the name sweep ran.
	ResultNotStarted Result = "not-started"
	// ResultAlreadyExited: the worker was gone; leftover children were killed.
	ResultAlreadyExited Result = "already-exited"
	// ResultGraceful: the tree exited after the graceful signal.
	ResultGraceful Result = "graceful"
	// ResultForced: the tree exited after the forced kill.
	ResultForced Result = "forced"
	// ResultSwept: something survived the forced kill; the name sweep ran.
	ResultSwept Result = "swept"
)

// Outcome reports what the coordinator did. It is informational: shutdown
// never fails, it only escalates.
type Outcome struct {
	// Ran is false for callers that arrived after shutdown had begun.
	Ran      bool
	Graceful bool
	Result   Result
	PID      int
	Children []int
	// Swept counts processes killed by name.
	Swept   int
	Elapsed time.Duration
}

// RequestShutdown is the shell-facing trigger. It is safe to call from any
// number of goroutines; see Shutdown.
func (s *Supervisor) RequestShutdown() Outcome {
	return s.Shutdown()
}

// Shutdown stops the worker and its children, escalating from the graceful
// signal to a forced kill to a kill-by-name sweep. The body runs exactly
// once; concurrent and later callers return immediately with Ran false.
// The first caller blocks until the tree is gone or every step is spent.
func (s *Supervisor) Shutdown() Outcome {
	if !s.state.enterShutdown() {
		return Outcome{Result: ResultSkipped}
	}

	start := time.Now()
	out := s.shutdown()
	out.Ran = true
	out.Elapsed = time.Since(start)

	s.state.finishShutdown()
	s.metrics.recordShutdown(context.Background(), out.Result)

	s.log.Named("shutdown").Info("worker shutdown complete",
		zap.String("result", string(out.Result)),
		zap.Bool("graceful", out.Graceful),
		zap.Int("pid", out.PID),
		zap.Ints("children", out.Children),
		zap.Int("swept", out.Swept),
		zap.Duration("elapsed", out.Elapsed))
	return out
}

func (s *Supervisor) shutdown() Outcome {
	log := s.log.Named("shutdown")
	in := s.opts.Inspector

	pid := s.state.takePID()
	if pid == 0 {
		// Nothing recorded, or the worker already reported its exit.
		n := in.KillByName(s.opts.SweepPattern)
		return Outcome{Graceful: true, Result: ResultNotStarted, Swept: n}
	}

	// Children are found by parent pid, which stops working once the
	// parent is gone. Snapshot them before any signal.
	children := in.ChildPIDs(pid)
	out := Outcome{PID: pid, Children: children}

	if !in.IsRunning(pid) {
		for _, c := range children {
			if in.IsRunning(c) && !in.SendForceful(c) {
				log.Warn("failed to kill orphaned child", zap.Int("pid", c))
			}
		}
		out.Graceful, out.Result = true, ResultAlreadyExited
		return out
	}

	if h := s.state.TakeHandle(); h != nil {
		if err := h.Terminate(); err != nil {
			log.Debug("handle terminate failed", zap.Int("pid", pid), zap.Error(err))
		}
	}
	if !in.SendGraceful(pid) {
		log.Debug("graceful signal not delivered", zap.Int("pid", pid))
	}
	for _, c := range children {
		in.SendGraceful(c)
	}

	tree := append([]int{pid}, children...)
	if s.waitExited(tree, s.opts.GracefulTimeout) {
		out.Graceful, out.Result = true, ResultGraceful
		return out
	}

	log.Warn("worker ignored graceful shutdown, force-killing",
		zap.Int("pid", pid),
		zap.Duration("timeout", s.opts.GracefulTimeout))
	for _, c := range children {
		in.SendForceful(c)
	}
	in.SendForceful(pid)

	if s.waitExited(tree, s.opts.ForceTimeout) {
		out.Result = ResultForced
		return out
	}

	log.Warn("processes survived forced kill, sweeping by name", zap.String("pattern", s.opts.SweepPattern))
	out.Swept = in.KillByName(s.opts.SweepPattern)
	out.Result = ResultSwept
	return out
}

// waitExited polls until none of pids is running or timeout elapses.
func (s *Supervisor) waitExited(pids []int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !s.anyRunning(pids) {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		time.Sleep(min(s.opts.PollInterval, remaining))
	}
}

func (s *Supervisor) anyRunning(pids []int) bool {
	for _, p := range pids {
		if s.opts.Inspector.IsRunning(p) {
			return true
		}
	}
	return false
}

// ExitHook is the last line of defense at process exit. If a worker pid is
// still recorded, which means Shutdown never ran to completion, the tree is
// force-killed without waiting. It reports whether anything was recorded.
func (s *Supervisor) ExitHook() bool {
	pid := s.state.takePID()
	if pid == 0 {
		return false
	}
	in := s.opts.Inspector
	s.log.Warn("worker still recorded at exit, force-killing", zap.Int("pid", pid))
	for _, c := range in.ChildPIDs(pid) {
		in.SendForceful(c)
	}
	in.SendForceful(pid)
	in.KillByName(s.opts.SweepPattern)
	s.state.started.Store(false)
	return true
}
