// Package health polls the worker's readiness endpoint.
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/sidecar/internal/constants"
	"github.com/steveyegge/sidecar/internal/util"
)

// ErrTimedOut is returned by Await when the attempt budget runs out.
var ErrTimedOut = errors.New("worker did not become healthy in time")

// Budget bounds Await: Attempts probes spaced Interval apart.
type Budget struct {
	Interval time.Duration
	Attempts int
}

// DefaultBudget is 60 probes every 500ms, about 30s.
func DefaultBudget() Budget {
	return Budget{Interval: constants.HealthInterval, Attempts: constants.HealthAttempts}
}

// Total is the longest Await can wait between probes.
func (b Budget) Total() time.Duration {
	return time.Duration(b.Attempts) * b.Interval
}

// Checker probes http://<Host>:<port><Path>.
type Checker struct {
	Host   string
	Path   string
	Client *http.Client

	// OnAttempt, if set, is called after every probe with its result.
	OnAttempt func(attempt int, err error)

	// Precheck, if set, runs before every probe. A non-nil error ends Await
	// immediately with that error, e.g. when the worker has already exited.
	Precheck func() error

	log *zap.Logger
}

// NewChecker returns a Checker for the worker's default endpoint.
func NewChecker(log *zap.Logger) *Checker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Checker{
		Host:   constants.LoopbackHost,
		Path:   constants.HealthPath,
		Client: &http.Client{Timeout: constants.HealthProbeTimeout},
		log:    log,
	}
}

// URL returns the health endpoint for port.
func (c *Checker) URL(port uint16) string {
	return "http://" + net.JoinHostPort(c.Host, strconv.Itoa(int(port))) + c.Path
}

// Probe issues one GET. Any 2xx is ready; every other outcome, including a
// refused connection, is returned as a not-ready error.
func (c *Checker) Probe(ctx context.Context, port uint16) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(port), nil)
	if err != nil {
		return util.MarkPermanent(err)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health endpoint returned %s", resp.Status)
	}
	return nil
}

// Await probes until the worker is ready or the budget is exhausted, in which
// case it returns an error wrapping ErrTimedOut. A cancelled ctx stops early
// with ctx.Err().
func (c *Checker) Await(ctx context.Context, port uint16, b Budget) error {
	if b.Attempts <= 0 || b.Interval <= 0 {
		b = DefaultBudget()
	}

	attempt := 0
	cfg := util.PollConfig(b.Attempts, b.Interval)
	_, err := util.Retry(ctx, cfg, func() (struct{}, error) {
		attempt++
		if c.Precheck != nil {
			if err := c.Precheck(); err != nil {
				return struct{}{}, util.MarkPermanent(err)
			}
		}
		err := c.Probe(ctx, port)
		if c.OnAttempt != nil {
			c.OnAttempt(attempt, err)
		}
		if err != nil && attempt%5 == 0 {
			c.log.Info("waiting for worker to become healthy", zap.Int("attempt", attempt), zap.Error(err))
		}
		return struct{}{}, err
	})

	switch {
	case err == nil:
		c.log.Info("worker is healthy", zap.Uint16("port", port), zap.Int("attempt", attempt))
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case util.IsPermanent(err):
		var perm *util.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return err
	default:
		return fmt.Errorf("%w after %d attempts: %v", ErrTimedOut, attempt, err)
	}
}
