package supervisor

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/steveyegge/sidecar/supervisor"

// supervisorMetrics holds OTel instruments for one Supervisor.
// All methods are nil-safe so callers don't need to guard against disabled telemetry.
type supervisorMetrics struct {
	// reaped counts stale worker instances found by the reaper.
	reaped metric.Int64Counter

	// shutdowns counts coordinator runs, labeled by outcome.
	shutdowns metric.Int64Counter

	// healthAttempts counts readiness probes.
	healthAttempts metric.Int64Counter

	// exits counts worker exits, labeled by exit code.
	exits metric.Int64Counter
}

// newSupervisorMetrics registers instruments against the global
// MeterProvider. up reports whether a worker is running for the
// sidecar.worker.up gauge.
func newSupervisorMetrics(up func() bool) (*supervisorMetrics, error) {
	m := otel.GetMeterProvider().Meter(meterName)
	sm := &supervisorMetrics{}

	var err error

	sm.reaped, err = m.Int64Counter("sidecar.reaper.cleaned",
		metric.WithDescription("Stale worker instances terminated before launch"),
	)
	if err != nil {
		return nil, err
	}

	sm.shutdowns, err = m.Int64Counter("sidecar.shutdown",
		metric.WithDescription("Shutdown coordinator runs by outcome"),
	)
	if err != nil {
		return nil, err
	}

	sm.healthAttempts, err = m.Int64Counter("sidecar.health.attempts",
		metric.WithDescription("Worker readiness probes issued"),
	)
	if err != nil {
		return nil, err
	}

	sm.exits, err = m.Int64Counter("sidecar.worker.exits",
		metric.WithDescription("Worker process exits by exit code"),
	)
	if err != nil {
		return nil, err
	}

	_, err = m.Int64ObservableGauge("sidecar.worker.up",
		metric.WithDescription("Worker running (1) or not (0)"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			var v int64
			if up() {
				v = 1
			}
			o.Observe(v)
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return sm, nil
}

func (sm *supervisorMetrics) recordReaped(ctx context.Context, n int) {
	if sm == nil || n == 0 {
		return
	}
	sm.reaped.Add(ctx, int64(n))
}

func (sm *supervisorMetrics) recordShutdown(ctx context.Context, result Result) {
	if sm == nil {
		return
	}
	sm.shutdowns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", string(result))),
	)
}

func (sm *supervisorMetrics) recordHealthAttempt(ctx context.Context, ok bool) {
	if sm == nil {
		return
	}
	sm.healthAttempts.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("ready", ok)),
	)
}

func (sm *supervisorMetrics) recordExit(ctx context.Context, code int) {
	if sm == nil {
		return
	}
	sm.exits.Add(ctx, 1,
		metric.WithAttributes(attribute.String("code", strconv.Itoa(code))),
	)
}
