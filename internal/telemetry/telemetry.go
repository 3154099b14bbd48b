// Package telemetry initializes the OpenTelemetry metric provider.
//
// Metrics are pushed over OTLP HTTP when SIDECAR_OTEL_METRICS_URL is set.
// Without it the global no-op provider stays in place and every instrument
// is free.
//
// Telemetry is best-effort: initialization errors are returned but callers
// should log and continue.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	// EnvMetricsURL is the env var for the OTLP HTTP metrics endpoint.
	EnvMetricsURL = "SIDECAR_OTEL_METRICS_URL"

	// ExportInterval is how often metrics are pushed.
	ExportInterval = 15 * time.Second
)

var (
	initMu         sync.Mutex
	initDone       bool
	globalProvider *Provider
)

// Provider wraps the SDK meter provider's shutdown.
type Provider struct {
	shutdown     func(context.Context) error
	shutdownMu   sync.Mutex
	shutdownDone bool
}

// Shutdown flushes pending metrics. Safe to call more than once and on a nil
// Provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.shutdownMu.Lock()
	defer p.shutdownMu.Unlock()
	if p.shutdownDone {
		return nil
	}
	p.shutdownDone = true
	if err := p.shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry shutdown: %w", err)
	}
	return nil
}

// Init installs an OTLP meter provider as the global provider.
//
// Returns (nil, nil) when SIDECAR_OTEL_METRICS_URL is unset. Later calls
// return the provider from the first call.
func Init(ctx context.Context, serviceName, serviceVersion string) (*Provider, error) {
	initMu.Lock()
	defer initMu.Unlock()
	if initDone {
		return globalProvider, nil
	}

	metricsURL := os.Getenv(EnvMetricsURL)
	if metricsURL == "" {
		initDone = true
		return nil, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
		resource.WithHost(),
		resource.WithOS(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTel resource: %w", err)
	}

	exp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(metricsURL))
	if err != nil {
		return nil, fmt.Errorf("creating OTLP metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(ExportInterval))),
	)
	otel.SetMeterProvider(mp)

	initDone = true
	globalProvider = &Provider{shutdown: mp.Shutdown}
	return globalProvider, nil
}
