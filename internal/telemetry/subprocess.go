package telemetry

import (
	"os"
)

// WorkerEnv returns OTEL variables for the worker so its own exporter, if it
// has one, reports to the same endpoint tagged with the launch's instance ID.
// Returns nil when telemetry is not active.
func WorkerEnv(instanceID string) map[string]string {
	metricsURL := os.Getenv(EnvMetricsURL)
	if metricsURL == "" {
		return nil
	}
	env := map[string]string{
		"OTEL_EXPORTER_OTLP_METRICS_ENDPOINT": metricsURL,
	}
	if instanceID != "" {
		env["OTEL_RESOURCE_ATTRIBUTES"] = "sidecar.instance_id=" + instanceID
	}
	return env
}
