package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/clipscribe/clipscribe"

// Setup creates a Prometheus-backed OTel meter and the [http.Handler] that
// serves the /metrics scrape endpoint. Each call creates an independent
// Prometheus registry to avoid collector conflicts when called multiple times.
func Setup() (metric.Meter, http.Handler, error) {
	registry := prometheus.NewRegistry()

	exporter, err := promexporter.New(
		promexporter.WithRegisterer(registry),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	// Attach the exporter as a reader so OTel instruments are collected.
	// Without this the exporter has no metrics source.
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	return provider.Meter(meterName), promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}
