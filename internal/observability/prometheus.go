package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// newPrometheusReader creates a pull reader over its own registry and the
// handler serving that registry. A private registry keeps repeated calls
// from colliding on collector registration.
func newPrometheusReader() (sdkmetric.Reader, http.Handler, error) {
	registry := prometheus.NewRegistry()

	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	return exporter, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// PrometheusHandler returns a MeterProvider whose instruments are served by
// the returned /metrics handler.
func PrometheusHandler() (*sdkmetric.MeterProvider, http.Handler, error) {
	reader, handler, err := newPrometheusReader()
	if err != nil {
		return nil, nil, err
	}

	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), handler, nil
}
