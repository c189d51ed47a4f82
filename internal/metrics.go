package internal

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/starford/nbtrust/internal/notary"
)

// metricsMeterName scopes the notary instruments exported on /metrics.
const metricsMeterName = "github.com/starford/nbtrust"

// setupMetrics installs an OpenTelemetry meter provider backed by the
// Prometheus exporter. It returns the notary counters, the /metrics handler
// and a shutdown function.
func setupMetrics() (*notary.Metrics, http.Handler, func(context.Context) error, error) {
	exp, err := prometheus.New()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp))
	otel.SetMeterProvider(mp)

	m, err := notary.NewMetrics(mp.Meter(metricsMeterName))
	if err != nil {
		_ = mp.Shutdown(context.Background())
		return nil, nil, nil, fmt.Errorf("notary metrics: %w", err)
	}
	return m, promhttp.Handler(), mp.Shutdown, nil
}
