// Package telemetry is the one-stop-shop for hearth's OpenTelemetry setup:
// it wires a Prometheus exporter into an SDK meter provider, serves the
// /metrics endpoint, and builds the engine's instrument set.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config holds the configuration for the telemetry system.
type Config struct {
	// Enabled toggles the entire telemetry system on or off.
	Enabled bool `yaml:"enabled"`
	// ServiceName is the name under which metrics are reported.
	ServiceName string `yaml:"service_name"`
	// PrometheusPort is the port on which to expose the /metrics endpoint.
	PrometheusPort int `yaml:"prometheus_port"`
}

// Telemetry represents the active telemetry components.
type Telemetry struct {
	MeterProvider *sdkmetric.MeterProvider
	Meter         metric.Meter
}

// ShutdownFunc gracefully shuts down the telemetry providers.
type ShutdownFunc func(ctx context.Context) error

// New initializes the OpenTelemetry SDK with a Prometheus exporter and
// starts the /metrics HTTP endpoint. It returns the active components and
// a shutdown function. When cfg.Enabled is false it returns a no-op meter
// and a no-op shutdown, so callers never branch on the flag themselves.
func New(cfg Config) (*Telemetry, ShutdownFunc, error) {
	if !cfg.Enabled {
		return &Telemetry{
			MeterProvider: nil,
			Meter:         noop.NewMeterProvider().Meter(""),
		}, func(ctx context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// WithoutCounterSuffixes keeps the exported names exactly as registered;
	// the instrument names already carry their _total suffixes.
	exporter, err := prometheus.New(prometheus.WithoutCounterSuffixes())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.PrometheusPort),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			otel.Handle(fmt.Errorf("prometheus http server failed: %w", err))
		}
	}()

	tel := &Telemetry{
		MeterProvider: meterProvider,
		Meter:         meterProvider.Meter(cfg.ServiceName),
	}

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown metrics endpoint: %w", err)
		}
		if err := meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown meter provider: %w", err)
		}
		return nil
	}

	return tel, shutdown, nil
}
