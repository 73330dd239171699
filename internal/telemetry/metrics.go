// Package telemetry installs the process-wide OpenTelemetry meter provider.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/order-lifecycle/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// ShutdownFunc flushes pending measurements and stops the exporter.
type ShutdownFunc func(ctx context.Context) error

// SetupMetrics registers a meter provider that periodically exports to out.
// With the "none" exporter the global no-op provider is left in place.
func SetupMetrics(cfg config.MetricsConfig, serviceName, version string, out io.Writer) (ShutdownFunc, error) {
	if cfg.Exporter == "none" {
		log.Info().Msg("telemetry: metrics export disabled")
		return func(context.Context) error { return nil }, nil
	}
	if cfg.Exporter != "stdout" {
		return nil, fmt.Errorf("telemetry: unsupported metrics exporter %q", cfg.Exporter)
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("telemetry: export interval must be positive")
	}

	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(out))
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to create metrics exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", version),
		)),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.Interval))),
	)
	otel.SetMeterProvider(provider)
	log.Info().Str("exporter", cfg.Exporter).Dur("interval", cfg.Interval).Msg("telemetry: metrics export enabled")

	return provider.Shutdown, nil
}
