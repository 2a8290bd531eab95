// Package telemetry wires the OpenTelemetry metrics pipeline.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"bwprobe/internal/config"
)

// Init starts the OTLP metric pipeline, sets the global MeterProvider and
// returns the instrument handles plus a shutdown function that flushes pending
// metrics.
//
// Without an OTLP endpoint no exporter is started; no-op instruments and a
// no-op shutdown are returned. On error the caller should fall back to
// NewNoopInstruments.
func Init(ctx context.Context, cfg config.TelemetryConfig, version string) (*Instruments, func(context.Context) error, error) {
	if cfg.OTLPEndpoint == "" {
		return NewNoopInstruments(), func(context.Context) error { return nil }, nil
	}

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", version),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(
			exporter,
			sdkmetric.WithInterval(cfg.ExportInterval),
		)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	inst, err := NewInstruments(provider.Meter(cfg.ServiceName))
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, nil, fmt.Errorf("create instruments: %w", err)
	}
	return inst, provider.Shutdown, nil
}
