// Package tracing installs the global OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/ggbundi/Nomatoken/config"
)

// ShutdownFunc flushes pending spans.
type ShutdownFunc func(context.Context) error

// Init exports spans over OTLP/HTTP when an endpoint is configured. Without
// one the default no-op provider stays in place.
func Init(ctx context.Context, cfg config.TracingConfig, logger *zap.Logger) (ShutdownFunc, error) {
	if cfg.Endpoint == "" {
		logger.Info("tracing disabled: no OTLP endpoint configured")
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("service", cfg.ServiceName))
	return tp.Shutdown, nil
}
