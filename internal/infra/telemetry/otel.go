// Package telemetry wires OpenTelemetry trace export for the dynasty server.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config selects the trace exporter.
type Config struct {
	ServiceName string
	// Endpoint is an OTLP/HTTP URL such as http://collector:4318. Empty disables export.
	Endpoint string
	// Insecure allows a plain-HTTP endpoint given without a scheme.
	Insecure bool
}

// Provider bundles a tracer provider with its shutdown hook.
type Provider struct {
	trace.TracerProvider
	shutdown func(context.Context) error
}

// Shutdown flushes pending spans.
func (p Provider) Shutdown(ctx context.Context) error { return p.shutdown(ctx) }

// Enabled reports whether spans leave the process.
func (p Provider) Enabled() bool {
	_, ok := p.TracerProvider.(*sdktrace.TracerProvider)
	return ok
}

// Setup returns a batching OTLP provider, or a no-op provider when no
// endpoint is configured. No global provider is registered.
func Setup(ctx context.Context, cfg Config) (Provider, error) {
	noopShutdown := func(context.Context) error { return nil }
	if cfg.Endpoint == "" {
		return Provider{TracerProvider: noop.NewTracerProvider(), shutdown: noopShutdown}, nil
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return Provider{}, fmt.Errorf("otlp exporter: %w", err)
	}
	name := cfg.ServiceName
	if name == "" {
		name = "dynasty"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(name)))
	if err != nil {
		return Provider{}, fmt.Errorf("otel resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	return Provider{TracerProvider: tp, shutdown: tp.Shutdown}, nil
}
