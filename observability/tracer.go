package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerConfig controls InitTracer. A zero value with Enabled false
// returns a no-op provider, so agents built without OTEL_EXPORTER_OTLP_ENDPOINT
// set still work unchanged.
type TracerConfig struct {
	Enabled     bool
	Endpoint    string
	Timeout     time.Duration
	ServiceName string
}

// InitTracer builds a TracerProvider exporting spans over OTLP/HTTP, or a
// no-op provider if cfg.Enabled is false. It does not call
// otel.SetTracerProvider — the caller decides whether this is the process
// default or a scoped instance.
func InitTracer(ctx context.Context, cfg TracerConfig) (trace.TracerProvider, error) {
	if !cfg.Enabled {
		return noop.NewTracerProvider(), nil
	}

	exp, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithTimeout(cfg.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	return tp, nil
}

// Tracer returns a named tracer from the global otel TracerProvider.
// Components call this rather than threading a TracerProvider through
// every constructor, matching the teacher's pkg/observability.GetTracer.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
