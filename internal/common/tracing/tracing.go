// Package tracing wires up the global OTel tracer provider used across the
// orchestrator. Exporting is enabled by setting OTEL_EXPORTER_OTLP_ENDPOINT;
// otherwise spans are created against a no-op provider.
package tracing

import (
	"context"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	providerOnce sync.Once
	shutdownFn   func(context.Context) error
)

// Init installs a global TracerProvider for serviceName. It is a no-op
// (global no-op tracer stays active) unless OTEL_EXPORTER_OTLP_ENDPOINT is set.
// Returns a shutdown func to be called during graceful shutdown.
func Init(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return func(context.Context) error { return nil }, nil
	}

	var initErr error
	providerOnce.Do(func() {
		exporter, err := otlptracehttp.New(ctx)
		if err != nil {
			initErr = err
			return
		}

		res, err := resource.Merge(
			resource.Default(),
			resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceNameKey.String(serviceName),
			),
		)
		if err != nil {
			initErr = err
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		shutdownFn = tp.Shutdown
	})
	if initErr != nil {
		return nil, initErr
	}
	if shutdownFn == nil {
		shutdownFn = func(context.Context) error { return nil }
	}
	return shutdownFn, nil
}

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
