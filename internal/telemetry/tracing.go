// Package telemetry installs the OpenTelemetry TracerProvider that the HTTP
// facade's otelhttp handler reports to (SPEC_FULL.md Part C); external
// collaborator calls are not spanned. It is
// grounded on the teacher's telemetry.OTelProvider (resource construction,
// OTLP exporter selection, batched span processor) but trimmed to tracing
// only — this system's metrics surface is Prometheus (internal/metrics),
// not OTel metrics, so the teacher's metric-provider half is not carried
// over.
package telemetry

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Shutdown flushes and stops the tracer provider; call it on process exit.
type Shutdown func(context.Context) error

// Init installs a global TracerProvider for serviceName. When
// OTEL_EXPORTER_OTLP_ENDPOINT is set it exports via OTLP/gRPC (the
// teacher's production path); otherwise it falls back to a stdout exporter
// so spans are still visible in local/dev runs without a collector.
func Init(ctx context.Context, serviceName string) (Shutdown, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", serviceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, err
	}

	var sp sdktrace.SpanProcessor
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
		if err != nil {
			return nil, err
		}
		sp = sdktrace.NewBatchSpanProcessor(exp)
	} else {
		exp, err := stdouttrace.New(stdouttrace.WithoutTimestamps())
		if err != nil {
			return nil, err
		}
		sp = sdktrace.NewBatchSpanProcessor(exp)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sp),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns the package-wide tracer; no package in this module calls
// it. It is obtained lazily so packages that never call Init (tests)
// still get a valid no-op tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer("codeforge/orchestrator")
}
