// Package tracing wires a minimal OpenTelemetry tracer, exported to
// stdout by default, for the enqueue/dispatch/result spans the
// command router (C6) emits around a command's lifecycle.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/goranbacvar/Cyviz/internal/router"

// Init installs a stdout-exported tracer provider as the global
// tracer and returns a shutdown func to flush on exit.
func Init(ctx context.Context) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName("device-control-plane"),
	))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns the router's named tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
