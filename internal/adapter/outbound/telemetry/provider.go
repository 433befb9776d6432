// Package telemetry configures OpenTelemetry tracing for dispatches.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerName is the instrumentation scope used by the dispatch pipeline.
const TracerName = "github.com/appshell/appshell"

// Options controls tracer setup.
type Options struct {
	// Enabled turns on span export. When false Setup returns a no-op provider.
	Enabled bool
	// ServiceName is reported as the service.name resource attribute.
	ServiceName string
	// Writer receives exported spans. Defaults to stdout.
	Writer io.Writer
	// Pretty indents exported spans.
	Pretty bool
}

// Setup builds a tracer provider and registers it globally when enabled.
// The returned shutdown function flushes pending spans and should be deferred
// by the caller.
func Setup(ctx context.Context, opts Options) (trace.TracerProvider, func(context.Context) error, error) {
	nop := func(context.Context) error { return nil }
	if !opts.Enabled {
		return noop.NewTracerProvider(), nop, nil
	}

	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	exportOpts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
	if opts.Pretty {
		exportOpts = append(exportOpts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(exportOpts...)
	if err != nil {
		return nil, nop, fmt.Errorf("create trace exporter: %w", err)
	}

	name := opts.ServiceName
	if name == "" {
		name = "appshell"
	}
	res := resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(name))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp, tp.Shutdown, nil
}
