// Package tracing wires OpenTelemetry with the stdout exporter so each
// request/response exchange can be recorded as a span. When Init is never
// called the global no-op provider is used.
package tracing

import (
	"context"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var (
	providerOnce sync.Once
	providerErr  error
	provider     *sdktrace.TracerProvider
	output       io.Closer
)

// newStdoutExporter is replaced in tests.
var newStdoutExporter = func(w io.Writer) (sdktrace.SpanExporter, error) {
	return stdouttrace.New(stdouttrace.WithWriter(w))
}

// Init installs a global tracer provider exporting to outputFile, or to
// os.Stdout when outputFile is empty. Only the first call has any effect.
func Init(serviceName, serviceVersion, outputFile string) error {
	providerOnce.Do(func() {
		exporter, closer, err := newExporter(outputFile)
		if err != nil {
			providerErr = err
			return
		}
		output = closer
		providerErr = InitWithExporter(serviceName, serviceVersion, exporter)
	})
	return providerErr
}

// newExporter opens outputFile when set. The file is closed if the
// exporter cannot be built.
func newExporter(outputFile string) (sdktrace.SpanExporter, io.Closer, error) {
	if outputFile == "" {
		exporter, err := newStdoutExporter(os.Stdout)
		return exporter, nil, err
	}
	f, err := os.Create(outputFile)
	if err != nil {
		return nil, nil, err
	}
	exporter, err := newStdoutExporter(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return exporter, f, nil
}

// InitWithExporter registers exporter behind a batching global provider.
func InitWithExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) error {
	if exporter == nil {
		return nil
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", serviceVersion),
	)
	provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return nil
}

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Flush exports any spans still buffered by the batcher.
func Flush(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	return provider.ForceFlush(ctx)
}

// Shutdown flushes pending spans and releases the output file.
func Shutdown(ctx context.Context) error {
	err := Flush(ctx)
	if provider != nil {
		if serr := provider.Shutdown(ctx); err == nil {
			err = serr
		}
	}
	if output != nil {
		if cerr := output.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
