// Package tracing installs the OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/fluxorio/webpool/pkg/config"
)

// ShutdownFunc flushes and stops the provider.
type ShutdownFunc func(ctx context.Context) error

func noopShutdown(context.Context) error { return nil }

// NewProvider builds a tracer provider for cfg.Exporter. Spans for the
// stdout exporter go to w (os.Stdout when nil).
func NewProvider(cfg config.Tracing, w io.Writer) (*sdktrace.TracerProvider, error) {
	exporter, err := newExporter(cfg, w)
	if err != nil {
		return nil, err
	}

	name := cfg.ServiceName
	if name == "" {
		name = "webpool"
	}
	res := resource.NewSchemaless(attribute.String("service.name", name))

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

func newExporter(cfg config.Tracing, w io.Writer) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "", "stdout":
		if w == nil {
			w = os.Stdout
		}
		return stdouttrace.New(stdouttrace.WithWriter(w))
	case "zipkin":
		if cfg.ZipkinURL == "" {
			return nil, fmt.Errorf("zipkin exporter: zipkin_url is required")
		}
		return zipkin.New(cfg.ZipkinURL)
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}
}

// Setup installs a provider as the global one when tracing is enabled and
// returns its shutdown. When disabled the global no-op provider stays.
func Setup(cfg config.Tracing, w io.Writer) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return noopShutdown, nil
	}

	tp, err := NewProvider(cfg, w)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp.Shutdown, nil
}
