// Package telemetry supplies the logging and tracing seams a complete
// client needs beyond request/response plumbing: a logr.Logger front, and
// an optional OTEL tracer that stays a no-op until an OTLP endpoint is
// configured.
package telemetry

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/tidwall/sjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NewDefaultLogger returns a logr.Logger fronting the standard library's
// default logger (stdr over log). A Client built without client.WithLogger
// discards its log lines; it does not fall back to this logger.
func NewDefaultLogger() logr.Logger {
	return stdr.New(log.Default())
}

// TracerConfig configures the optional OTEL exporter. A zero value yields
// a no-op tracer: spans cost nothing and nothing is exported.
type TracerConfig struct {
	ServiceName  string
	OTLPEndpoint string
	OTLPInsecure bool
}

// Tracer wraps the resolved trace.Tracer plus the shutdown hook for
// whichever provider backs it.
type Tracer struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

// NewTracer builds a Tracer. With OTLPEndpoint unset it returns a no-op
// tracer.
func NewTracer(cfg TracerConfig) (*Tracer, error) {
	if cfg.OTLPEndpoint == "" {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("schemafetch-go")}, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("error constructing otlp exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "schemafetch-go"
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("error constructing otel resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return &Tracer{
		tracer:   provider.Tracer(serviceName),
		shutdown: provider.Shutdown,
	}, nil
}

// Start begins a span named for one dispatch call. Callers end it with the
// returned span's End(). Start sets no attributes, and pkg/client records
// only the error of a failed call on the span.
func (t *Tracer) Start(ctx context.Context, op string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, "schemafetch."+op)
}

// Shutdown flushes and stops the underlying exporter, if any. It is a
// no-op for a no-op tracer.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.shutdown == nil {
		return nil
	}
	return t.shutdown(ctx)
}

// RedactHeaders rebuilds headers as a JSON object with Authorization and
// Cookie values replaced, for safe inclusion in a log field.
func RedactHeaders(headers map[string]string) string {
	blob := "{}"
	for k, v := range headers {
		value := v
		switch strings.ToLower(k) {
		case "authorization", "cookie", "set-cookie":
			value = "[redacted]"
		}
		updated, err := sjson.Set(blob, k, value)
		if err != nil {
			continue
		}
		blob = updated
	}
	return blob
}
