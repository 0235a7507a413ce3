// Package tracing wraps OpenTelemetry so the approval pipeline can open one
// span per consequence without importing the SDK directly.
package tracing

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/roach88/modqueue"

// Tracer starts spans. The zero value is not usable; use New, NewStdout,
// FromProvider or Noop.
type Tracer struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

// Noop returns a tracer whose spans record nothing.
func Noop() *Tracer {
	return FromProvider(noop.NewTracerProvider())
}

// FromProvider uses an existing provider, such as one backed by a span
// recorder in tests.
func FromProvider(tp trace.TracerProvider) *Tracer {
	return &Tracer{
		tracer:   tp.Tracer(instrumentationName),
		shutdown: func(context.Context) error { return nil },
	}
}

// New builds a provider exporting synchronously to exporter.
func New(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) (*Tracer, error) {
	if exporter == nil {
		return Noop(), nil
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(res),
	)
	return &Tracer{tracer: tp.Tracer(instrumentationName), shutdown: tp.Shutdown}, nil
}

// NewStdout exports spans as JSON to outputFile, or to stdout when
// outputFile is empty.
func NewStdout(serviceName, serviceVersion, outputFile string) (*Tracer, error) {
	var w io.Writer = os.Stdout
	var f *os.File
	if outputFile != "" {
		var err error
		if f, err = os.Create(outputFile); err != nil {
			return nil, err
		}
		w = f
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}
	t, err := New(serviceName, serviceVersion, exporter)
	if err != nil {
		return nil, err
	}
	if f != nil {
		flush := t.shutdown
		t.shutdown = func(ctx context.Context) error {
			err := flush(ctx)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			return err
		}
	}
	return t, nil
}

// Shutdown flushes and releases the exporter.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.shutdown(ctx)
}

// Span is an open span.
type Span struct {
	span trace.Span
}

// Start opens a child span of whatever span ctx carries.
func (t *Tracer) Start(ctx context.Context, name string, attrs map[string]string) (context.Context, *Span) {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, v))
	}
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(kvs...))
	return ctx, &Span{span: span}
}

// SetAttributes adds string attributes.
func (s *Span) SetAttributes(attrs map[string]string) {
	for k, v := range attrs {
		s.span.SetAttributes(attribute.String(k, v))
	}
}

// End records err (or OK) as the span status and closes the span.
func (s *Span) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}
