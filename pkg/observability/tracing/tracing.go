package tracing

import (
    "context"
    "io"
    "os"
    "sync/atomic"

    "go.opentelemetry.io/otel"
    "go.opentelemetry.io/otel/attribute"
    "go.opentelemetry.io/otel/codes"
    "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
    "go.opentelemetry.io/otel/sdk/resource"
    sdktrace "go.opentelemetry.io/otel/sdk/trace"
    "go.opentelemetry.io/otel/trace"
)

const tracerName = "epochctl"

var enabled atomic.Bool

// Options configures the stdout exporter.
type Options struct {
    Enable bool
    // Writer receives the spans; defaults to stderr so command output on
    // stdout stays parseable.
    Writer io.Writer
    Pretty bool
}

// Setup installs a global tracer provider when opts.Enable is set and
// returns its shutdown function, which should be deferred.
func Setup(opts Options) (func(context.Context) error, error) {
    enabled.Store(opts.Enable)
    if !opts.Enable {
        return func(context.Context) error { return nil }, nil
    }
    w := opts.Writer
    if w == nil { w = os.Stderr }
    eopts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
    if opts.Pretty { eopts = append(eopts, stdouttrace.WithPrettyPrint()) }
    exp, err := stdouttrace.New(eopts...)
    if err != nil {
        enabled.Store(false)
        return nil, err
    }
    tp := sdktrace.NewTracerProvider(
        sdktrace.WithBatcher(exp),
        sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", tracerName))),
    )
    otel.SetTracerProvider(tp)
    return func(ctx context.Context) error {
        enabled.Store(false)
        return tp.Shutdown(ctx)
    }, nil
}

// StartSpan starts a tracing span if tracing is enabled. Attributes are given
// as key/value string pairs.
func StartSpan(ctx context.Context, name string, kv ...string) (context.Context, func()) {
    if !enabled.Load() {
        return ctx, func() {}
    }
    attrs := make([]attribute.KeyValue, 0, len(kv)/2)
    for i := 0; i+1 < len(kv); i += 2 {
        attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
    }
    ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
    return ctx, func() { span.End() }
}

// RecordError marks the span in ctx as failed. No-op without an active span.
func RecordError(ctx context.Context, err error) {
    if err == nil || !enabled.Load() { return }
    span := trace.SpanFromContext(ctx)
    span.RecordError(err)
    span.SetStatus(codes.Error, err.Error())
}
