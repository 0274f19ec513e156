package tracing

import (
    "context"
    "io"
    "sync/atomic"

    "go.opentelemetry.io/otel"
    "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
    sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var enabled atomic.Bool

// Setup configures a global tracer provider writing to stdout when
// enable=true. It returns a shutdown function which should be deferred.
func Setup(enable bool) (func(context.Context) error, error) {
    return SetupWriter(enable, nil)
}

// SetupWriter is Setup with an explicit destination (nil means stdout).
func SetupWriter(enable bool, w io.Writer) (func(context.Context) error, error) {
    enabled.Store(enable)
    if !enable {
        return func(context.Context) error { return nil }, nil
    }
    opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
    if w != nil { opts = append(opts, stdouttrace.WithWriter(w)) }
    exp, err := stdouttrace.New(opts...)
    if err != nil {
        return nil, err
    }
    tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
    otel.SetTracerProvider(tp)
    return func(ctx context.Context) error {
        enabled.Store(false)
        return tp.Shutdown(ctx)
    }, nil
}

// StartSpan starts a tracing span if tracing is enabled.
func StartSpan(ctx context.Context, name string) (context.Context, func()) {
    if !enabled.Load() {
        return ctx, func() {}
    }
    ctx, span := otel.Tracer("go-fleet").Start(ctx, name)
    return ctx, func() { span.End() }
}
