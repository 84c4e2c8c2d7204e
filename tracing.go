package redis

import (
	"context"
	"os"
)

// Tracer is the extension point for wiring Conn.Execute into whatever
// distributed tracing system a caller uses. No complete example repo in
// the pack imports an OpenTracing client, so this stays a minimal
// caller-supplied interface rather than a concrete dependency.
type Tracer interface {
	StartSpan(ctx context.Context, operation string) (context.Context, Span)
}

// Span is one traced Execute call.
type Span interface {
	Finish(err error)
}

var tracingEnabledByDefault bool

func init() {
	tracingEnabledByDefault = os.Getenv("USE_OPENTRACING") != ""
}

// DefaultOptions returns an Options value with Tracing seeded from the
// USE_OPENTRACING environment variable, read once at process start.
// Callers that want the untraced default regardless of environment
// should construct Options{} directly instead.
func DefaultOptions() Options {
	return Options{Tracing: tracingEnabledByDefault}
}
