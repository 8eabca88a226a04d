// Package telemetry carries the logging, metrics and tracing capabilities that
// the corpus pipeline components receive at construction. Nothing here is
// initialized at import time; the batch driver owns setup and teardown.
package telemetry

import (
	"context"
	"time"
)

// Logger captures structured logging used by the pipeline. keyvals alternate
// string keys and values.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics records pipeline counters and durations. tags alternate keys and
// values.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
}

// Tracer starts the span covering one pipeline run.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...any) (context.Context, Span)
}

// Span is an in-flight pipeline span.
type Span interface {
	// AddEvent records a named event with alternating key-value attributes.
	AddEvent(name string, attrs ...any)
	// Finish ends the span. A non-nil err is recorded and marks the span
	// failed.
	Finish(err error)
}
