// Package telemetry defines the observability seams used across the firehose
// client: structured logging, counter metrics, and tracing. Production code
// wires the clue/OTEL implementations; tests run against the no-op ones so
// they need no collector or exporter.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured log records with alternating key/value pairs.
	// Implementations must be safe for concurrent use.
	Logger interface {
		// Debug emits a debug-level record. Keyvals alternate string keys and values.
		Debug(ctx context.Context, msg string, keyvals ...any)
		// Info emits an info-level record.
		Info(ctx context.Context, msg string, keyvals ...any)
		// Warn emits a warning-level record. Used for recoverable conditions
		// (malformed frames, invalid transitions) that are absorbed rather
		// than surfaced to callers.
		Warn(ctx context.Context, msg string, keyvals ...any)
		// Error emits an error-level record.
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records client counters and timers. Tag strings alternate
	// key/value, mirroring the keyvals convention on Logger.
	Metrics interface {
		// IncCounter adds value to the named counter.
		IncCounter(name string, value float64, tags ...string)
		// RecordTimer records a duration for the named histogram.
		RecordTimer(name string, d time.Duration, tags ...string)
	}

	// Tracer starts spans around the client's I/O suspension points
	// (stream dial, history fetch, approvals fetch).
	Tracer interface {
		// Start opens a span and returns the derived context and span handle.
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	}

	// Span is the subset of span operations the client needs.
	Span interface {
		// End finalizes the span.
		End()
		// RecordError attaches an error to the span.
		RecordError(err error)
	}
)

// Metric names recorded by the client.
const (
	// MetricEventsReceived counts raw frames delivered by the transport.
	MetricEventsReceived = "firehose.events.received"
	// MetricEventsDropped counts frames dropped at the boundary (malformed
	// payload or unknown type).
	MetricEventsDropped = "firehose.events.dropped"
	// MetricReconnects counts automatic reconnect attempts.
	MetricReconnects = "firehose.reconnects"
	// MetricHistoryFetch times the one-shot history fetch.
	MetricHistoryFetch = "firehose.history.fetch"
)
