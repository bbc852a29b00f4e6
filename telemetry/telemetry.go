// Package telemetry defines the observability seams used by the stream
// processor: a structured logger and a metrics recorder. Production setups
// use the Clue- and OTEL-backed implementations; tests use the noops.
package telemetry

import "context"

type (
	// Logger emits structured log records with alternating key-value
	// pairs.
	Logger interface {
		// Debug emits a debug-level record.
		Debug(ctx context.Context, msg string, keyvals ...any)
		// Info emits an info-level record.
		Info(ctx context.Context, msg string, keyvals ...any)
		// Warn emits a warning-level record.
		Warn(ctx context.Context, msg string, keyvals ...any)
		// Error emits an error-level record.
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records the processor's operational counters.
	Metrics interface {
		// FrameClassified counts a successfully classified frame by
		// mode.
		FrameClassified(ctx context.Context, mode string)
		// FrameDropped counts a dropped frame by reason
		// ("unrecognized_shape", "orphan_chunk").
		FrameDropped(ctx context.Context, reason string)
		// ToolCallCompleted counts a successfully reconstructed tool
		// call.
		ToolCallCompleted(ctx context.Context)
		// ToolCallFailed counts a tool call whose arguments failed to
		// parse or validate.
		ToolCallFailed(ctx context.Context)
		// EventEmitted counts an emitted event by kind.
		EventEmitted(ctx context.Context, kind string)
	}

	// NoopLogger discards all records.
	NoopLogger struct{}

	// NoopMetrics discards all counters.
	NoopMetrics struct{}
)

// Debug implements Logger.
func (NoopLogger) Debug(context.Context, string, ...any) {}

// Info implements Logger.
func (NoopLogger) Info(context.Context, string, ...any) {}

// Warn implements Logger.
func (NoopLogger) Warn(context.Context, string, ...any) {}

// Error implements Logger.
func (NoopLogger) Error(context.Context, string, ...any) {}

// FrameClassified implements Metrics.
func (NoopMetrics) FrameClassified(context.Context, string) {}

// FrameDropped implements Metrics.
func (NoopMetrics) FrameDropped(context.Context, string) {}

// ToolCallCompleted implements Metrics.
func (NoopMetrics) ToolCallCompleted(context.Context) {}

// ToolCallFailed implements Metrics.
func (NoopMetrics) ToolCallFailed(context.Context) {}

// EventEmitted implements Metrics.
func (NoopMetrics) EventEmitted(context.Context, string) {}
