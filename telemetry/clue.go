package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"goa.design/clue/log"
)

type (
	// ClueLogger delegates to goa.design/clue/log. The logger reads
	// formatting and debug settings from the context (set via log.Context
	// and log.WithFormat/log.WithDebug).
	ClueLogger struct{}

	// OTELMetrics records processor counters through the global OTEL
	// MeterProvider. Configure the provider via otel.SetMeterProvider
	// before streaming begins.
	OTELMetrics struct {
		frames    metric.Int64Counter
		dropped   metric.Int64Counter
		completed metric.Int64Counter
		failed    metric.Int64Counter
		events    metric.Int64Counter
	}
)

// NewClueLogger constructs a Logger backed by goa.design/clue/log.
func NewClueLogger() Logger {
	return ClueLogger{}
}

// NewOTELMetrics constructs a Metrics recorder backed by OTEL counters.
func NewOTELMetrics() Metrics {
	meter := otel.Meter("goa.design/graphstream")
	m := &OTELMetrics{}
	m.frames, _ = meter.Int64Counter("graphstream.frames_classified")
	m.dropped, _ = meter.Int64Counter("graphstream.frames_dropped")
	m.completed, _ = meter.Int64Counter("graphstream.tool_calls_completed")
	m.failed, _ = meter.Int64Counter("graphstream.tool_calls_failed")
	m.events, _ = meter.Int64Counter("graphstream.events_emitted")
	return m
}

// Debug implements Logger.
func (ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, fielders(msg, keyvals)...)
}

// Info implements Logger.
func (ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, fielders(msg, keyvals)...)
}

// Warn implements Logger.
func (ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	log.Warn(ctx, fielders(msg, keyvals)...)
}

// Error implements Logger.
func (ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, fielders(msg, keyvals)...)
}

// FrameClassified implements Metrics.
func (m *OTELMetrics) FrameClassified(ctx context.Context, mode string) {
	if m.frames != nil {
		m.frames.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
	}
}

// FrameDropped implements Metrics.
func (m *OTELMetrics) FrameDropped(ctx context.Context, reason string) {
	if m.dropped != nil {
		m.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

// ToolCallCompleted implements Metrics.
func (m *OTELMetrics) ToolCallCompleted(ctx context.Context) {
	if m.completed != nil {
		m.completed.Add(ctx, 1)
	}
}

// ToolCallFailed implements Metrics.
func (m *OTELMetrics) ToolCallFailed(ctx context.Context) {
	if m.failed != nil {
		m.failed.Add(ctx, 1)
	}
}

// EventEmitted implements Metrics.
func (m *OTELMetrics) EventEmitted(ctx context.Context, kind string) {
	if m.events != nil {
		m.events.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

// fielders converts a message and alternating key-value pairs into Clue's
// log.Fielder slice. Non-string keys are skipped; a trailing key without a
// value is paired with nil.
func fielders(msg string, keyvals []any) []log.Fielder {
	fs := []log.Fielder{log.KV{K: "msg", V: msg}}
	for i := 0; i < len(keyvals); i += 2 {
		k, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		fs = append(fs, log.KV{K: k, V: v})
	}
	return fs
}
