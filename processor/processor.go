// Package processor consumes the raw frame sequence produced by an agent
// graph and normalizes it into typed events. It owns all per-session state:
// the previous-value cache for monitored channels, the seen-message-id set,
// the per-(namespace, task) token buffers, and the tool-call tracker. One
// processor serves one stream at a time; ResetState clears everything so an
// instance can be reused across sequential sessions.
//
// Processing is strictly sequential: one frame is classified, routed, and has
// all of its events handed to the consumer before the next frame is pulled.
// The consumer therefore backpressures the producer naturally, and no
// internal locking is required.
package processor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"goa.design/graphstream/channel"
	"goa.design/graphstream/event"
	"goa.design/graphstream/frame"
	"goa.design/graphstream/subscription"
	"goa.design/graphstream/telemetry"
	"goa.design/graphstream/toolcall"
)

type (
	// Graph is the external execution engine. The processor never
	// constructs the frame source itself; it invokes Stream on the graph
	// it is handed and consumes the result.
	Graph interface {
		// Stream starts a run and returns the raw frame source for it.
		Stream(ctx context.Context, input any, opts StreamOptions) (FrameSource, error)
	}

	// StreamOptions are the pass-through options handed to Graph.Stream.
	StreamOptions struct {
		// Config is the opaque run configuration forwarded verbatim.
		Config map[string]any
		// Modes lists the wire modes the processor subscribes to,
		// derived from the subscription configuration.
		Modes []frame.Mode
		// Subgraphs requests frames from nested sub-tasks. The
		// processor always sets it: namespace isolation depends on
		// seeing nested signals.
		Subgraphs bool
	}

	// FrameSource yields raw, unclassified frame values one at a time.
	// Recv returns io.EOF when the run is complete.
	FrameSource interface {
		Recv() (any, error)
		Close() error
	}

	// Processor normalizes one graph run's raw frames into typed events.
	// Not safe for concurrent use: a processor must not serve two
	// concurrently running streams.
	Processor struct {
		cfg     *subscription.Config
		log     telemetry.Logger
		metrics telemetry.Metrics
		now     func() time.Time
		warns   *rate.Limiter

		session   string
		seen      map[string]struct{}
		buffers   map[turnKey]*turnBuffer
		monitor   *channel.Monitor
		tracker   *toolcall.Tracker
		queue     []event.Event
		streaming bool
	}

	// Option customizes a Processor.
	Option func(*Processor)

	turnKey struct {
		ns   string
		task string
	}

	// turnBuffer accumulates streamed text for one (namespace, task)
	// turn. A new message id starts a new turn and resets the buffer.
	turnBuffer struct {
		messageID string
		text      strings.Builder
	}
)

// WithLogger sets the structured logger.
func WithLogger(l telemetry.Logger) Option { return func(p *Processor) { p.log = l } }

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) Option { return func(p *Processor) { p.metrics = m } }

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option { return func(p *Processor) { p.now = now } }

// WithSessionID pins the session id stamped on emitted events instead of a
// generated one.
func WithSessionID(id string) Option { return func(p *Processor) { p.session = id } }

// New constructs a Processor for the given subscription configuration. The
// configuration is validated eagerly; an invalid one never reaches the
// streaming path.
func New(cfg *subscription.Config, opts ...Option) (*Processor, error) {
	if cfg == nil {
		return nil, errors.New("processor: subscription configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Processor{
		cfg:     cfg,
		log:     telemetry.NoopLogger{},
		metrics: telemetry.NoopMetrics{},
		now:     time.Now,
		warns:   rate.NewLimiter(rate.Every(time.Second), 5),
		session: uuid.NewString(),
	}
	for _, o := range opts {
		o(p)
	}
	emit := func(e event.Event) error {
		p.queue = append(p.queue, e)
		p.metrics.EventEmitted(context.Background(), string(e.Type()))
		return nil
	}
	p.monitor = channel.NewMonitor(p.session, emit, channel.WithClock(p.now))
	p.tracker = toolcall.NewTracker(p.session, emit,
		toolcall.WithLogger(p.log),
		toolcall.WithMetrics(p.metrics),
		toolcall.WithSchemas(cfg.Schema),
		toolcall.WithClock(p.now),
	)
	p.seen = make(map[string]struct{})
	p.buffers = make(map[turnKey]*turnBuffer)
	return p, nil
}

// SessionID returns the session id stamped on emitted events.
func (p *Processor) SessionID() string { return p.session }

// Modes returns the wire modes the subscription requires, in stable order.
func (p *Processor) Modes() []frame.Mode {
	var values, updates bool
	for i := range p.cfg.Channels {
		switch p.cfg.Channels[i].Mode {
		case subscription.ModeValues:
			values = true
		case subscription.ModeUpdates:
			updates = true
		}
	}
	var modes []frame.Mode
	if values {
		modes = append(modes, frame.ModeValues)
	}
	if updates {
		modes = append(modes, frame.ModeUpdates)
	}
	if p.cfg.Tokens != nil {
		modes = append(modes, frame.ModeMessages)
	}
	return modes
}

// Open starts a run on the graph with the subscription's modes and returns
// the normalized event stream. runCfg is forwarded to the graph verbatim.
func (p *Processor) Open(ctx context.Context, g Graph, input any, runCfg map[string]any) (*Stream, error) {
	src, err := g.Stream(ctx, input, StreamOptions{
		Config:    runCfg,
		Modes:     p.Modes(),
		Subgraphs: true,
	})
	if err != nil {
		return nil, err
	}
	return p.Process(ctx, src)
}

// Process wraps an existing frame source in a normalized event stream. It
// fails when the processor is already serving a stream: per-session state is
// exclusive to one run at a time.
func (p *Processor) Process(ctx context.Context, src FrameSource) (*Stream, error) {
	if p.streaming {
		return nil, errors.New("processor: already serving a stream; reset or close it first")
	}
	p.streaming = true
	return &Stream{p: p, ctx: ctx, src: src}, nil
}

// StartNewIteration marks a tool-call batch boundary. See
// toolcall.Tracker.StartNewIteration.
func (p *Processor) StartNewIteration() { p.tracker.StartNewIteration() }

// Tracker exposes the session's tool-call tracker for inspection of active,
// completed, and historical calls.
func (p *Processor) Tracker() *toolcall.Tracker { return p.tracker }

// ResetState clears all session state (previous channel values, seen
// message ids, token buffers, tool-call reconstructions and history, and any
// queued events) so the processor can safely serve a new sequential stream.
func (p *Processor) ResetState() {
	p.seen = make(map[string]struct{})
	p.buffers = make(map[turnKey]*turnBuffer)
	p.monitor.Reset()
	p.tracker.Reset()
	p.queue = nil
}

// handleFrame classifies one raw frame and routes it. Classification
// failures are logged (rate limited) and dropped; the stream continues.
func (p *Processor) handleFrame(ctx context.Context, raw any) {
	f, err := frame.Classify(raw, p.Modes())
	if err != nil {
		p.metrics.FrameDropped(ctx, "unrecognized_shape")
		if p.warns.Allow() {
			p.log.Warn(ctx, "dropping unrecognized frame", "error", err.Error())
		}
		return
	}
	p.metrics.FrameClassified(ctx, string(f.Mode))
	switch f.Mode {
	case frame.ModeMessages:
		err = p.handleToken(ctx, f)
	case frame.ModeValues:
		err = p.handleValues(ctx, f)
	case frame.ModeUpdates:
		err = p.handleUpdates(ctx, f)
	}
	if err != nil {
		p.log.Error(ctx, "frame handling failed", "mode", string(f.Mode), "error", err.Error())
	}
}
