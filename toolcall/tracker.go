// Package toolcall reconstructs tool invocations from interleaved,
// partially-ordered argument fragments.
//
// Two structurally distinct signals arrive for one logical call: an
// announcement carrying complete metadata (tool call id, tool name, index),
// seen once, and a sequence of argument chunks carrying raw text and an index
// only. Chunks are linked to their announcement purely through the compound
// key (message id, index). The Tracker accumulates chunk text per key until
// the buffer parses as a JSON object, and surfaces every transition as a
// typed ToolCall event: parse failures are data (error-status events), never
// errors returned to the caller, so one malformed call cannot abort the
// stream.
//
// Indexes are legitimately reused across unrelated batches within one
// namespace. StartNewIteration marks the batch boundary: completed calls move
// to an append-only history tagged with the iteration counter, and the active
// and completed sets are cleared so a reused index cannot be mis-linked to an
// already-finished call.
package toolcall

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/graphstream/event"
	"goa.design/graphstream/telemetry"
)

type (
	// State is the reconstruction state of one tool call. While under
	// construction it is keyed by (message id, index); once terminal it is
	// identified by its tool call id. Status only moves forward; terminal
	// states are removed from the active map and never mutated again.
	State struct {
		// ID is the tool call id from the announcement.
		ID string
		// Name is the tool name from the announcement.
		Name string
		// MessageID is the announcing message's id.
		MessageID string
		// Index is the positional index within the message.
		Index int
		// Status is the current reconstruction status.
		Status event.ToolCallStatus
		// Args holds the parsed arguments once Status is completed.
		Args json.RawMessage
		// Err is the diagnostic when Status is error.
		Err string
		// Iteration tags which batch the call completed in.
		Iteration int

		fragments []string
	}

	// Tracker is the tool-call reconstruction state machine for one
	// processor session. It is not safe for concurrent use; the processor
	// drives it strictly frame by frame.
	Tracker struct {
		emit    func(event.Event) error
		session string
		log     telemetry.Logger
		metrics telemetry.Metrics
		schema  func(tool string) *jsonschema.Schema
		now     func() time.Time

		active    map[stateKey]*State
		completed []*State
		history   []*State
		iteration int
		seenIDs   map[string]struct{}
	}

	// Option customizes a Tracker.
	Option func(*Tracker)

	stateKey struct {
		messageID string
		index     int
	}
)

// WithLogger sets the structured logger used for dropped-signal diagnostics.
func WithLogger(l telemetry.Logger) Option { return func(t *Tracker) { t.log = l } }

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) Option { return func(t *Tracker) { t.metrics = m } }

// WithSchemas sets the lookup for per-tool argument schemas. Parsed arguments
// failing their schema surface as error-status events.
func WithSchemas(fn func(tool string) *jsonschema.Schema) Option {
	return func(t *Tracker) { t.schema = fn }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

// NewTracker constructs a Tracker that emits ToolCall events through emit.
// session is the session id stamped on emitted events.
func NewTracker(session string, emit func(event.Event) error, opts ...Option) *Tracker {
	t := &Tracker{
		emit:    emit,
		session: session,
		log:     telemetry.NoopLogger{},
		metrics: telemetry.NoopMetrics{},
		schema:  func(string) *jsonschema.Schema { return nil },
		now:     time.Now,
		active:  make(map[stateKey]*State),
		seenIDs: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// ArgsText returns the raw argument buffer accumulated so far.
func (s *State) ArgsText() string { return strings.Join(s.fragments, "") }

// Announce registers a tool call announcement and emits a started event. A
// previously unseen id arriving while the current batch has fully drained is
// taken as a new batch starting and triggers an implicit iteration boundary;
// this is a best-effort heuristic and StartNewIteration remains the
// authoritative mechanism.
func (t *Tracker) Announce(ctx context.Context, ns, task, messageID string, index int, id, name string) error {
	if id != "" {
		if _, known := t.seenIDs[id]; !known && len(t.active) == 0 && len(t.completed) > 0 {
			t.StartNewIteration()
		}
		t.seenIDs[id] = struct{}{}
	}
	key := stateKey{messageID: messageID, index: index}
	if _, exists := t.active[key]; exists {
		t.log.Debug(ctx, "duplicate tool call announcement",
			"message_id", messageID, "index", index, "tool_call_id", id)
		return nil
	}
	t.active[key] = &State{
		ID:        id,
		Name:      name,
		MessageID: messageID,
		Index:     index,
		Status:    event.ToolCallInitializing,
	}
	return t.send(ctx, ns, task, event.ToolCallPayload{
		ToolCallID: id,
		ToolName:   name,
		Status:     event.ToolCallInitializing,
	})
}

// ApplyChunk appends an argument fragment to the call identified by
// (message id, index) and advances the state machine:
//
//   - the buffer parses as a JSON object: the call completes, a
//     completed-status event carries the parsed arguments, and the state
//     moves to the per-iteration completed list;
//   - the buffer fails to parse with unbalanced delimiters: the call keeps
//     streaming and a progress event carries the raw fragment;
//   - the buffer fails to parse although its delimiters balance: the call
//     fails with an error-status event and is removed.
//
// A chunk whose key matches no active call is an out-of-order or malformed
// upstream signal: it is logged and dropped, never an error.
func (t *Tracker) ApplyChunk(ctx context.Context, ns, task, messageID string, index int, fragment string) error {
	key := stateKey{messageID: messageID, index: index}
	st, ok := t.active[key]
	if !ok {
		t.log.Warn(ctx, "orphan tool call argument chunk",
			"message_id", messageID, "index", index)
		t.metrics.FrameDropped(ctx, "orphan_chunk")
		return nil
	}
	if fragment == "" {
		return nil
	}
	st.fragments = append(st.fragments, fragment)
	buf := st.ArgsText()

	var args map[string]any
	if err := parseObject(buf, &args); err != nil {
		if !balanced(buf) {
			st.Status = event.ToolCallStreaming
			return t.send(ctx, ns, task, event.ToolCallPayload{
				ToolCallID: st.ID,
				ToolName:   st.Name,
				Status:     event.ToolCallStreaming,
				ArgsDelta:  fragment,
				ArgsText:   buf,
			})
		}
		return t.fail(ctx, ns, task, key, st, fmt.Sprintf("arguments are not valid JSON: %s", err))
	}
	if schema := t.schema(st.Name); schema != nil {
		if err := schema.Validate(anyValue(args)); err != nil {
			return t.fail(ctx, ns, task, key, st, fmt.Sprintf("arguments do not match schema: %s", err))
		}
	}
	st.Status = event.ToolCallCompleted
	st.Args = json.RawMessage(buf)
	st.Iteration = t.iteration
	delete(t.active, key)
	t.completed = append(t.completed, st)
	t.metrics.ToolCallCompleted(ctx)
	return t.send(ctx, ns, task, event.ToolCallPayload{
		ToolCallID: st.ID,
		ToolName:   st.Name,
		Status:     event.ToolCallCompleted,
		ArgsText:   buf,
		Args:       st.Args,
	})
}

// StartNewIteration closes the current batch: completed calls move to the
// append-only history tagged with the iteration counter, and the active and
// completed sets are cleared. Call it at each batch boundary so that a reused
// index cannot collide with an earlier, already-finished call.
func (t *Tracker) StartNewIteration() {
	t.history = append(t.history, t.completed...)
	t.completed = nil
	if n := len(t.active); n > 0 {
		t.log.Debug(context.Background(), "abandoning in-flight tool calls at iteration boundary",
			"count", n, "iteration", t.iteration)
	}
	t.active = make(map[stateKey]*State)
	t.seenIDs = make(map[string]struct{})
	t.iteration++
}

// Reset clears all state, including history, so the tracker can serve a new
// session.
func (t *Tracker) Reset() {
	t.active = make(map[stateKey]*State)
	t.completed = nil
	t.history = nil
	t.seenIDs = make(map[string]struct{})
	t.iteration = 0
}

// Iteration returns the current iteration counter.
func (t *Tracker) Iteration() int { return t.iteration }

// Active returns the calls still under reconstruction.
func (t *Tracker) Active() []*State {
	out := make([]*State, 0, len(t.active))
	for _, st := range t.active {
		out = append(out, st)
	}
	return out
}

// CompletedThisIteration returns the calls completed since the last iteration
// boundary, in completion order.
func (t *Tracker) CompletedThisIteration() []*State {
	return append([]*State(nil), t.completed...)
}

// History returns every call flushed by past iteration boundaries, in flush
// order.
func (t *Tracker) History() []*State {
	return append([]*State(nil), t.history...)
}

func (t *Tracker) fail(ctx context.Context, ns, task string, key stateKey, st *State, diag string) error {
	st.Status = event.ToolCallError
	st.Err = diag
	delete(t.active, key)
	t.metrics.ToolCallFailed(ctx)
	return t.send(ctx, ns, task, event.ToolCallPayload{
		ToolCallID: st.ID,
		ToolName:   st.Name,
		Status:     event.ToolCallError,
		ArgsText:   st.ArgsText(),
		Error:      diag,
	})
}

func (t *Tracker) send(_ context.Context, ns, task string, payload event.ToolCallPayload) error {
	return t.emit(event.ToolCall{
		Base: event.NewBase(event.EventToolCall, ns, task, t.session, t.now(), payload),
		Data: payload,
	})
}

// parseObject decodes buf when it is a complete JSON object. Non-object JSON
// values ("null", arrays, bare strings) are parse failures: tool arguments
// are object-shaped by contract.
func parseObject(buf string, args *map[string]any) error {
	trimmed := strings.TrimSpace(buf)
	if !strings.HasPrefix(trimmed, "{") {
		return fmt.Errorf("arguments must be a JSON object")
	}
	return json.Unmarshal([]byte(trimmed), args)
}

// anyValue converts a decoded JSON object into the representation the schema
// validator expects.
func anyValue(args map[string]any) any {
	if args == nil {
		return map[string]any{}
	}
	return args
}
