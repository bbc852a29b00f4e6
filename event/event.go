// Package event defines the typed, closed union of domain events produced by
// the stream processor. Raw graph frames mix token fragments, channel
// snapshots and per-node deltas on one wire; the processor normalizes them
// into the event kinds below so consumers (UI renderers, loggers, test
// harnesses) never inspect wire shapes.
//
// All concrete event types embed Base to provide standard metadata
// (type, namespace, task id, session id, timestamp). Consumers can switch on
// Type() to route generically or type-assert to concrete types for structured
// field access.
package event

import (
	"encoding/json"
	"time"
)

type (
	// Event describes a normalized stream event. Implementations are
	// immutable after construction.
	Event interface {
		// Type returns the event kind constant (e.g. EventToken,
		// EventToolCall). Consumers use this to filter or route events
		// without type assertions.
		Type() EventType

		// Namespace returns the hierarchical namespace of the sub-task
		// that produced the underlying signal, or "main" for the
		// top-level graph.
		Namespace() string

		// TaskID returns the instance id of the innermost node in the
		// namespace, when the namespace carries one. Empty for root
		// events.
		TaskID() string

		// SessionID returns the identifier of the processor session
		// that emitted this event. All events from one Stream share the
		// same session id.
		SessionID() string

		// Timestamp returns the time at which the processor emitted the
		// event.
		Timestamp() time.Time

		// Payload returns the event-specific data in a JSON-serializable
		// form for generic marshaling. Use type assertions on the Event
		// itself for type-safe field access.
		Payload() any
	}

	// Token carries an incremental text fragment streamed by a node,
	// together with the running total accumulated for the current turn.
	// Clients concatenate Data.Delta values (or read Data.Text) to render
	// a typewriter effect.
	Token struct {
		Base
		Data TokenPayload
	}

	// Message carries a complete message observed through a channel
	// snapshot. It is emitted at most once per message id: a message whose
	// content already streamed incrementally is reconciled instead of
	// re-emitted (see MessagePayload.WasStreamed).
	Message struct {
		Base
		Data MessagePayload
	}

	// ChannelValue carries the full new value of a monitored channel after
	// a change, along with the computed delta since the previous
	// observation for the same (namespace, channel) pair.
	ChannelValue struct {
		Base
		Data ChannelValuePayload
	}

	// ChannelUpdate carries a per-node partial update to a monitored
	// channel, emitted when the graph streams deltas instead of full
	// snapshots.
	ChannelUpdate struct {
		Base
		Data ChannelUpdatePayload
	}

	// Artifact carries a typed unit of displayable content derived from a
	// channel tagged with an artifact kind in the subscription
	// configuration.
	Artifact struct {
		Base
		Data ArtifactPayload
	}

	// ToolCall reports the lifecycle of a reconstructed tool invocation:
	// announced, streaming argument fragments, completed with parsed
	// arguments, or failed with a diagnostic. Failures are data, not
	// errors: a malformed call never aborts the stream.
	ToolCall struct {
		Base
		Data ToolCallPayload
	}

	// TokenPayload is the typed wire payload for Token events.
	TokenPayload struct {
		// MessageID identifies the logical message the fragment belongs
		// to, when the upstream frame carries one.
		MessageID string `json:"message_id,omitempty"`
		// Delta is the incremental text fragment from this frame.
		Delta string `json:"delta"`
		// Text is the running total accumulated for the current
		// (namespace, task) turn, including Delta.
		Text string `json:"text"`
	}

	// MessagePayload is the typed wire payload for Message events.
	MessagePayload struct {
		// MessageID is the upstream identity of the message.
		MessageID string `json:"message_id"`
		// Role is the conversational role ("assistant", "tool", ...).
		Role string `json:"role,omitempty"`
		// Content is the full message text.
		Content string `json:"content"`
		// WasStreamed reports whether the message content was already
		// observed incrementally through the token path. Consumers that
		// rendered the streamed tokens should skip re-rendering.
		WasStreamed bool `json:"was_streamed"`
		// HasToolCalls reports whether the message carries tool
		// invocations.
		HasToolCalls bool `json:"has_tool_calls,omitempty"`
	}

	// ChannelValuePayload is the typed wire payload for ChannelValue
	// events.
	ChannelValuePayload struct {
		// Channel is the monitored channel key.
		Channel string `json:"channel"`
		// Value is the full new channel value.
		Value any `json:"value"`
		// Delta is the computed change since the previous observation:
		// the new suffix for grown lists, the changed keys for maps, or
		// the raw value otherwise.
		Delta any `json:"delta,omitempty"`
	}

	// ChannelUpdatePayload is the typed wire payload for ChannelUpdate
	// events.
	ChannelUpdatePayload struct {
		// Channel is the monitored channel key.
		Channel string `json:"channel"`
		// Node names the graph node that produced the update.
		Node string `json:"node,omitempty"`
		// Value is the node's new value for the channel.
		Value any `json:"value"`
		// Delta is the computed change since the previous observation.
		Delta any `json:"delta,omitempty"`
	}

	// ArtifactPayload is the typed wire payload for Artifact events.
	ArtifactPayload struct {
		// Channel is the monitored channel key the artifact derives
		// from.
		Channel string `json:"channel"`
		// Kind is the artifact type tag from the subscription
		// configuration.
		Kind string `json:"kind"`
		// Value is the artifact content.
		Value any `json:"value"`
		// IsUpdate reports whether a prior value existed for the same
		// (namespace, channel) pair, i.e. whether this revises an
		// artifact the consumer has already seen.
		IsUpdate bool `json:"is_update"`
	}

	// ToolCallPayload is the typed wire payload for ToolCall events.
	ToolCallPayload struct {
		// ToolCallID uniquely identifies the tool invocation. Consumers
		// correlate the announcement, progress, and terminal events for
		// one call through this id.
		ToolCallID string `json:"tool_call_id"`
		// ToolName is the invoked tool's name as announced upstream.
		ToolName string `json:"tool_name"`
		// Status is the reconstruction state this event reports.
		Status ToolCallStatus `json:"status"`
		// ArgsDelta is the raw argument fragment carried by a progress
		// event. Fragments are not guaranteed to be valid JSON on their
		// own.
		ArgsDelta string `json:"args_delta,omitempty"`
		// ArgsText is the accumulated raw argument buffer so far.
		ArgsText string `json:"args_text,omitempty"`
		// Args holds the parsed arguments once reconstruction
		// completed. Nil until then.
		Args json.RawMessage `json:"args,omitempty"`
		// Error is the diagnostic for a failed reconstruction. Empty
		// unless Status is error.
		Error string `json:"error,omitempty"`
	}

	// Base provides a default implementation of Event. Embed it in
	// concrete event types to inherit the metadata accessors. Field names
	// are abbreviated because Base fields are set once via NewBase and
	// accessed through the interface methods.
	Base struct {
		t    EventType
		ns   string
		task string
		sess string
		ts   time.Time
		p    any
	}
)

// ToolCallStatus enumerates the reconstruction states reported by ToolCall
// events.
type ToolCallStatus string

const (
	// ToolCallInitializing reports that the call was announced and no
	// argument fragment has arrived yet.
	ToolCallInitializing ToolCallStatus = "initializing"

	// ToolCallStreaming reports that argument fragments are accumulating
	// and do not yet parse as a complete JSON object.
	ToolCallStreaming ToolCallStatus = "streaming"

	// ToolCallCompleted reports that the accumulated arguments parsed
	// successfully. Args carries the parsed value.
	ToolCallCompleted ToolCallStatus = "completed"

	// ToolCallError reports that the accumulated arguments look
	// delimiter-complete but failed to parse or validate. Error carries
	// the diagnostic.
	ToolCallError ToolCallStatus = "error"
)

// EventType enumerates the normalized event kinds.
type EventType string

const (
	// EventToken is an incremental text fragment with its running total.
	EventToken EventType = "token"

	// EventMessage is a complete, deduplicated message observed through a
	// channel snapshot.
	EventMessage EventType = "message"

	// EventChannelValue is a full new value of a monitored channel.
	EventChannelValue EventType = "channel_value"

	// EventChannelUpdate is a per-node partial update of a monitored
	// channel.
	EventChannelUpdate EventType = "channel_update"

	// EventArtifact is a typed displayable unit derived from a tagged
	// channel.
	EventArtifact EventType = "artifact"

	// EventToolCall is a tool invocation lifecycle report.
	EventToolCall EventType = "tool_call"
)

// NewBase constructs a Base with the given type, namespace, task id, session
// id, timestamp and payload.
func NewBase(t EventType, ns, task, sess string, ts time.Time, payload any) Base {
	return Base{t: t, ns: ns, task: task, sess: sess, ts: ts, p: payload}
}

// Type implements Event.Type.
func (e Base) Type() EventType { return e.t }

// Namespace implements Event.Namespace.
func (e Base) Namespace() string { return e.ns }

// TaskID implements Event.TaskID.
func (e Base) TaskID() string { return e.task }

// SessionID implements Event.SessionID.
func (e Base) SessionID() string { return e.sess }

// Timestamp implements Event.Timestamp.
func (e Base) Timestamp() time.Time { return e.ts }

// Payload implements Event.Payload.
func (e Base) Payload() any { return e.p }
