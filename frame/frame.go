// Package frame defines the tagged union of raw graph frames and the
// dispatcher that classifies ambiguously-encoded wire values into it.
//
// The upstream execution engine multiplexes three kinds of information onto
// one channel: incremental text fragments ("token" frames), full snapshots of
// named state slots ("values" frames), and per-node partial deltas of those
// slots ("updates" frames). The wire format compresses these into variably
// shaped positional tuples without an explicit discriminator when only one
// mode is active, so classification has to inspect element types and arity.
// Classify is the single place that performs this shape inference; everything
// downstream of it works with the explicit Frame union.
package frame

import (
	"encoding/json"
	"errors"
	"fmt"

	"goa.design/graphstream/namespace"
)

// ErrUnrecognizedFrame reports a wire value matching none of the known frame
// shapes. It is a non-fatal condition: callers log and drop the frame and
// keep consuming the stream.
var ErrUnrecognizedFrame = errors.New("frame: unrecognized frame shape")

// Mode identifies the wire encoding of a frame payload.
type Mode string

const (
	// ModeValues carries a full snapshot of channel values.
	ModeValues Mode = "values"

	// ModeUpdates carries per-node partial channel updates.
	ModeUpdates Mode = "updates"

	// ModeMessages carries an incremental message fragment with metadata.
	ModeMessages Mode = "messages"
)

type (
	// Frame is the classified form of one raw wire value. Exactly one of
	// Token, Values, or Updates is set, according to Mode.
	Frame struct {
		// Namespace identifies the sub-task that produced the frame,
		// "main" for the root graph.
		Namespace string
		// Mode tags which payload field is populated.
		Mode Mode
		// Token is the message fragment for ModeMessages frames.
		Token *TokenChunk
		// Values maps channel names to full values for ModeValues
		// frames.
		Values map[string]any
		// Updates maps node names to per-channel values for ModeUpdates
		// frames.
		Updates map[string]map[string]any
	}

	// TokenChunk is the decoded payload of a token frame: an incremental
	// message fragment plus the frame metadata attached by the engine.
	TokenChunk struct {
		// MessageID is the upstream identity of the logical message the
		// fragment extends.
		MessageID string
		// Role is the message role when the wire carries one.
		Role string
		// Content is the incremental text fragment.
		Content string
		// ToolCalls lists complete tool-call announcements carried by
		// the fragment.
		ToolCalls []ToolCallMeta
		// ToolCallChunks lists partial tool-call argument fragments
		// carried by the fragment.
		ToolCallChunks []ToolCallChunk
		// Node names the graph node that emitted the fragment, when
		// known.
		Node string
		// Tags carries the metadata tags attached to the emitting
		// runnable.
		Tags []string
	}

	// ToolCallMeta is a complete tool-call announcement: full metadata
	// seen exactly once per call.
	ToolCallMeta struct {
		// ID is the tool call id.
		ID string
		// Name is the tool name.
		Name string
		// Index is the positional index linking subsequent argument
		// chunks to this announcement.
		Index int
	}

	// ToolCallChunk is a partial tool-call argument fragment: raw text and
	// a positional index only, linked to its announcement purely via
	// (message id, index).
	ToolCallChunk struct {
		// ID is the tool call id when the chunk carries one (typically
		// only the first chunk of a call does).
		ID string
		// Name is the tool name when the chunk carries one.
		Name string
		// Args is the raw argument text fragment.
		Args string
		// Index is the positional index within the message.
		Index int
	}
)

// Classify disambiguates one raw wire value into a Frame. active lists the
// modes requested from the engine for this stream; it drives inference for
// the compressed single-mode shapes. The classification rules, in order:
//
//   - a three-element tuple with a path-like head and a mode string selects
//     both namespace and mode explicitly;
//   - a two-element tuple with a mode string head selects the mode
//     explicitly, namespace "main";
//   - a two-element tuple with a path-like head selects the namespace
//     explicitly, with the mode inferred from the sole active mode;
//   - a two-element tuple with a message-like head is a token frame at
//     "main" (message, metadata);
//   - a bare map falls back to "main" plus the sole active mode.
//
// Anything else is ErrUnrecognizedFrame.
func Classify(raw any, active []Mode) (*Frame, error) {
	switch v := raw.(type) {
	case []any:
		switch len(v) {
		case 3:
			path, ok := asPath(v[0])
			if !ok {
				return nil, fmt.Errorf("%w: 3-tuple without path head", ErrUnrecognizedFrame)
			}
			mode, ok := asMode(v[1])
			if !ok {
				return nil, fmt.Errorf("%w: 3-tuple without mode discriminator", ErrUnrecognizedFrame)
			}
			return decode(namespace.Join(path), mode, v[2])
		case 2:
			if mode, ok := asMode(v[0]); ok {
				return decode(namespace.Root, mode, v[1])
			}
			if path, ok := asPath(v[0]); ok {
				mode, err := soleMode(active)
				if err != nil {
					return nil, err
				}
				return decode(namespace.Join(path), mode, v[1])
			}
			if isMessageMap(v[0]) {
				return decode(namespace.Root, ModeMessages, v)
			}
			return nil, fmt.Errorf("%w: 2-tuple with unknown head", ErrUnrecognizedFrame)
		default:
			return nil, fmt.Errorf("%w: tuple of arity %d", ErrUnrecognizedFrame, len(v))
		}
	case map[string]any:
		mode, err := soleMode(active)
		if err != nil {
			return nil, err
		}
		return decode(namespace.Root, mode, v)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnrecognizedFrame, raw)
	}
}

func decode(ns string, mode Mode, payload any) (*Frame, error) {
	f := &Frame{Namespace: ns, Mode: mode}
	switch mode {
	case ModeValues:
		values, ok := payload.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: values payload is %T", ErrUnrecognizedFrame, payload)
		}
		f.Values = values
	case ModeUpdates:
		raw, ok := payload.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: updates payload is %T", ErrUnrecognizedFrame, payload)
		}
		updates := make(map[string]map[string]any, len(raw))
		for node, nv := range raw {
			// Nodes may legitimately report no channel writes; skip them.
			channels, ok := nv.(map[string]any)
			if !ok {
				continue
			}
			updates[node] = channels
		}
		f.Updates = updates
	case ModeMessages:
		token, err := decodeToken(payload)
		if err != nil {
			return nil, err
		}
		f.Token = token
	default:
		return nil, fmt.Errorf("%w: mode %q", ErrUnrecognizedFrame, mode)
	}
	return f, nil
}

func decodeToken(payload any) (*TokenChunk, error) {
	var msg, meta map[string]any
	switch v := payload.(type) {
	case []any:
		if len(v) != 2 {
			return nil, fmt.Errorf("%w: token payload of arity %d", ErrUnrecognizedFrame, len(v))
		}
		m, ok := v[0].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: token message is %T", ErrUnrecognizedFrame, v[0])
		}
		msg = m
		meta, _ = v[1].(map[string]any)
	case map[string]any:
		msg = v
	default:
		return nil, fmt.Errorf("%w: token payload is %T", ErrUnrecognizedFrame, payload)
	}

	tc := &TokenChunk{
		MessageID: stringField(msg, "id"),
		Role:      stringField(msg, "role"),
		Content:   stringField(msg, "content"),
	}
	if tc.Role == "" {
		tc.Role = stringField(msg, "type")
	}
	if calls, ok := msg["tool_calls"].([]any); ok {
		for i, c := range calls {
			cm, ok := c.(map[string]any)
			if !ok {
				continue
			}
			tc.ToolCalls = append(tc.ToolCalls, ToolCallMeta{
				ID:    stringField(cm, "id"),
				Name:  stringField(cm, "name"),
				Index: intField(cm, "index", i),
			})
		}
	}
	if chunks, ok := msg["tool_call_chunks"].([]any); ok {
		for i, c := range chunks {
			cm, ok := c.(map[string]any)
			if !ok {
				continue
			}
			tc.ToolCallChunks = append(tc.ToolCallChunks, ToolCallChunk{
				ID:    stringField(cm, "id"),
				Name:  stringField(cm, "name"),
				Args:  stringField(cm, "args"),
				Index: intField(cm, "index", i),
			})
		}
	}
	if meta != nil {
		tc.Node = stringField(meta, "node")
		if tags, ok := meta["tags"].([]any); ok {
			for _, t := range tags {
				if s, ok := t.(string); ok {
					tc.Tags = append(tc.Tags, s)
				}
			}
		}
	}
	return tc, nil
}

// soleMode resolves the compressed single-mode wire shapes. When several
// modes are active the engine always emits an explicit discriminator, so a
// bare payload under multiple active modes is unrecognizable.
func soleMode(active []Mode) (Mode, error) {
	if len(active) != 1 {
		return "", fmt.Errorf("%w: bare payload with %d active modes", ErrUnrecognizedFrame, len(active))
	}
	return active[0], nil
}

func asMode(v any) (Mode, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	switch Mode(s) {
	case ModeValues, ModeUpdates, ModeMessages:
		return Mode(s), true
	}
	return "", false
}

// asPath recognizes the wire form of a namespace: a tuple of path segment
// strings. An empty tuple is the root namespace.
func asPath(v any) ([]string, bool) {
	switch p := v.(type) {
	case []string:
		return p, true
	case []any:
		segs := make([]string, 0, len(p))
		for _, e := range p {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			segs = append(segs, s)
		}
		return segs, true
	}
	return nil, false
}

// isMessageMap recognizes a message-shaped leading element: a map carrying
// message content. Used to route the compressed token shape that pairs a
// message with its metadata.
func isMessageMap(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	_, hasContent := m["content"]
	_, hasID := m["id"]
	return hasContent || hasID
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string, fallback int) int {
	switch n := m[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	}
	return fallback
}
