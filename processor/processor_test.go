package processor

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/graphstream/event"
	"goa.design/graphstream/frame"
	"goa.design/graphstream/subscription"
)

// sliceSource replays a fixed sequence of raw frames.
type sliceSource struct {
	frames []any
	i      int
	closed bool
}

func (s *sliceSource) Recv() (any, error) {
	if s.i >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.i]
	s.i++
	return f, nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

// fakeGraph records the stream options it was invoked with.
type fakeGraph struct {
	opts   StreamOptions
	frames []any
}

func (g *fakeGraph) Stream(_ context.Context, _ any, opts StreamOptions) (FrameSource, error) {
	g.opts = opts
	return &sliceSource{frames: g.frames}, nil
}

func newProcessor(t *testing.T, cfg *subscription.Config) *Processor {
	t.Helper()
	p, err := New(cfg,
		WithSessionID("sess-test"),
		WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
	)
	require.NoError(t, err)
	return p
}

func drain(t *testing.T, p *Processor, frames []any) []event.Event {
	t.Helper()
	stream, err := p.Process(context.Background(), &sliceSource{frames: frames})
	require.NoError(t, err)
	defer stream.Close()
	var events []event.Event
	for {
		evt, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return events
		}
		require.NoError(t, err)
		events = append(events, evt)
	}
}

func tokenFrame(id, content string) []any {
	return []any{
		map[string]any{"id": id, "type": "ai", "content": content},
		map[string]any{},
	}
}

func TestEndToEndScenario(t *testing.T) {
	cfg := &subscription.Config{
		Channels: []subscription.Channel{{Key: "messages"}},
		Tokens:   &subscription.Tokens{Include: []string{"all"}},
	}
	p := newProcessor(t, cfg)

	frames := []any{
		[]any{"values", map[string]any{"messages": []any{}}},
		[]any{"messages", []any{
			map[string]any{"id": "m1", "type": "ai", "content": "Hello"},
			map[string]any{},
		}},
		[]any{"messages", []any{
			map[string]any{"id": "m1", "type": "ai", "content": " world"},
			map[string]any{},
		}},
		[]any{"values", map[string]any{"messages": []any{
			map[string]any{"id": "m1", "type": "ai", "content": "Hello world"},
		}}},
	}
	events := drain(t, p, frames)
	require.Len(t, events, 3)

	tok1 := events[0].(event.Token)
	require.Equal(t, "Hello", tok1.Data.Delta)
	require.Equal(t, "Hello", tok1.Data.Text)
	tok2 := events[1].(event.Token)
	require.Equal(t, " world", tok2.Data.Delta)
	require.Equal(t, "Hello world", tok2.Data.Text)

	cv := events[2].(event.ChannelValue)
	require.Equal(t, "messages", cv.Data.Channel)
	list := cv.Data.Value.([]any)
	require.Len(t, list, 1)
	entry := list[0].(map[string]any)
	require.Equal(t, true, entry["was_streamed"])

	for _, e := range events {
		require.NotEqual(t, event.EventMessage, e.Type(), "streamed message must not re-emit content")
	}
}

func TestSnapshotFirstEmitsMessageOnce(t *testing.T) {
	cfg := &subscription.Config{
		Channels: []subscription.Channel{{Key: "messages"}},
	}
	p := newProcessor(t, cfg)

	snapshot := []any{"values", map[string]any{"messages": []any{
		map[string]any{"id": "m1", "type": "ai", "content": "Hello",
			"tool_calls": []any{map[string]any{"id": "tc1", "name": "search"}}},
	}}}
	events := drain(t, p, []any{snapshot})

	require.Len(t, events, 2)
	msg := events[0].(event.Message)
	require.Equal(t, "m1", msg.Data.MessageID)
	require.Equal(t, "ai", msg.Data.Role)
	require.Equal(t, "Hello", msg.Data.Content)
	require.False(t, msg.Data.WasStreamed)
	require.True(t, msg.Data.HasToolCalls)

	cv := events[1].(event.ChannelValue)
	entry := cv.Data.Value.([]any)[0].(map[string]any)
	require.Equal(t, false, entry["was_streamed"])
}

func TestUpdatesMode(t *testing.T) {
	cfg := &subscription.Config{
		Channels:      []subscription.Channel{{Key: "notes"}},
		PreferUpdates: true,
	}
	p := newProcessor(t, cfg)
	require.Equal(t, []frame.Mode{frame.ModeUpdates}, p.Modes())

	frames := []any{
		[]any{"updates", map[string]any{
			"researcher": map[string]any{"notes": "n1", "ignored": "x"},
		}},
		[]any{"updates", map[string]any{
			"researcher": map[string]any{"notes": "n1"},
		}},
		[]any{"updates", map[string]any{
			"writer": map[string]any{"notes": "n2"},
		}},
	}
	events := drain(t, p, frames)
	require.Len(t, events, 2)

	first := events[0].(event.ChannelUpdate)
	require.Equal(t, "researcher", first.Data.Node)
	require.Equal(t, "n1", first.Data.Value)
	second := events[1].(event.ChannelUpdate)
	require.Equal(t, "writer", second.Data.Node)
	require.Equal(t, "n2", second.Data.Value)
}

func TestNamespaceIsolation(t *testing.T) {
	cfg := &subscription.Config{
		Tokens: &subscription.Tokens{Include: []string{"all"}},
	}
	p := newProcessor(t, cfg)

	frames := []any{
		[]any{[]any{"research:1"}, "messages", []any{
			map[string]any{"id": "a", "content": "left"}, map[string]any{},
		}},
		[]any{[]any{"research:2"}, "messages", []any{
			map[string]any{"id": "b", "content": "right"}, map[string]any{},
		}},
		[]any{[]any{"research:1"}, "messages", []any{
			map[string]any{"id": "a", "content": "-more"}, map[string]any{},
		}},
	}
	events := drain(t, p, frames)
	require.Len(t, events, 3)

	require.Equal(t, "left", events[0].(event.Token).Data.Text)
	require.Equal(t, "research:1", events[0].Namespace())
	require.Equal(t, "1", events[0].TaskID())
	require.Equal(t, "right", events[1].(event.Token).Data.Text)
	// Accumulation is isolated per namespace.
	require.Equal(t, "left-more", events[2].(event.Token).Data.Text)
}

func TestTokenFiltering(t *testing.T) {
	cfg := &subscription.Config{
		Tokens: &subscription.Tokens{
			Include:     []string{"research:*"},
			Exclude:     []string{"research:internal"},
			RequireTags: []string{"user_facing"},
		},
	}
	p := newProcessor(t, cfg)

	frames := []any{
		// Wrong namespace.
		[]any{[]any{"writer:1"}, "messages", []any{
			map[string]any{"id": "a", "content": "skip"},
			map[string]any{"tags": []any{"user_facing"}},
		}},
		// Excluded namespace; exclusion wins over the include wildcard.
		[]any{[]any{"research:1", "internal:2"}, "messages", []any{
			map[string]any{"id": "b", "content": "skip"},
			map[string]any{"tags": []any{"user_facing"}},
		}},
		// Missing required tag.
		[]any{[]any{"research:1"}, "messages", []any{
			map[string]any{"id": "c", "content": "skip"},
			map[string]any{"tags": []any{"other"}},
		}},
		// Passes all filters.
		[]any{[]any{"research:1"}, "messages", []any{
			map[string]any{"id": "d", "content": "keep"},
			map[string]any{"tags": []any{"user_facing"}},
		}},
	}
	events := drain(t, p, frames)
	require.Len(t, events, 1)
	require.Equal(t, "keep", events[0].(event.Token).Data.Delta)
}

func TestToolCallReconstruction(t *testing.T) {
	cfg := &subscription.Config{
		Tokens: &subscription.Tokens{Include: []string{"all"}, IncludeToolCalls: true},
	}
	p := newProcessor(t, cfg)

	frames := []any{
		[]any{"messages", []any{
			map[string]any{"id": "m1", "content": "", "tool_call_chunks": []any{
				map[string]any{"id": "tc1", "name": "search", "args": `{"q`, "index": float64(0)},
			}},
			map[string]any{},
		}},
		[]any{"messages", []any{
			map[string]any{"id": "m1", "content": "", "tool_call_chunks": []any{
				map[string]any{"args": `uery": "a"}`, "index": float64(0)},
			}},
			map[string]any{},
		}},
	}
	events := drain(t, p, frames)
	require.Len(t, events, 3)

	require.Equal(t, event.ToolCallInitializing, events[0].(event.ToolCall).Data.Status)
	require.Equal(t, event.ToolCallStreaming, events[1].(event.ToolCall).Data.Status)
	done := events[2].(event.ToolCall)
	require.Equal(t, event.ToolCallCompleted, done.Data.Status)
	require.JSONEq(t, `{"query": "a"}`, string(done.Data.Args))
}

func TestUnrecognizedFramesAreDropped(t *testing.T) {
	cfg := &subscription.Config{
		Tokens: &subscription.Tokens{Include: []string{"all"}},
	}
	p := newProcessor(t, cfg)

	frames := []any{
		42,
		[]any{1, 2, 3, 4},
		tokenFrame("m1", "survives"),
	}
	events := drain(t, p, frames)
	require.Len(t, events, 1)
	require.Equal(t, "survives", events[0].(event.Token).Data.Delta)
}

func TestExclusiveStreamingAndReset(t *testing.T) {
	cfg := &subscription.Config{
		Tokens: &subscription.Tokens{Include: []string{"all"}},
	}
	p := newProcessor(t, cfg)

	stream, err := p.Process(context.Background(), &sliceSource{frames: []any{tokenFrame("m1", "a")}})
	require.NoError(t, err)
	_, err = p.Process(context.Background(), &sliceSource{})
	require.Error(t, err)

	evt, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, "a", evt.(event.Token).Data.Text)
	require.NoError(t, stream.Close())

	// Sequential reuse after reset starts from a clean slate.
	p.ResetState()
	events := drain(t, p, []any{tokenFrame("m1", "b")})
	require.Len(t, events, 1)
	require.Equal(t, "b", events[0].(event.Token).Data.Text)
}

func TestOpenDerivesModes(t *testing.T) {
	cfg := &subscription.Config{
		Channels: []subscription.Channel{{Key: "messages"}},
		Tokens:   &subscription.Tokens{Include: []string{"all"}},
	}
	p := newProcessor(t, cfg)

	g := &fakeGraph{frames: []any{}}
	stream, err := p.Open(context.Background(), g, "hi", map[string]any{"recursion_limit": 10})
	require.NoError(t, err)
	defer stream.Close()

	require.True(t, g.opts.Subgraphs)
	require.Equal(t, []frame.Mode{frame.ModeValues, frame.ModeMessages}, g.opts.Modes)
	require.Equal(t, map[string]any{"recursion_limit": 10}, g.opts.Config)

	_, err = stream.Recv()
	require.ErrorIs(t, err, io.EOF)
}

func TestContextCancellation(t *testing.T) {
	cfg := &subscription.Config{
		Tokens: &subscription.Tokens{Include: []string{"all"}},
	}
	p := newProcessor(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := p.Process(ctx, &sliceSource{frames: []any{tokenFrame("m1", "a")}})
	require.NoError(t, err)
	cancel()
	_, err = stream.Recv()
	require.ErrorIs(t, err, context.Canceled)
}

func TestInvalidConfigurationFailsConstruction(t *testing.T) {
	_, err := New(&subscription.Config{Tokens: &subscription.Tokens{}})
	require.ErrorIs(t, err, subscription.ErrInvalid)

	_, err = New(nil)
	require.Error(t, err)
}
