package toolcall

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/graphstream/event"
	"goa.design/graphstream/subscription"
)

func collectTracker(t *testing.T, opts ...Option) (*Tracker, *[]event.ToolCall) {
	t.Helper()
	var events []event.ToolCall
	emit := func(e event.Event) error {
		tc, ok := e.(event.ToolCall)
		require.True(t, ok)
		events = append(events, tc)
		return nil
	}
	opts = append(opts, WithClock(func() time.Time { return time.Unix(1700000000, 0) }))
	return NewTracker("sess-1", emit, opts...), &events
}

func TestTrackerHappyPath(t *testing.T) {
	ctx := context.Background()
	tr, events := collectTracker(t)

	require.NoError(t, tr.Announce(ctx, "main", "", "m1", 0, "tc1", "search"))
	require.NoError(t, tr.ApplyChunk(ctx, "main", "", "m1", 0, `{"q`))
	require.NoError(t, tr.ApplyChunk(ctx, "main", "", "m1", 0, `uery": "a"}`))

	require.Len(t, *events, 3)
	started := (*events)[0]
	require.Equal(t, event.ToolCallInitializing, started.Data.Status)
	require.Equal(t, "tc1", started.Data.ToolCallID)
	require.Equal(t, "search", started.Data.ToolName)

	progress := (*events)[1]
	require.Equal(t, event.ToolCallStreaming, progress.Data.Status)
	require.Equal(t, `{"q`, progress.Data.ArgsDelta)
	require.Equal(t, `{"q`, progress.Data.ArgsText)

	done := (*events)[2]
	require.Equal(t, event.ToolCallCompleted, done.Data.Status)
	var args map[string]any
	require.NoError(t, json.Unmarshal(done.Data.Args, &args))
	require.Equal(t, map[string]any{"query": "a"}, args)

	require.Empty(t, tr.Active())
	completed := tr.CompletedThisIteration()
	require.Len(t, completed, 1)
	require.Equal(t, "tc1", completed[0].ID)
	require.Equal(t, event.ToolCallCompleted, completed[0].Status)
}

func TestTrackerInvalidJSON(t *testing.T) {
	ctx := context.Background()
	tr, events := collectTracker(t)

	require.NoError(t, tr.Announce(ctx, "main", "", "m1", 0, "tc1", "search"))
	require.NoError(t, tr.ApplyChunk(ctx, "main", "", "m1", 0, `{bad json}`))

	require.Len(t, *events, 2)
	errEvt := (*events)[1]
	require.Equal(t, event.ToolCallError, errEvt.Data.Status)
	require.NotEmpty(t, errEvt.Data.Error)
	require.Equal(t, `{bad json}`, errEvt.Data.ArgsText)
	require.Empty(t, tr.Active())
	require.Empty(t, tr.CompletedThisIteration())
}

func TestTrackerNonObjectArguments(t *testing.T) {
	ctx := context.Background()
	tr, events := collectTracker(t)

	require.NoError(t, tr.Announce(ctx, "main", "", "m1", 0, "tc1", "search"))
	require.NoError(t, tr.ApplyChunk(ctx, "main", "", "m1", 0, `[1, 2]`))

	require.Equal(t, event.ToolCallError, (*events)[1].Data.Status)
}

func TestTrackerOrphanChunk(t *testing.T) {
	ctx := context.Background()
	tr, events := collectTracker(t)

	// No announcement for (m9, 3): dropped, no event, no error.
	require.NoError(t, tr.ApplyChunk(ctx, "main", "", "m9", 3, `{"x": 1}`))
	require.Empty(t, *events)
	require.Empty(t, tr.Active())
}

func TestTrackerIterationFlush(t *testing.T) {
	ctx := context.Background()
	tr, _ := collectTracker(t)

	require.NoError(t, tr.Announce(ctx, "main", "", "m1", 0, "tc1", "search"))
	require.NoError(t, tr.ApplyChunk(ctx, "main", "", "m1", 0, `{"a": 1}`))
	require.Len(t, tr.CompletedThisIteration(), 1)

	tr.StartNewIteration()
	require.Empty(t, tr.CompletedThisIteration())
	require.Empty(t, tr.Active())
	history := tr.History()
	require.Len(t, history, 1)
	require.Equal(t, "tc1", history[0].ID)
	require.Equal(t, 0, history[0].Iteration)
	require.Equal(t, 1, tr.Iteration())

	// A reused index in the new batch must not collide with the flushed call.
	require.NoError(t, tr.Announce(ctx, "main", "", "m2", 0, "tc2", "search"))
	require.NoError(t, tr.ApplyChunk(ctx, "main", "", "m2", 0, `{"b": 2}`))
	completed := tr.CompletedThisIteration()
	require.Len(t, completed, 1)
	require.Equal(t, "tc2", completed[0].ID)
	require.Equal(t, 1, completed[0].Iteration)
	require.Len(t, tr.History(), 1)
}

func TestTrackerImplicitIterationOnFreshID(t *testing.T) {
	ctx := context.Background()
	tr, _ := collectTracker(t)

	require.NoError(t, tr.Announce(ctx, "main", "", "m1", 0, "tc1", "search"))
	require.NoError(t, tr.ApplyChunk(ctx, "main", "", "m1", 0, `{}`))
	require.Equal(t, 0, tr.Iteration())

	// Batch drained; a fresh id signals the next batch.
	require.NoError(t, tr.Announce(ctx, "main", "", "m2", 0, "tc2", "search"))
	require.Equal(t, 1, tr.Iteration())
	require.Len(t, tr.History(), 1)
	require.Empty(t, tr.CompletedThisIteration())
}

func TestTrackerSchemaValidation(t *testing.T) {
	ctx := context.Background()
	cfg := &subscription.Config{ToolSchemas: map[string]string{
		"search": `{"type":"object","required":["query"],"properties":{"query":{"type":"string"}}}`,
	}}
	require.NoError(t, cfg.Validate())
	tr, events := collectTracker(t, WithSchemas(cfg.Schema))

	require.NoError(t, tr.Announce(ctx, "main", "", "m1", 0, "tc1", "search"))
	require.NoError(t, tr.ApplyChunk(ctx, "main", "", "m1", 0, `{"page": 2}`))
	require.Equal(t, event.ToolCallError, (*events)[1].Data.Status)
	require.Contains(t, (*events)[1].Data.Error, "schema")

	require.NoError(t, tr.Announce(ctx, "main", "", "m1", 1, "tc2", "search"))
	require.NoError(t, tr.ApplyChunk(ctx, "main", "", "m1", 1, `{"query": "a"}`))
	require.Equal(t, event.ToolCallCompleted, (*events)[3].Data.Status)
}

func TestTrackerReset(t *testing.T) {
	ctx := context.Background()
	tr, _ := collectTracker(t)

	require.NoError(t, tr.Announce(ctx, "main", "", "m1", 0, "tc1", "search"))
	require.NoError(t, tr.ApplyChunk(ctx, "main", "", "m1", 0, `{}`))
	tr.StartNewIteration()
	require.NotEmpty(t, tr.History())

	tr.Reset()
	require.Empty(t, tr.History())
	require.Empty(t, tr.Active())
	require.Empty(t, tr.CompletedThisIteration())
	require.Equal(t, 0, tr.Iteration())
}

func TestBalanced(t *testing.T) {
	cases := []struct {
		buf  string
		want bool
	}{
		{buf: `{"a": 1}`, want: true},
		{buf: `{bad json}`, want: true},
		{buf: `{"a`, want: false},
		{buf: `{"a": [1, 2`, want: false},
		{buf: `{"a": "brace } in string"}`, want: true},
		{buf: `{"a": "open { in string"`, want: false},
		{buf: `{"esc\": 1"`, want: false},
		{buf: `}{`, want: true},
		{buf: ``, want: true},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, balanced(tc.buf), "buffer %q", tc.buf)
	}
}
