// Package graphstream normalizes the raw execution signals of a multi-agent,
// multi-namespace computation graph into a clean, typed, deduplicated event
// stream.
//
// The upstream engine multiplexes three kinds of information onto one
// asynchronous channel: incremental text fragments, full snapshots of named
// state slots, and per-node partial deltas, all tagged with a hierarchical
// namespace identifying the producing sub-task. graphstream classifies the
// ambiguous wire shapes at the boundary (package frame), matches namespaces
// against subscription patterns (package namespace, package subscription),
// computes channel deltas (package channel), accumulates streamed tokens and
// reconciles messages seen through both observation paths, and reassembles
// fragmented tool-call arguments (package toolcall). Package processor ties
// these together into a session with a strict one-frame-at-a-time pull loop.
//
// Typical use:
//
//	cfg := &subscription.Config{
//		Channels: []subscription.Channel{{Key: "messages"}},
//		Tokens:   &subscription.Tokens{Include: []string{namespace.MatchAll}, IncludeToolCalls: true},
//	}
//	stream, err := graphstream.Open(ctx, graph, input, cfg)
//	if err != nil { ... }
//	defer stream.Close()
//	for {
//		evt, err := stream.Recv()
//		if errors.Is(err, io.EOF) { break }
//		...
//	}
package graphstream

import (
	"context"

	"goa.design/graphstream/processor"
	"goa.design/graphstream/subscription"
)

// Open constructs a processor for the given subscription configuration,
// starts a run on the graph, and returns the normalized event stream. For
// finer control (run configuration, sequential session reuse, explicit
// iteration boundaries) construct a processor.Processor directly.
func Open(ctx context.Context, g processor.Graph, input any, cfg *subscription.Config, opts ...processor.Option) (*processor.Stream, error) {
	p, err := processor.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return p.Open(ctx, g, input, nil)
}
