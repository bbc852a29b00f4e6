package processor

import (
	"context"
	"errors"
	"io"

	"goa.design/graphstream/event"
)

// Stream is the normalized event sequence for one run. Recv pulls raw frames
// from the source one at a time, fully processing each frame (including
// handing every emitted event to the consumer) before pulling the next, so a
// slow consumer backpressures the producer by at most one frame.
type Stream struct {
	p      *Processor
	ctx    context.Context
	src    FrameSource
	done   bool
	closed bool
}

// Recv returns the next normalized event. It returns io.EOF once the frame
// source is exhausted and all queued events have been delivered, and the
// context error when the context ends first.
func (s *Stream) Recv() (event.Event, error) {
	for len(s.p.queue) == 0 {
		if s.closed {
			return nil, errors.New("processor: stream is closed")
		}
		if s.done {
			return nil, io.EOF
		}
		if err := s.ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := s.src.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				continue
			}
			return nil, err
		}
		s.p.handleFrame(s.ctx, raw)
	}
	e := s.p.queue[0]
	s.p.queue = s.p.queue[1:]
	return e, nil
}

// Close abandons the stream. In-flight tool-call reconstructions are simply
// dropped; the core holds no external resources beyond the frame source.
// Close releases the processor for a subsequent sequential stream.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.p.streaming = false
	return s.src.Close()
}
