package processor

import (
	"context"

	"goa.design/graphstream/event"
	"goa.design/graphstream/frame"
	"goa.design/graphstream/namespace"
)

// handleToken processes one token-mode frame: namespace and tag filtering,
// turn-scoped accumulation, token emission, and tool-call tracking.
func (p *Processor) handleToken(ctx context.Context, f *frame.Frame) error {
	sub := p.cfg.Tokens
	if sub == nil {
		return nil
	}
	if !namespace.Matches(sub.Include, sub.Exclude, f.Namespace) {
		return nil
	}
	tk := f.Token
	if len(sub.RequireTags) > 0 && !intersects(tk.Tags, sub.RequireTags) {
		return nil
	}
	_, task := namespace.Components(f.Namespace)

	buf := p.turn(f.Namespace, task, tk.MessageID)
	if tk.Content != "" {
		buf.text.WriteString(tk.Content)
		payload := event.TokenPayload{
			MessageID: tk.MessageID,
			Delta:     tk.Content,
			Text:      buf.text.String(),
		}
		p.queue = append(p.queue, event.Token{
			Base: event.NewBase(event.EventToken, f.Namespace, task, p.session, p.now(), payload),
			Data: payload,
		})
		p.metrics.EventEmitted(ctx, string(event.EventToken))
	}
	// The message is now known through the incremental path; a later
	// snapshot sighting of the same id must not re-emit its content.
	if tk.MessageID != "" {
		p.seen[tk.MessageID] = struct{}{}
	}

	if !sub.IncludeToolCalls {
		return nil
	}
	for _, c := range tk.ToolCalls {
		if err := p.tracker.Announce(ctx, f.Namespace, task, tk.MessageID, c.Index, c.ID, c.Name); err != nil {
			return err
		}
	}
	for _, c := range tk.ToolCallChunks {
		// The first chunk of a call may carry the announcement inline.
		if c.ID != "" && c.Name != "" {
			if err := p.tracker.Announce(ctx, f.Namespace, task, tk.MessageID, c.Index, c.ID, c.Name); err != nil {
				return err
			}
		}
		if c.Args == "" {
			continue
		}
		if err := p.tracker.ApplyChunk(ctx, f.Namespace, task, tk.MessageID, c.Index, c.Args); err != nil {
			return err
		}
	}
	return nil
}

// turn returns the accumulator buffer for a (namespace, task) pair, starting
// a fresh turn when the message id changes.
func (p *Processor) turn(ns, task, messageID string) *turnBuffer {
	key := turnKey{ns: ns, task: task}
	buf := p.buffers[key]
	if buf == nil {
		buf = &turnBuffer{messageID: messageID}
		p.buffers[key] = buf
		return buf
	}
	if messageID != "" && buf.messageID != messageID {
		buf.messageID = messageID
		buf.text.Reset()
	}
	return buf
}

func intersects(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}
