package processor

import (
	"context"
	"sort"

	"goa.design/graphstream/event"
	"goa.design/graphstream/frame"
	"goa.design/graphstream/namespace"
	"goa.design/graphstream/subscription"
)

// handleValues processes one snapshot frame: for each monitored
// snapshot-mode channel present, reconcile message entries against the
// streamed path and hand the value to the monitor.
func (p *Processor) handleValues(ctx context.Context, f *frame.Frame) error {
	_, task := namespace.Components(f.Namespace)
	for i := range p.cfg.Channels {
		ch := &p.cfg.Channels[i]
		if ch.Mode != subscription.ModeValues {
			continue
		}
		value, ok := f.Values[ch.Key]
		if !ok {
			continue
		}
		value = p.reconcile(ctx, f.Namespace, task, value)
		if err := p.monitor.Observe(f.Namespace, task, ch, value, "", false); err != nil {
			return err
		}
	}
	return nil
}

// handleUpdates processes one delta frame: per node (in stable order), for
// each monitored delta-mode channel the node wrote, reconcile and observe.
func (p *Processor) handleUpdates(ctx context.Context, f *frame.Frame) error {
	_, task := namespace.Components(f.Namespace)
	nodes := make([]string, 0, len(f.Updates))
	for node := range f.Updates {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		channels := f.Updates[node]
		for i := range p.cfg.Channels {
			ch := &p.cfg.Channels[i]
			if ch.Mode != subscription.ModeUpdates {
				continue
			}
			value, ok := channels[ch.Key]
			if !ok {
				continue
			}
			value = p.reconcile(ctx, f.Namespace, task, value)
			if err := p.monitor.Observe(f.Namespace, task, ch, value, node, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// reconcile deduplicates complete messages observed through the snapshot
// path against the incremental token path. The upstream source offers two
// independently-timed observation paths for the same logical message; naive
// forwarding of both would render the message twice.
//
// For every message-shaped entry in a list value: an id already in the seen
// set is annotated was_streamed=true and its content is not re-emitted; an
// unseen id is added to the set, annotated was_streamed=false, and emitted as
// a Message event with full content. Annotations are made in place so the
// subsequent channel event carries them.
func (p *Processor) reconcile(ctx context.Context, ns, task string, value any) any {
	list, ok := value.([]any)
	if !ok {
		return value
	}
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		if id == "" {
			continue
		}
		if _, has := m["content"]; !has {
			continue
		}
		if _, streamed := p.seen[id]; streamed {
			m["was_streamed"] = true
			continue
		}
		p.seen[id] = struct{}{}
		m["was_streamed"] = false
		content, _ := m["content"].(string)
		role, _ := m["role"].(string)
		if role == "" {
			role, _ = m["type"].(string)
		}
		calls, _ := m["tool_calls"].([]any)
		payload := event.MessagePayload{
			MessageID:    id,
			Role:         role,
			Content:      content,
			WasStreamed:  false,
			HasToolCalls: len(calls) > 0,
		}
		p.queue = append(p.queue, event.Message{
			Base: event.NewBase(event.EventMessage, ns, task, p.session, p.now(), payload),
			Data: payload,
		})
		p.metrics.EventEmitted(ctx, string(event.EventMessage))
	}
	return value
}
