// Package channel tracks the values of monitored state slots across frames
// and turns changes into typed events. For each (namespace, channel) pair the
// Monitor remembers the last recorded value, suppresses observations that are
// structurally equal to it, and computes a compact delta for the ones that
// changed: the newly appended suffix for grown lists, the changed keys for
// maps, and the raw value otherwise.
package channel

import (
	"reflect"
	"time"

	"goa.design/graphstream/event"
	"goa.design/graphstream/subscription"
)

type (
	// Monitor owns the previous-value cache for one processor session. It
	// is not safe for concurrent use; the processor drives it strictly
	// frame by frame.
	Monitor struct {
		session string
		emit    func(event.Event) error
		now     func() time.Time
		prev    map[pairKey]any
	}

	// Option customizes a Monitor.
	Option func(*Monitor)

	pairKey struct {
		ns      string
		channel string
	}
)

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

// NewMonitor constructs a Monitor that emits channel events through emit.
// session is the session id stamped on emitted events.
func NewMonitor(session string, emit func(event.Event) error, opts ...Option) *Monitor {
	m := &Monitor{
		session: session,
		emit:    emit,
		now:     time.Now,
		prev:    make(map[pairKey]any),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Observe records a new value for a monitored channel and emits the
// appropriate event. An observation structurally equal to the previous value
// for the same (namespace, channel) pair is suppressed. A configured filter
// predicate that fails suppresses emission but still records the value. A
// channel tagged with an artifact kind emits an Artifact event whose IsUpdate
// flag reports whether a prior value existed; other channels emit a
// ChannelValue or ChannelUpdate event according to isUpdate, with node naming
// the producing graph node for updates.
func (m *Monitor) Observe(ns, task string, ch *subscription.Channel, value any, node string, isUpdate bool) error {
	key := pairKey{ns: ns, channel: ch.Key}
	prev, existed := m.prev[key]
	if existed && reflect.DeepEqual(prev, value) {
		return nil
	}
	m.prev[key] = value
	if !existed && isEmpty(value) {
		// An initial empty value is recorded as the baseline but carries
		// no information worth reporting.
		return nil
	}
	if ch.Filter != nil && !ch.Filter(ns, value) {
		return nil
	}
	delta := value
	if existed {
		delta = computeDelta(prev, value)
	}
	ts := m.now()
	if ch.Artifact != "" {
		payload := event.ArtifactPayload{
			Channel:  ch.Key,
			Kind:     ch.Artifact,
			Value:    value,
			IsUpdate: existed,
		}
		return m.emit(event.Artifact{
			Base: event.NewBase(event.EventArtifact, ns, task, m.session, ts, payload),
			Data: payload,
		})
	}
	if isUpdate {
		payload := event.ChannelUpdatePayload{
			Channel: ch.Key,
			Node:    node,
			Value:   value,
			Delta:   delta,
		}
		return m.emit(event.ChannelUpdate{
			Base: event.NewBase(event.EventChannelUpdate, ns, task, m.session, ts, payload),
			Data: payload,
		})
	}
	payload := event.ChannelValuePayload{
		Channel: ch.Key,
		Value:   value,
		Delta:   delta,
	}
	return m.emit(event.ChannelValue{
		Base: event.NewBase(event.EventChannelValue, ns, task, m.session, ts, payload),
		Data: payload,
	})
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// Previous returns the last recorded value for a (namespace, channel) pair
// and whether one exists.
func (m *Monitor) Previous(ns, channel string) (any, bool) {
	v, ok := m.prev[pairKey{ns: ns, channel: channel}]
	return v, ok
}

// Reset clears the previous-value cache so the monitor can serve a new
// session.
func (m *Monitor) Reset() {
	m.prev = make(map[pairKey]any)
}
