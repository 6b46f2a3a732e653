package events

import "engagement/core/types"

// Event represents a structured state change emitted by the service.
type Event interface {
	EventType() string
}

// Typed is implemented by events that can be converted into the generic
// attribute representation consumed by sinks and streams.
type Typed interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Payload extracts the generic representation from evt when available.
func Payload(evt Event) (*types.Event, bool) {
	typed, ok := evt.(Typed)
	if !ok {
		return nil, false
	}
	payload := typed.Event()
	return payload, payload != nil
}

type wrapped struct{ evt *types.Event }

func (w wrapped) EventType() string {
	if w.evt == nil {
		return ""
	}
	return w.evt.Type
}

func (w wrapped) Event() *types.Event { return w.evt }

// Wrap adapts a bare payload to the Typed interface.
func Wrap(evt *types.Event) Typed { return wrapped{evt: evt} }
