package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

const defaultSubscriberBuffer = 256

// Bus fans events out to independent subscribers. Emit never blocks the
// caller: a subscriber whose buffer is full misses the event and the drop is
// counted. Delivery failures never feed back into the emitting state change.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// Subscription receives events from a Bus until cancelled.
type Subscription struct {
	id      uint64
	name    string
	ch      chan Event
	bus     *Bus
	once    sync.Once
	dropped atomic.Uint64
}

// NewBus constructs an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger, subs: make(map[uint64]*Subscription)}
}

// Emit implements Emitter.
func (b *Bus) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			sub.dropped.Add(1)
			b.dropped.Add(1)
			b.logger.Warn("event dropped", "subscriber", sub.name, "type", evt.EventType())
		}
	}
}

// Subscribe registers a new subscriber with the given buffer size.
func (b *Bus) Subscribe(name string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{id: b.nextID, name: name, ch: make(chan Event, buffer), bus: b}
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Handle subscribes fn and runs it on a dedicated goroutine until ctx is
// cancelled or the bus is closed. Errors returned by fn are logged only.
func (b *Bus) Handle(ctx context.Context, name string, buffer int, fn func(context.Context, Event) error) {
	sub := b.Subscribe(name, buffer)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer sub.Cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-sub.C():
				if !ok {
					return
				}
				if err := fn(ctx, evt); err != nil {
					b.logger.Error("event handler failed", "subscriber", name, "type", evt.EventType(), "error", err)
				}
			}
		}
	}()
}

// Dropped reports how many deliveries were skipped because of full buffers.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close stops delivery, closes every subscription and waits for handlers
// started through Handle to drain.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*Subscription)
	b.mu.Unlock()
	for _, sub := range subs {
		sub.once.Do(func() { close(sub.ch) })
	}
	b.wg.Wait()
}

// C returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Event { return s.ch }

// Dropped reports events this subscriber missed.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Cancel detaches the subscription from the bus.
func (s *Subscription) Cancel() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
}
