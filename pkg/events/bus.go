package events

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultBufferSize is used when Subscribe is called with a non-positive size
const DefaultBufferSize = 64

// Bus fans events out to subscriptions. The zero value is not usable; use NewBus.
// A nil *Bus is valid and discards everything, so components can publish
// unconditionally.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	closed        atomic.Bool
	published     atomic.Int64
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{
		subscriptions: make(map[string]*Subscription),
	}
}

// Publish delivers event to every matching subscription without blocking
func (b *Bus) Publish(event Event) {
	if b == nil || b.closed.Load() {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	b.published.Add(1)
	for _, sub := range b.subscriptions {
		sub.publish(event)
	}
}

// Published returns the number of events accepted by the bus
func (b *Bus) Published() int64 {
	if b == nil {
		return 0
	}
	return b.published.Load()
}

// Subscribe creates a subscription receiving every event
func (b *Bus) Subscribe(bufferSize int) *Subscription {
	return b.SubscribeFiltered(bufferSize, Filter{})
}

// SubscribeFiltered creates a subscription receiving events that match filter
func (b *Bus) SubscribeFiltered(bufferSize int, filter Filter) *Subscription {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	if b == nil || b.closed.Load() {
		sub := &Subscription{
			id:     "sub-closed-" + uuid.NewString(),
			events: make(chan Event),
		}
		sub.closed.Store(true)
		close(sub.events)
		return sub
	}

	sub := &Subscription{
		id:     "sub-" + uuid.NewString(),
		events: make(chan Event, bufferSize),
		filter: filter,
		bus:    b,
	}

	b.mu.Lock()
	b.subscriptions[sub.id] = sub
	b.mu.Unlock()

	return sub
}

// SubscriberCount returns the number of active subscriptions
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}

// Close closes every subscription. Later publishes are dropped.
func (b *Bus) Close() {
	if b == nil || !b.closed.CompareAndSwap(false, true) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subscriptions {
		sub.close()
	}
	b.subscriptions = make(map[string]*Subscription)
}

// Subscription receives events from a Bus
type Subscription struct {
	id            string
	events        chan Event
	filter        Filter
	overflowCount atomic.Int64
	bus           *Bus
	closed        atomic.Bool
	closeOnce     sync.Once
}

// Events returns the channel for receiving events.
// The channel is closed when the subscription is unsubscribed or the bus is closed.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// ID returns the unique identifier for this subscription
func (s *Subscription) ID() string {
	return s.id
}

// OverflowCount returns the number of events dropped due to a full buffer
func (s *Subscription) OverflowCount() int64 {
	return s.overflowCount.Load()
}

// Unsubscribe stops delivery and closes the events channel. Safe to call repeatedly.
func (s *Subscription) Unsubscribe() {
	if s.bus != nil {
		s.bus.mu.Lock()
		delete(s.bus.subscriptions, s.id)
		s.bus.mu.Unlock()
	}
	s.close()
}

// publish is called with the bus read lock held, so close cannot race with the send
func (s *Subscription) publish(event Event) {
	if s.closed.Load() {
		return
	}
	if !s.filter.Matches(event) {
		return
	}

	select {
	case s.events <- event:
	default:
		s.overflowCount.Add(1)
	}
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.events)
	})
}
