package event

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(Event)

// Stats holds bus delivery counters.
type Stats struct {
	// Published counts events offered to the bus.
	Published uint64

	// Delivered counts handler invocations that completed.
	Delivered uint64

	// HandlerPanics counts handlers that panicked.
	HandlerPanics uint64

	// ActiveSubscribers is the current subscription count.
	ActiveSubscribers int
}

// Bus delivers events to topic subscriptions. Delivery is synchronous and
// in subscription order; a panicking handler is recovered and counted, never
// propagated to the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*Subscription

	published uint64
	delivered uint64
	panics    uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*Subscription)}
}

// Subscribe registers a handler for a topic pattern.
func (b *Bus) Subscribe(pattern Topic, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if pattern == "" {
		return nil, ErrInvalidTopic
	}
	sub := &Subscription{id: uuid.NewString(), pattern: pattern, handler: handler}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub, nil
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return ErrSubscriptionNotFound
	}
	sub.Cancel()
	b.mu.Lock()
	_, ok := b.subs[sub.id]
	delete(b.subs, sub.id)
	b.mu.Unlock()
	if !ok {
		return ErrSubscriptionNotFound
	}
	return nil
}

// Publish delivers an event to every matching active subscription.
func (b *Bus) Publish(evt Event) error {
	if evt.Type == "" {
		return ErrInvalidEvent
	}
	atomic.AddUint64(&b.published, 1)

	b.mu.RLock()
	matched := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.Active() && sub.pattern.Match(evt.Type) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matched {
		b.deliver(sub, evt)
	}
	return nil
}

// deliver runs one handler with panic recovery.
func (b *Bus) deliver(sub *Subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint64(&b.panics, 1)
		}
	}()
	sub.handler(evt)
	atomic.AddUint64(&b.delivered, 1)
}

// Stats returns current delivery counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{
		Published:         atomic.LoadUint64(&b.published),
		Delivered:         atomic.LoadUint64(&b.delivered),
		HandlerPanics:     atomic.LoadUint64(&b.panics),
		ActiveSubscribers: n,
	}
}
