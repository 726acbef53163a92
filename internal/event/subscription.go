package event

import "sync/atomic"

// Subscription is one registered handler. Cancel deactivates it without
// removing it from the bus; Unsubscribe does both.
type Subscription struct {
	id       string
	pattern  Topic
	handler  Handler
	canceled atomic.Bool
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Pattern returns the subscribed topic pattern.
func (s *Subscription) Pattern() Topic { return s.pattern }

// Active reports whether the subscription still receives events.
func (s *Subscription) Active() bool { return !s.canceled.Load() }

// Cancel stops delivery to the subscription.
func (s *Subscription) Cancel() { s.canceled.Store(true) }
