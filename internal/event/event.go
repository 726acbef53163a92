// Package event provides the notification bus the engine publishes debugger
// state changes on. Consumers (the CLI, loggers, future UIs) subscribe to
// hierarchical topics; the engine never depends on who is listening.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Topic is a hierarchical event type like "thread.stopped". A subscription
// pattern may end in ".*" to match a whole subtree.
type Topic string

// Match reports whether the pattern covers t. "thread.*" matches
// "thread.stopped" and "thread.exited"; "*" matches everything.
func (p Topic) Match(t Topic) bool {
	if p == t || p == "*" {
		return true
	}
	const wild = ".*"
	if len(p) > len(wild) && p[len(p)-len(wild):] == wild {
		prefix := string(p[:len(p)-1])
		return len(t) >= len(prefix) && string(t[:len(prefix)]) == prefix
	}
	return false
}

// Metadata is the standard information attached to every event.
type Metadata struct {
	// ID uniquely identifies the event instance.
	ID string

	// Timestamp is when the event was created.
	Timestamp time.Time

	// Source identifies the publishing component.
	Source string
}

// Event is one immutable notification.
type Event struct {
	// Type is the event's topic.
	Type Topic

	// Payload is the topic-specific data.
	Payload any

	// Metadata is the standard event information.
	Metadata Metadata
}

// New creates an event with generated metadata.
func New(eventType Topic, payload any, source string) Event {
	return Event{
		Type:    eventType,
		Payload: payload,
		Metadata: Metadata{
			ID:        uuid.NewString(),
			Timestamp: time.Now(),
			Source:    source,
		},
	}
}
