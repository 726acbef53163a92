package event

import "errors"

var (
	// ErrNilHandler indicates a subscription with no handler.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrInvalidTopic indicates an empty topic pattern.
	ErrInvalidTopic = errors.New("invalid topic")

	// ErrInvalidEvent indicates an event with no topic.
	ErrInvalidEvent = errors.New("event has no topic")

	// ErrSubscriptionNotFound indicates the subscription is not registered.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)
