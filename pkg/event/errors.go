package event

import "errors"

// Validation errors returned by New and by serialization.
// These can be checked with errors.Is.
var (
	// ErrMissingEventType is returned when an event is created without a type.
	ErrMissingEventType = errors.New("pulse: event type is required")

	// ErrMissingIdentity is returned when an event carries neither a user id
	// nor a device id. Such an event can never be correlated by the collector.
	ErrMissingIdentity = errors.New("pulse: event requires a user id or a device id")

	// ErrTooManyProperties is returned when a property map exceeds
	// MaxPropertyKeys entries during serialization.
	ErrTooManyProperties = errors.New("pulse: property map exceeds key limit")
)
