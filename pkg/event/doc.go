// Package event defines the telemetry event value object and its canonical
// JSON wire form. Events are constructed by the embedding application and
// handed to a pulse client for delivery; the client never mutates an event
// after enqueue apart from attaching defaults left unset by the caller.
package event
