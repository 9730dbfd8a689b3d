package events

import "time"

// DomainEvent encapsulates all event data flowing out of the sync engine, providing
// a standardized format for other ERP components that react to provisioning jobs.
type DomainEvent struct {
	// Type identifies the category of this event for routing and handling.
	Type EventType

	// Key enables consistent event routing, typically the job id so all events
	// of one job land on the same partition in order.
	Key string

	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string

	// Timestamp records when this event was created.
	Timestamp time.Time

	// Payload contains the actual event data. The concrete type depends on Type.
	Payload any
}

// NewDomainEvent stamps a payload with its type and the current time.
func NewDomainEvent(typ EventType, payload any) DomainEvent {
	return DomainEvent{Type: typ, Timestamp: time.Now().UTC(), Payload: payload}
}
