// Package events provides domain event handling capabilities for communicating state changes
// and important activities across system boundaries in a decoupled way.
package events

import "context"

// DomainEventPublisher publishes domain events to notify other parts of the system about
// important domain changes. It provides a technology-agnostic interface to decouple event
// producers from the underlying messaging infrastructure.
type DomainEventPublisher interface {
	// PublishDomainEvent sends a domain event to interested subscribers. The provided context
	// controls cancellation and deadlines. Optional PublishOptions configure routing behavior.
	PublishDomainEvent(ctx context.Context, event DomainEvent, opts ...PublishOption) error
}

// NopPublisher drops every event. Used when no event bus is configured.
type NopPublisher struct{}

// PublishDomainEvent implements DomainEventPublisher.
func (NopPublisher) PublishDomainEvent(context.Context, DomainEvent, ...PublishOption) error {
	return nil
}
