// Package memory provides an in-memory domain event bus. It offers a
// lightweight, non-persistent publisher suitable for tests and single-node
// deployments that run without Kafka.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/ahrav/stc-sync/internal/domain/events"
)

// Handler processes one domain event.
type Handler func(ctx context.Context, evt events.DomainEvent) error

type subscription struct {
	types   map[events.EventType]struct{}
	handler Handler
}

func (s subscription) wants(t events.EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

var _ events.DomainEventPublisher = (*Broker)(nil)

// Broker delivers published events synchronously to every matching
// subscriber.
type Broker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]subscription
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]subscription)}
}

// Subscribe registers handler for the given event types, or for every event
// when no type is given. The subscription ends when ctx is done.
func (b *Broker) Subscribe(ctx context.Context, handler Handler, types ...events.EventType) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	sub := subscription{types: make(map[events.EventType]struct{}, len(types)), handler: handler}
	for _, t := range types {
		sub.types[t] = struct{}{}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}()

	return nil
}

// PublishDomainEvent delivers event to the matching subscribers, stopping at
// the first handler error. Publish options are folded into the event key and
// headers.
func (b *Broker) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := events.ApplyOptions(event, opts...)
	event.Key, event.Headers = params.Key, params.Headers

	b.mu.RLock()
	// Copy handlers to avoid holding the lock while executing them.
	handlers := make([]Handler, 0, len(b.subs))
	for id := 0; id < b.nextID; id++ {
		if sub, ok := b.subs[id]; ok && sub.wants(event.Type) {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
