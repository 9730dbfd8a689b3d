package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/stc-sync/internal/domain/events"
)

func TestBroker_DeliversToMatchingSubscribers(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	ctx := context.Background()

	var all, started []events.DomainEvent
	require.NoError(t, broker.Subscribe(ctx, func(_ context.Context, evt events.DomainEvent) error {
		all = append(all, evt)
		return nil
	}))
	require.NoError(t, broker.Subscribe(ctx, func(_ context.Context, evt events.DomainEvent) error {
		started = append(started, evt)
		return nil
	}, "JobStarted"))

	require.NoError(t, broker.PublishDomainEvent(ctx, events.NewDomainEvent("JobStarted", "a"), events.WithKey("job-1")))
	require.NoError(t, broker.PublishDomainEvent(ctx, events.NewDomainEvent("JobCompleted", "b")))

	require.Len(t, all, 2)
	require.Len(t, started, 1)
	assert.Equal(t, "job-1", started[0].Key)
	assert.Equal(t, events.EventType("JobCompleted"), all[1].Type)
}

func TestBroker_StopsAtFirstHandlerError(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	ctx := context.Background()
	boom := errors.New("boom")

	calls := 0
	require.NoError(t, broker.Subscribe(ctx, func(context.Context, events.DomainEvent) error {
		calls++
		return boom
	}))
	require.NoError(t, broker.Subscribe(ctx, func(context.Context, events.DomainEvent) error {
		calls++
		return nil
	}))

	err := broker.PublishDomainEvent(ctx, events.NewDomainEvent("JobFailed", nil))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestBroker_UnsubscribesOnContextDone(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	subCtx, cancel := context.WithCancel(context.Background())

	calls := 0
	require.NoError(t, broker.Subscribe(subCtx, func(context.Context, events.DomainEvent) error {
		calls++
		return nil
	}))
	cancel()

	assert.Eventually(t, func() bool {
		broker.mu.RLock()
		defer broker.mu.RUnlock()
		return len(broker.subs) == 0
	}, time.Second, time.Millisecond)

	require.NoError(t, broker.PublishDomainEvent(context.Background(), events.NewDomainEvent("JobStarted", nil)))
	assert.Zero(t, calls)
}

func TestBroker_RejectsNilHandler(t *testing.T) {
	t.Parallel()
	assert.Error(t, NewBroker().Subscribe(context.Background(), nil))
}
