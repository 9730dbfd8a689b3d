package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/stc-sync/internal/domain/events"
	"github.com/ahrav/stc-sync/pkg/common/logger"
)

type countingMetrics struct {
	published, failed int
}

func (m *countingMetrics) IncMessagePublished(context.Context, string) { m.published++ }
func (m *countingMetrics) IncPublishError(context.Context, string)     { m.failed++ }

func TestDomainEventPublisher_Publish(t *testing.T) {
	t.Parallel()

	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "stc.jobs" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "job-1" {
			return errors.New("unexpected key " + string(key))
		}
		value, _ := msg.Value.Encode()
		var env struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		if err := json.Unmarshal(value, &env); err != nil {
			return err
		}
		if env.Type != "JobStarted" || env.Payload["job_id"] != "job-1" {
			return errors.New("unexpected envelope " + string(value))
		}
		return nil
	})
	defer func() { assert.NoError(t, producer.Close()) }()

	metrics := new(countingMetrics)
	pub := NewDomainEventPublisher(producer, "stc.jobs", logger.Noop(), metrics, noop.NewTracerProvider().Tracer("test"))

	evt := events.DomainEvent{
		Type:      "JobStarted",
		Timestamp: time.Now(),
		Payload:   map[string]string{"job_id": "job-1"},
	}
	require.NoError(t, pub.PublishDomainEvent(context.Background(), evt, events.WithKey("job-1")))
	assert.Equal(t, 1, metrics.published)
}

func TestDomainEventPublisher_SendFailure(t *testing.T) {
	t.Parallel()

	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrLeaderNotAvailable)
	defer func() { assert.NoError(t, producer.Close()) }()

	metrics := new(countingMetrics)
	pub := NewDomainEventPublisher(producer, "stc.jobs", logger.Noop(), metrics, noop.NewTracerProvider().Tracer("test"))

	err := pub.PublishDomainEvent(context.Background(), events.NewDomainEvent("JobFailed", map[string]int{"step": 2}))
	assert.ErrorIs(t, err, sarama.ErrLeaderNotAvailable)
	assert.Equal(t, 1, metrics.failed)
}

func TestDomainEventPublisher_UnserializablePayload(t *testing.T) {
	t.Parallel()

	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	defer func() { assert.NoError(t, producer.Close()) }()

	metrics := new(countingMetrics)
	pub := NewDomainEventPublisher(producer, "stc.jobs", logger.Noop(), metrics, noop.NewTracerProvider().Tracer("test"))

	err := pub.PublishDomainEvent(context.Background(), events.NewDomainEvent("JobFailed", make(chan int)))
	assert.Error(t, err)
	assert.Equal(t, 1, metrics.failed)
}
