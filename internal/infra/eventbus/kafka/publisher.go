// Package kafka publishes provisioning domain events to Kafka so other ERP
// components can follow synchronization jobs.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/stc-sync/internal/domain/events"
	"github.com/ahrav/stc-sync/internal/infra/eventbus/kafka/tracing"
	"github.com/ahrav/stc-sync/pkg/common/logger"
)

// EventTypeHeader carries the domain event type on every message.
const EventTypeHeader = "event-type"

// PublisherMetrics defines metrics operations needed to monitor publishing.
type PublisherMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
}

var _ events.DomainEventPublisher = (*DomainEventPublisher)(nil)

// DomainEventPublisher implements events.DomainEventPublisher on a sarama
// sync producer. Events are encoded as a JSON envelope and keyed by the
// publish key so every event of one job stays ordered on one partition.
type DomainEventPublisher struct {
	producer sarama.SyncProducer
	topic    string

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics PublisherMetrics
}

// NewDomainEventPublisher creates a publisher writing to topic.
func NewDomainEventPublisher(
	producer sarama.SyncProducer,
	topic string,
	logger *logger.Logger,
	metrics PublisherMetrics,
	tracer trace.Tracer,
) *DomainEventPublisher {
	return &DomainEventPublisher{
		producer: producer,
		topic:    topic,
		logger:   logger.With("component", "kafka_publisher"),
		tracer:   tracer,
		metrics:  metrics,
	}
}

// envelope is the wire form of a domain event.
type envelope struct {
	Type      events.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   any              `json:"payload"`
}

// PublishDomainEvent sends a domain event to the configured topic.
func (p *DomainEventPublisher) PublishDomainEvent(
	ctx context.Context,
	event events.DomainEvent,
	opts ...events.PublishOption,
) error {
	ctx, span := tracing.StartProducerSpan(ctx, p.topic, p.tracer)
	defer span.End()

	params := events.ApplyOptions(event, opts...)
	span.SetAttributes(
		attribute.String("event.type", string(event.Type)),
		attribute.String("event.key", params.Key),
	)

	msgBytes, err := json.Marshal(envelope{Type: event.Type, Timestamp: event.Timestamp, Payload: event.Payload})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to serialize event")
		p.incPublishError(ctx)
		return fmt.Errorf("failed to serialize payload for event %s: %w", event.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.ByteEncoder(msgBytes),
		Headers: []sarama.RecordHeader{
			{Key: []byte(EventTypeHeader), Value: []byte(event.Type)},
		},
	}
	if params.Key != "" {
		msg.Key = sarama.StringEncoder(params.Key) // Used for partition routing
	}
	for k, v := range params.Headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	tracing.InjectTraceContext(ctx, msg)

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send message")
		p.incPublishError(ctx)
		return fmt.Errorf("failed to send message to kafka topic %s: %w", p.topic, err)
	}

	if p.metrics != nil {
		p.metrics.IncMessagePublished(ctx, p.topic)
	}
	p.logger.Debug(ctx, "Published message to Kafka",
		"topic", p.topic,
		"partition", partition,
		"offset", offset,
		"event_type", string(event.Type),
		"key", params.Key,
	)
	return nil
}

func (p *DomainEventPublisher) incPublishError(ctx context.Context) {
	if p.metrics != nil {
		p.metrics.IncPublishError(ctx, p.topic)
	}
}
