// Package progressreporter provides ProgressSink implementations that carry
// provisioning job progress to the browser over server-sent events and to
// other ERP components through domain events.
package progressreporter

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/stc-sync/internal/domain/events"
	"github.com/ahrav/stc-sync/internal/domain/provisioning"
)

var _ provisioning.ProgressSink = (*DomainEventSink)(nil)

// DomainEventSink publishes a ProgressReportedEvent for every progress
// update so components other than the browser can follow a job.
type DomainEventSink struct {
	jobID string

	domainPublisher events.DomainEventPublisher
	tracer          trace.Tracer
}

// NewDomainEventSink creates a DomainEventSink for one job.
func NewDomainEventSink(jobID string, domainPublisher events.DomainEventPublisher, tracer trace.Tracer) *DomainEventSink {
	return &DomainEventSink{jobID: jobID, domainPublisher: domainPublisher, tracer: tracer}
}

// Report publishes the progress event keyed by job id, so every update of a
// job lands on the same partition in order.
func (r *DomainEventSink) Report(ctx context.Context, evt provisioning.ProgressEvent) error {
	ctx, span := r.tracer.Start(
		ctx,
		"progress_reporter.report",
		trace.WithAttributes(
			attribute.String("job_id", r.jobID),
			attribute.String("status", evt.Status.String()),
			attribute.Int("current_step", evt.CurrentStep),
			attribute.Int("total_steps", evt.TotalSteps),
		),
	)
	defer span.End()

	payload := provisioning.NewProgressReportedEvent(r.jobID, evt)
	de := events.NewDomainEvent(payload.EventType(), payload)
	if err := r.domainPublisher.PublishDomainEvent(ctx, de, events.WithKey(r.jobID)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish progress reported event")
		return fmt.Errorf("failed to publish progress reported event: %w", err)
	}
	span.AddEvent("progress_reported_event_published")
	span.SetStatus(codes.Ok, "progress reported event published")

	return nil
}
