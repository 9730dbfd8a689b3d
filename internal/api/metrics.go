package api

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/stc-sync/internal/api/mid"
	"github.com/ahrav/stc-sync/internal/domain/provisioning"
)

const namespace = "stc_sync_api"

// APIMetrics defines the metrics recorded by the HTTP layer.
type APIMetrics interface {
	mid.RequestMetrics

	// StreamOpened and StreamClosed track progress streams in flight.
	StreamOpened(ctx context.Context, kind provisioning.JobKind)
	StreamClosed(ctx context.Context, kind provisioning.JobKind)
}

type apiMetrics struct {
	requestsTotal   metric.Int64Counter
	requestDuration metric.Float64Histogram
	activeStreams   metric.Int64UpDownCounter
}

// NewAPIMetrics registers the API instruments on mp.
func NewAPIMetrics(mp metric.MeterProvider) (*apiMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(apiMetrics)
	var err error

	if m.requestsTotal, err = meter.Int64Counter(
		"requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, err
	}

	if m.requestDuration, err = meter.Float64Histogram(
		"request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds, streams included"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.activeStreams, err = meter.Int64UpDownCounter(
		"active_streams",
		metric.WithDescription("Number of progress streams currently open"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *apiMetrics) IncRequestsTotal(ctx context.Context, method, route string, status int) {
	m.requestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	))
}

func (m *apiMetrics) ObserveRequestDuration(ctx context.Context, method, route string, duration time.Duration) {
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
	))
}

func (m *apiMetrics) StreamOpened(ctx context.Context, kind provisioning.JobKind) {
	m.activeStreams.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind.String())))
}

func (m *apiMetrics) StreamClosed(ctx context.Context, kind provisioning.JobKind) {
	m.activeStreams.Add(ctx, -1, metric.WithAttributes(attribute.String("kind", kind.String())))
}
