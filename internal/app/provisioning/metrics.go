package provisioning

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	domain "github.com/ahrav/stc-sync/internal/domain/provisioning"
)

// JobMetrics defines the metrics recorded while jobs run.
type JobMetrics interface {
	IncJobsStarted(ctx context.Context, kind domain.JobKind)
	IncJobsCompleted(ctx context.Context, kind domain.JobKind)
	IncJobsFailed(ctx context.Context, kind domain.JobKind, step int)
	ObserveTaskDuration(ctx context.Context, task string, d time.Duration, failed bool)
	IncCommandsIssued(ctx context.Context, op string, count int)
}

// jobMetrics implements JobMetrics with OpenTelemetry instruments.
type jobMetrics struct {
	jobsStarted   metric.Int64Counter
	jobsCompleted metric.Int64Counter
	jobsFailed    metric.Int64Counter
	taskDuration  metric.Float64Histogram
	commands      metric.Int64Counter
}

const namespace = "provisioning"

// NewJobMetrics creates the job metrics on the given meter provider.
func NewJobMetrics(mp metric.MeterProvider) (*jobMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(jobMetrics)
	var err error

	if m.jobsStarted, err = meter.Int64Counter(
		"jobs_started_total",
		metric.WithDescription("Total number of provisioning jobs that passed their preflight check"),
	); err != nil {
		return nil, err
	}

	if m.jobsCompleted, err = meter.Int64Counter(
		"jobs_completed_total",
		metric.WithDescription("Total number of provisioning jobs that ran every task"),
	); err != nil {
		return nil, err
	}

	if m.jobsFailed, err = meter.Int64Counter(
		"jobs_failed_total",
		metric.WithDescription("Total number of provisioning jobs that stopped on an error"),
	); err != nil {
		return nil, err
	}

	if m.taskDuration, err = meter.Float64Histogram(
		"task_duration_seconds",
		metric.WithDescription("Time spent running each task"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 15, 60, 180, 360, 600),
	); err != nil {
		return nil, err
	}

	if m.commands, err = meter.Int64Counter(
		"equipment_commands_total",
		metric.WithDescription("Total number of add/delete commands sent to equipment"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *jobMetrics) IncJobsStarted(ctx context.Context, kind domain.JobKind) {
	m.jobsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind.String())))
}

func (m *jobMetrics) IncJobsCompleted(ctx context.Context, kind domain.JobKind) {
	m.jobsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind.String())))
}

func (m *jobMetrics) IncJobsFailed(ctx context.Context, kind domain.JobKind, step int) {
	m.jobsFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind.String()),
		attribute.Bool("preflight", step == 0),
	))
}

func (m *jobMetrics) ObserveTaskDuration(ctx context.Context, task string, d time.Duration, failed bool) {
	m.taskDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("task", task),
		attribute.Bool("failed", failed),
	))
}

func (m *jobMetrics) IncCommandsIssued(ctx context.Context, op string, count int) {
	if count == 0 {
		return
	}
	m.commands.Add(ctx, int64(count), metric.WithAttributes(attribute.String("operation", op)))
}

// noopMetrics is used when no metrics are configured.
func noopMetrics() JobMetrics {
	m, _ := NewJobMetrics(noop.NewMeterProvider())
	return m
}
