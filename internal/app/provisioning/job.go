package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/stc-sync/internal/domain/events"
	domain "github.com/ahrav/stc-sync/internal/domain/provisioning"
	"github.com/ahrav/stc-sync/pkg/common/logger"
)

// Job runs an ordered list of tasks against one or more pieces of equipment
// and reports progress after each task. A job is built per request, executed
// once and discarded.
type Job struct {
	id     uuid.UUID
	kind   domain.JobKind
	tenant domain.TenantID

	tasks  []Task
	state  *State
	status domain.JobStatus

	publisher events.DomainEventPublisher
	metrics   JobMetrics
	logger    *logger.Logger
	tracer    trace.Tracer
}

// JobOption configures a Job.
type JobOption func(*Job)

// WithPublisher publishes lifecycle events through p.
func WithPublisher(p events.DomainEventPublisher) JobOption {
	return func(j *Job) { j.publisher = p }
}

// WithMetrics records job metrics through m.
func WithMetrics(m JobMetrics) JobOption {
	return func(j *Job) { j.metrics = m }
}

// WithLogger sets the job logger.
func WithLogger(l *logger.Logger) JobOption {
	return func(j *Job) { j.logger = l }
}

// WithTracer sets the job tracer.
func WithTracer(t trace.Tracer) JobOption {
	return func(j *Job) { j.tracer = t }
}

// NewJob creates an empty job of the given kind for a tenant.
func NewJob(kind domain.JobKind, tenant domain.TenantID, opts ...JobOption) *Job {
	j := &Job{
		id:        uuid.New(),
		kind:      kind,
		tenant:    tenant,
		state:     newState(),
		status:    domain.JobStatusPending,
		publisher: events.NopPublisher{},
		logger:    logger.Noop(),
		tracer:    noop.NewTracerProvider().Tracer("provisioning"),
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.metrics == nil {
		j.metrics = noopMetrics()
	}
	j.logger = j.logger.With("component", "job", "job_id", j.id.String(), "kind", kind.String(), "tenant", tenant.String())
	return j
}

// ID returns the job identifier.
func (j *Job) ID() uuid.UUID { return j.id }

// Kind returns the flow the job implements.
func (j *Job) Kind() domain.JobKind { return j.kind }

// Status returns the current job status.
func (j *Job) Status() domain.JobStatus { return j.status }

// State exposes the job state once the job has run.
func (j *Job) State() *State { return j.state }

// TotalSteps returns the number of tasks added so far.
func (j *Job) TotalSteps() int { return len(j.tasks) }

// AddTask appends a task. Tasks run in the order they were added.
func (j *Job) AddTask(t Task) { j.tasks = append(j.tasks, t) }

// SetDevice binds the job to a single piece of equipment.
func (j *Job) SetDevice(id domain.DeviceID) { j.state.devices = []domain.DeviceID{id} }

// SetDevices binds the job to several pieces of equipment. Repeated ids are
// dropped, keeping the first occurrence.
func (j *Job) SetDevices(ids []domain.DeviceID) {
	seen := make(map[domain.DeviceID]struct{}, len(ids))
	devices := make([]domain.DeviceID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		devices = append(devices, id)
	}
	j.state.devices = devices
}

// SetKey sets the integration key forwarded to every remote call.
func (j *Job) SetKey(key domain.IntegrationKey) { j.state.key = key }

// SeedLocalDrivers sets the authoritative driver list.
func (j *Job) SeedLocalDrivers(drivers domain.DriverSet) {
	j.state.local = drivers.Clone()
	j.state.hasLocal = true
}

// SeedDriver sets the driver a push job sends.
func (j *Job) SeedDriver(id domain.DriverID) {
	j.state.driver = id
	j.state.hasDriver = true
}

// Prepare checks that the job can run: a key is set, equipment is bound,
// there is at least one task and every fact a task requires is seeded or
// provided by an earlier task.
func (j *Job) Prepare() error {
	if j.state.key.IsZero() {
		return &domain.ConfigurationError{Reason: "the integration key is missing", Err: domain.ErrKeyNotConfigured}
	}
	if len(j.state.devices) == 0 {
		return domain.NewConfigurationError("no equipment selected")
	}
	if len(j.tasks) == 0 {
		return domain.NewConfigurationError("no steps to run")
	}

	available := j.state.seeded()
	for i, t := range j.tasks {
		for _, f := range t.Requires() {
			if available[f] {
				continue
			}
			if f == FactDevice && len(j.state.devices) > 1 {
				return domain.NewConfigurationError(
					"step %d (%s) works on a single equipment but %d are selected",
					i+1, t.Name(), len(j.state.devices),
				)
			}
			return domain.NewConfigurationError("step %d (%s) requires %s, which no earlier step provides", i+1, t.Name(), f)
		}
		for _, f := range t.Provides() {
			available[f] = true
		}
	}
	return nil
}

// Execute runs the job and reports its progress to sink.
//
// A job that fails Prepare reports a single ERROR event at step zero and
// makes no remote call. Otherwise an OK event follows each task, and the
// first failing task ends the job with one ERROR event carrying a message
// for the user. Commands already sent are not rolled back. When the sink
// rejects an event or ctx is cancelled, the job stops without reporting
// anything further. Execute returns the error that ended the job.
func (j *Job) Execute(ctx context.Context, sink domain.ProgressSink) error {
	if j.status != domain.JobStatusPending {
		return domain.ErrJobAlreadyExecuted
	}

	total := len(j.tasks)
	ctx, span := j.tracer.Start(ctx, "provisioning.job.execute",
		trace.WithAttributes(
			attribute.String("job_id", j.id.String()),
			attribute.String("kind", j.kind.String()),
			attribute.String("tenant", j.tenant.String()),
			attribute.Int("total_steps", total),
		),
	)
	defer span.End()

	if err := j.Prepare(); err != nil {
		j.setStatus(domain.JobStatusFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "preflight check failed")
		j.logger.Warn(ctx, "Job preflight check failed", "error", err)
		j.metrics.IncJobsFailed(ctx, j.kind, 0)

		evt := domain.ProgressEvent{Status: domain.ProgressError, TotalSteps: total, Message: domain.UserMessage(err)}
		if rerr := sink.Report(ctx, evt); rerr != nil {
			j.logger.Warn(ctx, "Failed to report preflight error", "error", rerr)
		}
		j.publish(ctx, domain.NewJobFailedEvent(j.id.String(), j.tenant, j.kind, j.state.devices, 0, err.Error(), j.state.Summary()))
		return err
	}

	j.setStatus(domain.JobStatusRunning)
	j.metrics.IncJobsStarted(ctx, j.kind)
	j.publish(ctx, domain.NewJobStartedEvent(j.id.String(), j.tenant, j.kind, j.state.devices, total))
	j.logger.Info(ctx, "Job started", "devices", fmt.Sprint(j.state.devices), "total_steps", total)
	started := time.Now()

	for i, t := range j.tasks {
		step := i + 1
		if err := ctx.Err(); err != nil {
			return j.abandon(ctx, span, step, fmt.Errorf("job abandoned before step %d: %w", step, err))
		}

		msg, err := j.runTask(ctx, step, t)
		if err != nil {
			if ctx.Err() != nil {
				return j.abandon(ctx, span, step, err)
			}
			return j.fail(ctx, span, sink, step, total, err)
		}

		evt := domain.ProgressEvent{Status: domain.ProgressOK, CurrentStep: step, TotalSteps: total, Message: msg}
		if err := sink.Report(ctx, evt); err != nil {
			return j.abandon(ctx, span, step, fmt.Errorf("report progress of step %d: %w", step, err))
		}
	}

	j.setStatus(domain.JobStatusCompleted)
	j.metrics.IncJobsCompleted(ctx, j.kind)
	summary := j.state.Summary()
	j.publish(ctx, domain.NewJobCompletedEvent(j.id.String(), j.tenant, j.kind, j.state.devices, summary, time.Since(started)))
	span.SetStatus(codes.Ok, "job completed")
	j.logger.Info(ctx, "Job completed",
		"deleted", summary.Deleted,
		"inserted", summary.Inserted,
		"sent", summary.Sent,
		"duration", time.Since(started).String(),
	)
	return nil
}

func (j *Job) runTask(ctx context.Context, step int, t Task) (string, error) {
	ctx, span := j.tracer.Start(ctx, "provisioning.task."+t.Name(),
		trace.WithAttributes(attribute.Int("step", step)),
	)
	defer span.End()

	before := j.state.Summary()
	start := time.Now()
	msg, err := t.Run(ctx, j.state)
	j.metrics.ObserveTaskDuration(ctx, t.Name(), time.Since(start), err != nil)

	after := j.state.Summary()
	j.metrics.IncCommandsIssued(ctx, domain.OpDeleteDriver, after.Deleted-before.Deleted)
	j.metrics.IncCommandsIssued(ctx, domain.OpAddDriver, after.Inserted-before.Inserted+after.Sent-before.Sent)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "task failed")
		return "", err
	}
	span.SetStatus(codes.Ok, "task completed")
	j.logger.Debug(ctx, "Task completed", "step", step, "task", t.Name())
	return msg, nil
}

// fail reports the terminal ERROR event for a failed task.
func (j *Job) fail(ctx context.Context, span trace.Span, sink domain.ProgressSink, step, total int, err error) error {
	j.setStatus(domain.JobStatusFailed)
	span.RecordError(err)
	span.SetStatus(codes.Error, "task failed")
	j.metrics.IncJobsFailed(ctx, j.kind, step)

	var partial *domain.PartialCompletionError
	if errors.As(err, &partial) {
		j.logger.Error(ctx, "Job stopped with commands partially applied",
			"step", step,
			"completed", fmt.Sprint(partial.Completed),
			"completed_devices", fmt.Sprint(partial.CompletedDevices),
			"failed_driver", partial.Failed.String(),
			"remaining", partial.Remaining,
			"error", err,
		)
	} else {
		j.logger.Error(ctx, "Job failed", "step", step, "error", err)
	}

	evt := domain.ProgressEvent{Status: domain.ProgressError, CurrentStep: step, TotalSteps: total, Message: domain.UserMessage(err)}
	if rerr := sink.Report(ctx, evt); rerr != nil {
		j.logger.Warn(ctx, "Failed to report job error", "error", rerr)
	}
	j.publish(ctx, domain.NewJobFailedEvent(j.id.String(), j.tenant, j.kind, j.state.devices, step, err.Error(), j.state.Summary()))
	return err
}

// abandon ends a job nobody is listening to anymore. No event is reported.
func (j *Job) abandon(ctx context.Context, span trace.Span, step int, err error) error {
	j.setStatus(domain.JobStatusFailed)
	span.RecordError(err)
	span.SetStatus(codes.Error, "job abandoned")
	j.metrics.IncJobsFailed(ctx, j.kind, step)
	j.logger.Warn(ctx, "Job abandoned", "step", step, "error", err)
	j.publish(ctx, domain.NewJobFailedEvent(j.id.String(), j.tenant, j.kind, j.state.devices, step, err.Error(), j.state.Summary()))
	return err
}

func (j *Job) setStatus(target domain.JobStatus) {
	if err := j.status.ValidateTransition(target); err != nil {
		// Transitions are driven by Execute only.
		panic(err)
	}
	j.status = target
}

type lifecycleEvent interface {
	EventType() events.EventType
}

// publish sends a lifecycle event. Failures are logged and never affect the job.
func (j *Job) publish(ctx context.Context, evt lifecycleEvent) {
	// The request context may already be cancelled when the browser left.
	ctx = context.WithoutCancel(ctx)
	de := events.NewDomainEvent(evt.EventType(), evt)
	if err := j.publisher.PublishDomainEvent(ctx, de, events.WithKey(j.id.String())); err != nil {
		j.logger.Warn(ctx, "Failed to publish lifecycle event", "event_type", string(evt.EventType()), "error", err)
	}
}
