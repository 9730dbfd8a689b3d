package provisioning

import (
	"time"

	"github.com/ahrav/stc-sync/internal/domain/events"
)

// Domain event types published over the lifecycle of a job.
const (
	EventTypeJobStarted       events.EventType = "JobStarted"
	EventTypeJobCompleted     events.EventType = "JobCompleted"
	EventTypeJobFailed        events.EventType = "JobFailed"
	EventTypeProgressReported events.EventType = "ProgressReported"
)

// JobStartedEvent is published once a job passed its preflight check and
// begins running tasks.
type JobStartedEvent struct {
	occurredAt time.Time
	JobID      string     `json:"job_id"`
	Tenant     TenantID   `json:"tenant"`
	Kind       JobKind    `json:"kind"`
	Devices    []DeviceID `json:"devices"`
	TotalSteps int        `json:"total_steps"`
}

// NewJobStartedEvent creates a JobStartedEvent.
func NewJobStartedEvent(jobID string, tenant TenantID, kind JobKind, devices []DeviceID, totalSteps int) JobStartedEvent {
	return JobStartedEvent{
		occurredAt: time.Now(),
		JobID:      jobID,
		Tenant:     tenant,
		Kind:       kind,
		Devices:    devices,
		TotalSteps: totalSteps,
	}
}

func (e JobStartedEvent) EventType() events.EventType { return EventTypeJobStarted }
func (e JobStartedEvent) OccurredAt() time.Time       { return e.occurredAt }

// JobSummary counts the commands a job issued.
type JobSummary struct {
	Deleted  int `json:"deleted"`
	Inserted int `json:"inserted"`
	Sent     int `json:"sent"`
}

// JobCompletedEvent is published when every task of a job succeeded.
type JobCompletedEvent struct {
	occurredAt time.Time
	JobID      string        `json:"job_id"`
	Tenant     TenantID      `json:"tenant"`
	Kind       JobKind       `json:"kind"`
	Devices    []DeviceID    `json:"devices"`
	Summary    JobSummary    `json:"summary"`
	Duration   time.Duration `json:"duration"`
}

// NewJobCompletedEvent creates a JobCompletedEvent.
func NewJobCompletedEvent(
	jobID string,
	tenant TenantID,
	kind JobKind,
	devices []DeviceID,
	summary JobSummary,
	duration time.Duration,
) JobCompletedEvent {
	return JobCompletedEvent{
		occurredAt: time.Now(),
		JobID:      jobID,
		Tenant:     tenant,
		Kind:       kind,
		Devices:    devices,
		Summary:    summary,
		Duration:   duration,
	}
}

func (e JobCompletedEvent) EventType() events.EventType { return EventTypeJobCompleted }
func (e JobCompletedEvent) OccurredAt() time.Time       { return e.occurredAt }

// JobFailedEvent is published when a job stops on an error.
type JobFailedEvent struct {
	occurredAt time.Time
	JobID      string     `json:"job_id"`
	Tenant     TenantID   `json:"tenant"`
	Kind       JobKind    `json:"kind"`
	Devices    []DeviceID `json:"devices"`
	// FailedStep is zero when the preflight check failed.
	FailedStep int        `json:"failed_step"`
	Reason     string     `json:"reason"`
	Summary    JobSummary `json:"summary"`
}

// NewJobFailedEvent creates a JobFailedEvent.
func NewJobFailedEvent(
	jobID string,
	tenant TenantID,
	kind JobKind,
	devices []DeviceID,
	failedStep int,
	reason string,
	summary JobSummary,
) JobFailedEvent {
	return JobFailedEvent{
		occurredAt: time.Now(),
		JobID:      jobID,
		Tenant:     tenant,
		Kind:       kind,
		Devices:    devices,
		FailedStep: failedStep,
		Reason:     reason,
		Summary:    summary,
	}
}

func (e JobFailedEvent) EventType() events.EventType { return EventTypeJobFailed }
func (e JobFailedEvent) OccurredAt() time.Time       { return e.occurredAt }

// ProgressReportedEvent mirrors a progress event for consumers other than
// the browser.
type ProgressReportedEvent struct {
	occurredAt  time.Time
	JobID       string         `json:"job_id"`
	Status      ProgressStatus `json:"status"`
	CurrentStep int            `json:"current_step"`
	TotalSteps  int            `json:"total_steps"`
	Message     string         `json:"message"`
}

// NewProgressReportedEvent creates a ProgressReportedEvent from a progress event.
func NewProgressReportedEvent(jobID string, evt ProgressEvent) ProgressReportedEvent {
	return ProgressReportedEvent{
		occurredAt:  time.Now(),
		JobID:       jobID,
		Status:      evt.Status,
		CurrentStep: evt.CurrentStep,
		TotalSteps:  evt.TotalSteps,
		Message:     evt.Message,
	}
}

func (e ProgressReportedEvent) EventType() events.EventType { return EventTypeProgressReported }
func (e ProgressReportedEvent) OccurredAt() time.Time       { return e.occurredAt }
