package provisioning

import "fmt"

// JobStatus represents the execution state of a provisioning job.
type JobStatus string

const (
	// JobStatusPending indicates the job is being assembled.
	JobStatusPending JobStatus = "PENDING"
	// JobStatusRunning indicates tasks are executing.
	JobStatusRunning JobStatus = "RUNNING"
	// JobStatusCompleted indicates every task succeeded.
	JobStatusCompleted JobStatus = "COMPLETED"
	// JobStatusFailed indicates a task or the preflight check failed.
	JobStatusFailed JobStatus = "FAILED"
)

// String returns the string representation of the JobStatus.
func (s JobStatus) String() string { return string(s) }

// IsTerminal reports whether the job can no longer change state.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ValidateTransition checks if a status transition is valid and returns an error if not.
func (s JobStatus) ValidateTransition(target JobStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid job status transition from %s to %s", s, target)
	}
	return nil
}

func (s JobStatus) isValidTransition(target JobStatus) bool {
	switch s {
	case JobStatusPending:
		// A failed preflight check moves straight to FAILED.
		return target == JobStatusRunning || target == JobStatusFailed
	case JobStatusRunning:
		return target == JobStatusCompleted || target == JobStatusFailed
	default:
		return false
	}
}

// JobKind names the flow a job implements.
type JobKind string

const (
	// JobKindFullSync runs request, wait, read, delete and insert.
	JobKindFullSync JobKind = "FULL_SYNC"
	// JobKindRequestOnly asks the equipment to transmit its list and returns.
	JobKindRequestOnly JobKind = "REQUEST_ONLY"
	// JobKindReconcile reads a previously requested list and reconciles it.
	JobKindReconcile JobKind = "RECONCILE"
	// JobKindSendDriver pushes a single driver to one or more pieces of equipment.
	JobKindSendDriver JobKind = "SEND_DRIVER"
)

// String returns the string representation of the JobKind.
func (k JobKind) String() string { return string(k) }
