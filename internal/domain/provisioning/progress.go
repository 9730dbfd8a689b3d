package provisioning

import (
	"context"
	"fmt"
)

// ProgressStatus is the outcome carried by a progress event.
type ProgressStatus string

const (
	// ProgressOK is reported after each task completes.
	ProgressOK ProgressStatus = "OK"
	// ProgressError is reported once, as the final event, when a job fails.
	ProgressError ProgressStatus = "ERROR"
)

// String returns the wire name of the status.
func (s ProgressStatus) String() string { return string(s) }

// ProgressEvent is one unit of status pushed to the browser while a job runs.
type ProgressEvent struct {
	Status      ProgressStatus
	CurrentStep int
	TotalSteps  int
	Message     string
}

// Terminal reports whether no event may follow this one.
func (e ProgressEvent) Terminal() bool {
	return e.Status == ProgressError || (e.TotalSteps > 0 && e.CurrentStep == e.TotalSteps)
}

// Validate checks the step counters against each other.
func (e ProgressEvent) Validate() error {
	switch {
	case e.Status != ProgressOK && e.Status != ProgressError:
		return fmt.Errorf("unknown progress status %q", e.Status)
	case e.CurrentStep < 0 || e.TotalSteps < 0:
		return fmt.Errorf("negative step counters: %d/%d", e.CurrentStep, e.TotalSteps)
	case e.CurrentStep > e.TotalSteps:
		return fmt.Errorf("current step %d exceeds total steps %d", e.CurrentStep, e.TotalSteps)
	case e.Status == ProgressOK && e.CurrentStep == 0:
		return fmt.Errorf("OK events start at step 1")
	}
	return nil
}

// ProgressSink receives progress events as a job runs. Implementations adapt
// the events to a transport (server-sent events, an event bus...). A returned
// error means nobody is listening anymore and the job should stop.
type ProgressSink interface {
	Report(ctx context.Context, evt ProgressEvent) error
}
