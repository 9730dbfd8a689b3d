package provisioning

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrKeyNotConfigured indicates the tenant has no vendor integration key.
	ErrKeyNotConfigured = errors.New("integration key not configured")
	// ErrNotReady indicates the equipment has not transmitted its driver list yet.
	ErrNotReady = errors.New("equipment has not transmitted its driver list yet")
	// ErrFactMissing indicates a task read a state fact no earlier step produced.
	ErrFactMissing = errors.New("fact missing from job state")
	// ErrJobAlreadyExecuted indicates Execute was called on a job more than once.
	ErrJobAlreadyExecuted = errors.New("job already executed")
	// ErrDeviceNotFound indicates the directory holds no equipment with the given id.
	ErrDeviceNotFound = errors.New("equipment not found")
	// ErrTenantNotFound indicates the directory holds no tenant with the given id.
	ErrTenantNotFound = errors.New("tenant not found")
)

// ConfigurationError reports a job that cannot run as assembled: a missing
// key, no bound equipment, or a task chain whose facts don't line up. It is
// detected before any remote call is made.
type ConfigurationError struct {
	Reason string
	Err    error
}

// NewConfigurationError creates a ConfigurationError with the given reason.
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return "configuration error: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// TransportError reports a failed exchange with the vendor API: a network
// failure, a timeout or a non-2xx response.
type TransportError struct {
	Op       string
	DeviceID DeviceID
	// StatusCode is zero when no response was received.
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "transport error during %s on equipment %d", e.Op, e.DeviceID)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a vendor response that arrived but could not be
// understood or violated the expected shape.
type ProtocolError struct {
	Op       string
	DeviceID DeviceID
	Detail   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error during %s on equipment %d: %s", e.Op, e.DeviceID, e.Detail)
}

// PartialCompletionError reports a batch of commands that stopped at its
// first failure. A batch either targets several drivers on one equipment
// (Completed) or one driver on several equipment (CompletedDevices).
// Completed commands are not rolled back.
type PartialCompletionError struct {
	Op string
	// DeviceID is the equipment the failing command was sent to.
	DeviceID         DeviceID
	Completed        []DriverID
	CompletedDevices []DeviceID
	Failed           DriverID
	// Remaining counts the commands never attempted after Failed.
	Remaining int
	Err       error
}

// Succeeded returns how many commands of the batch went through.
func (e *PartialCompletionError) Succeeded() int {
	return len(e.Completed) + len(e.CompletedDevices)
}

// Total returns the size of the batch.
func (e *PartialCompletionError) Total() int { return e.Succeeded() + 1 + e.Remaining }

func (e *PartialCompletionError) Error() string {
	return fmt.Sprintf(
		"%s on equipment %d stopped at driver %d after %d succeeded (%d not attempted): %v",
		e.Op, e.DeviceID, e.Failed, e.Succeeded(), e.Remaining, e.Err,
	)
}

func (e *PartialCompletionError) Unwrap() error { return e.Err }

// UserMessage renders err as the message shown to the user in the terminal
// ERROR progress event. The browser displays it verbatim, so it names the
// failing step in plain words and never includes credentials.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var (
		cfgErr     *ConfigurationError
		partialErr *PartialCompletionError
		transErr   *TransportError
		protoErr   *ProtocolError
	)
	switch {
	case errors.Is(err, ErrKeyNotConfigured):
		return "The STC integration key is not configured for this company."
	case errors.As(err, &cfgErr):
		return "The synchronization could not start: " + cfgErr.Reason + "."
	case errors.As(err, &partialErr):
		cause := UserMessage(partialErr.Err)
		return fmt.Sprintf(
			"Equipment %d: stopped at driver %d while trying to %s (%d of %d commands completed). %s",
			partialErr.DeviceID, partialErr.Failed, partialErr.Op,
			partialErr.Succeeded(), partialErr.Total(), cause,
		)
	case errors.Is(err, ErrNotReady):
		return "The equipment has not transmitted its driver list yet. Try again in a few minutes."
	case errors.As(err, &transErr):
		if transErr.StatusCode != 0 {
			return fmt.Sprintf("The STC service answered with status %d while trying to %s.", transErr.StatusCode, transErr.Op)
		}
		return fmt.Sprintf("The STC service could not be reached while trying to %s.", transErr.Op)
	case errors.As(err, &protoErr):
		return fmt.Sprintf("The STC service returned an unexpected answer while trying to %s.", protoErr.Op)
	case errors.Is(err, ErrDeviceNotFound):
		return "The equipment was not found."
	default:
		return "The synchronization failed unexpectedly."
	}
}
