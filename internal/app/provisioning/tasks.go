package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"

	domain "github.com/ahrav/stc-sync/internal/domain/provisioning"
)

// Remote commands run detached from the caller's cancellation: once a
// command is sent to the vendor it is allowed to finish, bounded by the
// client's own timeout. Cancellation is observed between commands.
func detached(ctx context.Context) context.Context { return context.WithoutCancel(ctx) }

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}

// RequestDriversInEquipment asks the equipment to transmit its stored
// driver list.
type RequestDriversInEquipment struct {
	client domain.RemoteDeviceClient
	now    func() time.Time
}

// NewRequestDriversInEquipment creates the request step.
func NewRequestDriversInEquipment(client domain.RemoteDeviceClient) *RequestDriversInEquipment {
	return &RequestDriversInEquipment{client: client, now: time.Now}
}

func (t *RequestDriversInEquipment) Name() string { return "request_drivers_in_equipment" }

func (t *RequestDriversInEquipment) Requires() []Fact { return []Fact{FactKey, FactDevice} }

func (t *RequestDriversInEquipment) Provides() []Fact { return []Fact{FactTransmissionRequested} }

func (t *RequestDriversInEquipment) Run(ctx context.Context, s *State) (string, error) {
	key, err := s.Key()
	if err != nil {
		return "", err
	}
	device, err := s.Device()
	if err != nil {
		return "", err
	}

	if err := t.client.RequestPendingDriverIDs(detached(ctx), device, key); err != nil {
		return "", fmt.Errorf("request driver list from equipment %d: %w", device, err)
	}
	s.requestedAt = t.now()

	return fmt.Sprintf("Driver list requested from equipment %d.", device), nil
}

// WaitForTransmission blocks until the equipment has had time to transmit
// its list. The delay is counted from the moment the transmission was
// requested.
type WaitForTransmission struct {
	delay time.Duration
	now   func() time.Time
}

// NewWaitForTransmission creates the wait step.
func NewWaitForTransmission(delay time.Duration) *WaitForTransmission {
	return &WaitForTransmission{delay: delay, now: time.Now}
}

func (t *WaitForTransmission) Name() string { return "wait_for_transmission" }

func (t *WaitForTransmission) Requires() []Fact { return []Fact{FactTransmissionRequested} }

func (t *WaitForTransmission) Provides() []Fact { return nil }

func (t *WaitForTransmission) Run(ctx context.Context, s *State) (string, error) {
	requestedAt, err := s.TransmissionRequestedAt()
	if err != nil {
		return "", err
	}

	remaining := t.delay - t.now().Sub(requestedAt)
	if remaining > 0 {
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("wait for transmission: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Sprintf("Waited %s for the equipment to transmit its driver list.", t.delay.Round(time.Second)), nil
}

// ReadDriversStoredInEquipment reads the driver list the equipment
// transmitted. While the vendor reports the list as not ready it polls with
// exponential backoff until the poll timeout elapses. A zero timeout makes
// a single attempt.
type ReadDriversStoredInEquipment struct {
	client       domain.RemoteDeviceClient
	pollTimeout  time.Duration
	pollInterval time.Duration
}

// ReadOption configures ReadDriversStoredInEquipment.
type ReadOption func(*ReadDriversStoredInEquipment)

// WithPollTimeout bounds how long the read keeps polling a list that is not ready.
func WithPollTimeout(d time.Duration) ReadOption {
	return func(t *ReadDriversStoredInEquipment) { t.pollTimeout = d }
}

// WithPollInterval sets the first wait between polls.
func WithPollInterval(d time.Duration) ReadOption {
	return func(t *ReadDriversStoredInEquipment) { t.pollInterval = d }
}

// NewReadDriversStoredInEquipment creates the read step.
func NewReadDriversStoredInEquipment(client domain.RemoteDeviceClient, opts ...ReadOption) *ReadDriversStoredInEquipment {
	t := &ReadDriversStoredInEquipment{client: client, pollInterval: 15 * time.Second}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *ReadDriversStoredInEquipment) Name() string { return "read_drivers_stored_in_equipment" }

func (t *ReadDriversStoredInEquipment) Requires() []Fact {
	return []Fact{FactKey, FactDevice, FactLocalDrivers}
}

func (t *ReadDriversStoredInEquipment) Provides() []Fact { return []Fact{FactRemoteDrivers} }

func (t *ReadDriversStoredInEquipment) Run(ctx context.Context, s *State) (string, error) {
	key, err := s.Key()
	if err != nil {
		return "", err
	}
	device, err := s.Device()
	if err != nil {
		return "", err
	}
	local, err := s.LocalDrivers()
	if err != nil {
		return "", err
	}

	listing, err := t.read(ctx, device, key)
	if err != nil {
		return "", fmt.Errorf("read driver list of equipment %d: %w", device, err)
	}
	s.setRemote(listing)

	held := plural(s.remote.Len(), "driver", "drivers")
	matched := s.remote.Intersect(local).Len()
	dups, _ := s.RemoteDuplicates()
	if dups.Len() > 0 {
		return fmt.Sprintf("Equipment %d holds %s, %d registered in the ERP, %s duplicated.",
			device, held, matched, plural(dups.Len(), "is", "are")), nil
	}
	return fmt.Sprintf("Equipment %d holds %s, %d registered in the ERP.", device, held, matched), nil
}

func (t *ReadDriversStoredInEquipment) read(
	ctx context.Context,
	device domain.DeviceID,
	key domain.IntegrationKey,
) (domain.DriverListing, error) {
	if t.pollTimeout <= 0 {
		return t.client.ListEnabledDriverIDs(detached(ctx), device, key)
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = t.pollInterval
	expBackoff.MaxInterval = 4 * t.pollInterval
	expBackoff.MaxElapsedTime = t.pollTimeout

	var listing domain.DriverListing
	operation := func() error {
		var err error
		listing, err = t.client.ListEnabledDriverIDs(detached(ctx), device, key)
		if err == nil || errors.Is(err, domain.ErrNotReady) {
			return err
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return domain.DriverListing{}, err
	}
	return listing, nil
}

// DeleteDriversStoredInEquipment removes drivers the equipment holds but the
// ERP does not, plus every duplicated id. Duplicates that belong on the
// equipment are restored once by the insert step.
type DeleteDriversStoredInEquipment struct {
	client domain.RemoteDeviceClient
}

// NewDeleteDriversStoredInEquipment creates the delete step.
func NewDeleteDriversStoredInEquipment(client domain.RemoteDeviceClient) *DeleteDriversStoredInEquipment {
	return &DeleteDriversStoredInEquipment{client: client}
}

func (t *DeleteDriversStoredInEquipment) Name() string { return "delete_drivers_stored_in_equipment" }

func (t *DeleteDriversStoredInEquipment) Requires() []Fact {
	return []Fact{FactKey, FactDevice, FactLocalDrivers, FactRemoteDrivers}
}

func (t *DeleteDriversStoredInEquipment) Provides() []Fact { return []Fact{FactDeletedDrivers} }

func (t *DeleteDriversStoredInEquipment) Run(ctx context.Context, s *State) (string, error) {
	key, err := s.Key()
	if err != nil {
		return "", err
	}
	device, err := s.Device()
	if err != nil {
		return "", err
	}
	local, err := s.LocalDrivers()
	if err != nil {
		return "", err
	}
	remote, err := s.Remote()
	if err != nil {
		return "", err
	}
	dups, err := s.RemoteDuplicates()
	if err != nil {
		return "", err
	}

	targets := remote.Difference(local).Union(dups).Sorted()
	deleted, err := issueEach(ctx, domain.OpDeleteDriver, device, targets, func(ctx context.Context, id domain.DriverID) error {
		return t.client.DeleteDriverID(ctx, device, key, id)
	})
	s.recordDeleted(deleted)
	if err != nil {
		return "", err
	}

	if len(deleted) == 0 {
		return fmt.Sprintf("No drivers to delete from equipment %d.", device), nil
	}
	return fmt.Sprintf("%s deleted from equipment %d.", plural(len(deleted), "driver", "drivers"), device), nil
}

// InsertDriversNotRegisteredInEquipment adds the ERP drivers the equipment
// is missing.
type InsertDriversNotRegisteredInEquipment struct {
	client domain.RemoteDeviceClient
}

// NewInsertDriversNotRegisteredInEquipment creates the insert step.
func NewInsertDriversNotRegisteredInEquipment(client domain.RemoteDeviceClient) *InsertDriversNotRegisteredInEquipment {
	return &InsertDriversNotRegisteredInEquipment{client: client}
}

func (t *InsertDriversNotRegisteredInEquipment) Name() string {
	return "insert_drivers_not_registered_in_equipment"
}

func (t *InsertDriversNotRegisteredInEquipment) Requires() []Fact {
	return []Fact{FactKey, FactDevice, FactLocalDrivers, FactRemoteDrivers}
}

func (t *InsertDriversNotRegisteredInEquipment) Provides() []Fact {
	return []Fact{FactInsertedDrivers}
}

func (t *InsertDriversNotRegisteredInEquipment) Run(ctx context.Context, s *State) (string, error) {
	key, err := s.Key()
	if err != nil {
		return "", err
	}
	device, err := s.Device()
	if err != nil {
		return "", err
	}
	local, err := s.LocalDrivers()
	if err != nil {
		return "", err
	}
	remote, err := s.Remote()
	if err != nil {
		return "", err
	}

	targets := local.Difference(remote).Sorted()
	inserted, err := issueEach(ctx, domain.OpAddDriver, device, targets, func(ctx context.Context, id domain.DriverID) error {
		return t.client.AddDriverID(ctx, device, key, id)
	})
	s.recordInserted(inserted)
	if err != nil {
		return "", err
	}

	summary := s.Summary()
	return fmt.Sprintf("Equipment %d synchronized: %s deleted, %s inserted.",
		device, plural(summary.Deleted, "driver", "drivers"), plural(summary.Inserted, "driver", "drivers")), nil
}

// issueEach sends one command per id in order and stops at the first
// failure. It returns the ids whose command succeeded.
func issueEach(
	ctx context.Context,
	op string,
	device domain.DeviceID,
	ids []domain.DriverID,
	cmd func(context.Context, domain.DriverID) error,
) ([]domain.DriverID, error) {
	done := make([]domain.DriverID, 0, len(ids))
	for i, id := range ids {
		if err := cmd(detached(ctx), id); err != nil {
			return done, &domain.PartialCompletionError{
				Op:        op,
				DeviceID:  device,
				Completed: done,
				Failed:    id,
				Remaining: len(ids) - i - 1,
				Err:       err,
			}
		}
		done = append(done, id)
	}
	return done, nil
}

// SendDriverToEquipment pushes one driver to every bound equipment in order.
type SendDriverToEquipment struct {
	client domain.RemoteDeviceClient
}

// NewSendDriverToEquipment creates the push step.
func NewSendDriverToEquipment(client domain.RemoteDeviceClient) *SendDriverToEquipment {
	return &SendDriverToEquipment{client: client}
}

func (t *SendDriverToEquipment) Name() string { return "send_driver_to_equipment" }

func (t *SendDriverToEquipment) Requires() []Fact { return []Fact{FactKey, FactDevices, FactDriver} }

func (t *SendDriverToEquipment) Provides() []Fact { return nil }

func (t *SendDriverToEquipment) Run(ctx context.Context, s *State) (string, error) {
	key, err := s.Key()
	if err != nil {
		return "", err
	}
	devices, err := s.Devices()
	if err != nil {
		return "", err
	}
	driver, err := s.Driver()
	if err != nil {
		return "", err
	}

	sent := make([]domain.DeviceID, 0, len(devices))
	for i, device := range devices {
		if err := t.client.AddDriverID(detached(ctx), device, key, driver); err != nil {
			return "", &domain.PartialCompletionError{
				Op:               domain.OpAddDriver,
				DeviceID:         device,
				CompletedDevices: sent,
				Failed:           driver,
				Remaining:        len(devices) - i - 1,
				Err:              err,
			}
		}
		sent = append(sent, device)
		s.sent++
	}

	return fmt.Sprintf("Driver %d sent to %s.", driver, plural(len(devices), "equipment", "equipment")), nil
}
