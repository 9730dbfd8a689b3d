package provisioning

import (
	"fmt"
	"time"

	domain "github.com/ahrav/stc-sync/internal/domain/provisioning"
)

// State is the typed execution state shared by the tasks of one job. It is
// owned by a single job and is never accessed concurrently.
type State struct {
	key     domain.IntegrationKey
	devices []domain.DeviceID

	local    domain.DriverSet
	hasLocal bool

	driver    domain.DriverID
	hasDriver bool

	requestedAt time.Time

	remote     domain.DriverSet
	duplicates domain.DriverSet
	hasRemote  bool

	deleted    []domain.DriverID
	hasDeleted bool

	inserted    []domain.DriverID
	hasInserted bool

	sent int
}

func newState() *State { return new(State) }

func missing(f Fact) error { return fmt.Errorf("%s: %w", f, domain.ErrFactMissing) }

// Key returns the integration key forwarded to every remote call.
func (s *State) Key() (domain.IntegrationKey, error) {
	if s.key.IsZero() {
		return "", missing(FactKey)
	}
	return s.key, nil
}

// Device returns the bound equipment when exactly one is bound.
func (s *State) Device() (domain.DeviceID, error) {
	if len(s.devices) != 1 {
		return 0, missing(FactDevice)
	}
	return s.devices[0], nil
}

// Devices returns every bound equipment in binding order.
func (s *State) Devices() ([]domain.DeviceID, error) {
	if len(s.devices) == 0 {
		return nil, missing(FactDevices)
	}
	return append([]domain.DeviceID(nil), s.devices...), nil
}

// LocalDrivers returns the authoritative driver list.
func (s *State) LocalDrivers() (domain.DriverSet, error) {
	if !s.hasLocal {
		return nil, missing(FactLocalDrivers)
	}
	return s.local, nil
}

// Driver returns the driver a push job sends.
func (s *State) Driver() (domain.DriverID, error) {
	if !s.hasDriver {
		return 0, missing(FactDriver)
	}
	return s.driver, nil
}

// TransmissionRequestedAt returns when the equipment was asked for its list.
func (s *State) TransmissionRequestedAt() (time.Time, error) {
	if s.requestedAt.IsZero() {
		return time.Time{}, missing(FactTransmissionRequested)
	}
	return s.requestedAt, nil
}

// Remote returns the current view of the drivers stored on the equipment.
// Deletes performed by the job are reflected in it.
func (s *State) Remote() (domain.DriverSet, error) {
	if !s.hasRemote {
		return nil, missing(FactRemoteDrivers)
	}
	return s.remote, nil
}

// RemoteDuplicates returns the ids the equipment reported more than once.
func (s *State) RemoteDuplicates() (domain.DriverSet, error) {
	if !s.hasRemote {
		return nil, missing(FactRemoteDrivers)
	}
	return s.duplicates, nil
}

// Deleted returns the drivers removed from the equipment, in command order.
func (s *State) Deleted() ([]domain.DriverID, error) {
	if !s.hasDeleted {
		return nil, missing(FactDeletedDrivers)
	}
	return s.deleted, nil
}

// Inserted returns the drivers added to the equipment, in command order.
func (s *State) Inserted() ([]domain.DriverID, error) {
	if !s.hasInserted {
		return nil, missing(FactInsertedDrivers)
	}
	return s.inserted, nil
}

// Summary counts the commands issued so far.
func (s *State) Summary() domain.JobSummary {
	return domain.JobSummary{Deleted: len(s.deleted), Inserted: len(s.inserted), Sent: s.sent}
}

func (s *State) setRemote(listing domain.DriverListing) {
	s.remote = listing.Set()
	s.duplicates = listing.Duplicates()
	s.hasRemote = true
}

func (s *State) recordDeleted(ids []domain.DriverID) {
	s.deleted = ids
	s.hasDeleted = true
	for _, id := range ids {
		s.remote.Remove(id)
		s.duplicates.Remove(id)
	}
}

func (s *State) recordInserted(ids []domain.DriverID) {
	s.inserted = ids
	s.hasInserted = true
	for _, id := range ids {
		s.remote.Add(id)
	}
}

// seeded returns the facts available before the first task runs.
func (s *State) seeded() map[Fact]bool {
	facts := make(map[Fact]bool)
	if !s.key.IsZero() {
		facts[FactKey] = true
	}
	if len(s.devices) > 0 {
		facts[FactDevices] = true
	}
	if len(s.devices) == 1 {
		facts[FactDevice] = true
	}
	if s.hasLocal {
		facts[FactLocalDrivers] = true
	}
	if s.hasDriver {
		facts[FactDriver] = true
	}
	return facts
}
