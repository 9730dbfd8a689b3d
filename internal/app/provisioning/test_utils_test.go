package provisioning

import (
	"context"
	"slices"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/ahrav/stc-sync/internal/domain/events"
	domain "github.com/ahrav/stc-sync/internal/domain/provisioning"
)

// call records one command received by fakeEquipment.
type call struct {
	op     string
	device domain.DeviceID
	driver domain.DriverID
}

// fakeEquipment is an in-memory vendor that stores driver lists per
// equipment and records every command it receives.
type fakeEquipment struct {
	mu       sync.Mutex
	stored   map[domain.DeviceID][]domain.DriverID
	calls    []call
	notReady int
	failures map[call]error
	listErr  error
}

func newFakeEquipment() *fakeEquipment {
	return &fakeEquipment{
		stored:   make(map[domain.DeviceID][]domain.DriverID),
		failures: make(map[call]error),
	}
}

func (f *fakeEquipment) store(device domain.DeviceID, ids ...domain.DriverID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored[device] = ids
}

func (f *fakeEquipment) failOn(op string, device domain.DeviceID, driver domain.DriverID, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[call{op: op, device: device, driver: driver}] = err
}

func (f *fakeEquipment) record(c call) error {
	f.calls = append(f.calls, c)
	return f.failures[c]
}

func (f *fakeEquipment) RequestPendingDriverIDs(_ context.Context, device domain.DeviceID, _ domain.IntegrationKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(call{op: domain.OpRequestDrivers, device: device})
}

func (f *fakeEquipment) ListEnabledDriverIDs(_ context.Context, device domain.DeviceID, _ domain.IntegrationKey) (domain.DriverListing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(call{op: domain.OpListDrivers, device: device}); err != nil {
		return domain.DriverListing{}, err
	}
	if f.listErr != nil {
		return domain.DriverListing{}, f.listErr
	}
	if f.notReady > 0 {
		f.notReady--
		return domain.DriverListing{}, domain.ErrNotReady
	}
	return domain.DriverListing{IDs: slices.Clone(f.stored[device])}, nil
}

func (f *fakeEquipment) AddDriverID(_ context.Context, device domain.DeviceID, _ domain.IntegrationKey, driver domain.DriverID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(call{op: domain.OpAddDriver, device: device, driver: driver}); err != nil {
		return err
	}
	f.stored[device] = append(f.stored[device], driver)
	return nil
}

func (f *fakeEquipment) DeleteDriverID(_ context.Context, device domain.DeviceID, _ domain.IntegrationKey, driver domain.DriverID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(call{op: domain.OpDeleteDriver, device: device, driver: driver}); err != nil {
		return err
	}
	f.stored[device] = slices.DeleteFunc(f.stored[device], func(id domain.DriverID) bool { return id == driver })
	return nil
}

// commands returns the calls of one operation, in order.
func (f *fakeEquipment) commands(op string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeEquipment) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeEquipment) driversOn(device domain.DeviceID) domain.DriverSet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.NewDriverSet(f.stored[device]...)
}

func driversOf(calls []call) []domain.DriverID {
	ids := make([]domain.DriverID, 0, len(calls))
	for _, c := range calls {
		ids = append(ids, c.driver)
	}
	return ids
}

// recordingSink collects progress events. It fails every report after
// failAfter events when failAfter is positive.
type recordingSink struct {
	events    []domain.ProgressEvent
	failAfter int
	err       error
}

func (s *recordingSink) Report(_ context.Context, evt domain.ProgressEvent) error {
	if s.failAfter > 0 && len(s.events) >= s.failAfter {
		return s.err
	}
	s.events = append(s.events, evt)
	return nil
}

// stubTask is a task with configurable facts and outcome.
type stubTask struct {
	name     string
	requires []Fact
	provides []Fact
	err      error
	ran      *int
	run      func(ctx context.Context) error
}

func (t *stubTask) Name() string     { return t.name }
func (t *stubTask) Requires() []Fact { return t.requires }
func (t *stubTask) Provides() []Fact { return t.provides }

func (t *stubTask) Run(ctx context.Context, _ *State) (string, error) {
	if t.ran != nil {
		*t.ran++
	}
	if t.run != nil {
		if err := t.run(ctx); err != nil {
			return "", err
		}
	}
	if t.err != nil {
		return "", t.err
	}
	return t.name + " done", nil
}

// mockDomainEventPublisher implements events.DomainEventPublisher for testing.
type mockDomainEventPublisher struct{ mock.Mock }

func (m *mockDomainEventPublisher) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	args := m.Called(ctx, event, opts)
	return args.Error(0)
}

// mockKeyStore implements domain.KeyStore for testing.
type mockKeyStore struct{ mock.Mock }

func (m *mockKeyStore) IntegrationKey(ctx context.Context, tenant domain.TenantID) (domain.IntegrationKey, error) {
	args := m.Called(ctx, tenant)
	return args.Get(0).(domain.IntegrationKey), args.Error(1)
}

// mockFleetDirectory implements domain.FleetDirectory for testing.
type mockFleetDirectory struct{ mock.Mock }

func (m *mockFleetDirectory) Equipment(ctx context.Context, tenant domain.TenantID, id domain.DeviceID) (domain.Device, error) {
	args := m.Called(ctx, tenant, id)
	return args.Get(0).(domain.Device), args.Error(1)
}

func (m *mockFleetDirectory) EquipmentForClient(ctx context.Context, tenant domain.TenantID, client domain.ClientID) ([]domain.Device, error) {
	args := m.Called(ctx, tenant, client)
	if devices := args.Get(0); devices != nil {
		return devices.([]domain.Device), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockFleetDirectory) DriverIDsForClient(ctx context.Context, tenant domain.TenantID, client domain.ClientID) (domain.DriverSet, error) {
	args := m.Called(ctx, tenant, client)
	if drivers := args.Get(0); drivers != nil {
		return drivers.(domain.DriverSet), args.Error(1)
	}
	return nil, args.Error(1)
}
