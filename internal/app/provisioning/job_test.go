package provisioning

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/stc-sync/internal/domain/events"
	domain "github.com/ahrav/stc-sync/internal/domain/provisioning"
)

const (
	testTenant = domain.TenantID("acme")
	testKey    = domain.IntegrationKey("key-123")
)

func newFullSyncJob(fake *fakeEquipment, device domain.DeviceID, local domain.DriverSet) *Job {
	job := NewJob(domain.JobKindFullSync, testTenant)
	job.SetKey(testKey)
	job.SetDevice(device)
	job.SeedLocalDrivers(local)
	job.AddTask(NewRequestDriversInEquipment(fake))
	job.AddTask(NewWaitForTransmission(0))
	job.AddTask(NewReadDriversStoredInEquipment(fake))
	job.AddTask(NewDeleteDriversStoredInEquipment(fake))
	job.AddTask(NewInsertDriversNotRegisteredInEquipment(fake))
	return job
}

func assertStepsMonotonic(t *testing.T, evts []domain.ProgressEvent) {
	t.Helper()
	for i, evt := range evts {
		assert.NoError(t, evt.Validate())
		if evt.Status == domain.ProgressOK {
			assert.Equal(t, i+1, evt.CurrentStep, "event %d", i)
		}
	}
}

func TestJob_FullSyncReconcilesDifferences(t *testing.T) {
	t.Parallel()

	fake := newFakeEquipment()
	fake.store(501, 20, 30, 40)
	sink := new(recordingSink)

	job := newFullSyncJob(fake, 501, domain.NewDriverSet(10, 20, 30))
	require.NoError(t, job.Execute(context.Background(), sink))

	assert.Equal(t, []domain.DriverID{40}, driversOf(fake.commands(domain.OpDeleteDriver)))
	assert.Equal(t, []domain.DriverID{10}, driversOf(fake.commands(domain.OpAddDriver)))
	assert.True(t, fake.driversOn(501).Equal(domain.NewDriverSet(10, 20, 30)))

	require.Len(t, sink.events, 5)
	assertStepsMonotonic(t, sink.events)
	for _, evt := range sink.events {
		assert.Equal(t, domain.ProgressOK, evt.Status)
		assert.Equal(t, 5, evt.TotalSteps)
	}
	assert.Equal(t, "Equipment 501 holds 3 drivers, 2 registered in the ERP.", sink.events[2].Message)
	assert.Equal(t, "Equipment 501 synchronized: 1 driver deleted, 1 driver inserted.", sink.events[4].Message)
	assert.Equal(t, domain.JobStatusCompleted, job.Status())

	deleted, err := job.State().Deleted()
	require.NoError(t, err)
	assert.Equal(t, []domain.DriverID{40}, deleted)
}

func TestJob_SecondRunIsIdempotent(t *testing.T) {
	t.Parallel()

	fake := newFakeEquipment()
	fake.store(501, 20, 30, 40)
	local := domain.NewDriverSet(10, 20, 30)

	require.NoError(t, newFullSyncJob(fake, 501, local).Execute(context.Background(), new(recordingSink)))
	deletes := len(fake.commands(domain.OpDeleteDriver))
	adds := len(fake.commands(domain.OpAddDriver))

	require.NoError(t, newFullSyncJob(fake, 501, local).Execute(context.Background(), new(recordingSink)))
	assert.Len(t, fake.commands(domain.OpDeleteDriver), deletes)
	assert.Len(t, fake.commands(domain.OpAddDriver), adds)
}

func TestJob_TargetsSetDifferences(t *testing.T) {
	t.Parallel()

	type pair struct {
		name   string
		local  []domain.DriverID
		remote []domain.DriverID
	}
	pairs := []pair{
		{name: "overlapping", local: []domain.DriverID{10, 20, 30}, remote: []domain.DriverID{20, 30, 40}},
		{name: "disjoint", local: []domain.DriverID{1, 2}, remote: []domain.DriverID{3, 4, 5}},
		{name: "remote subset of local", local: []domain.DriverID{1, 2, 3, 4}, remote: []domain.DriverID{2, 4}},
		{name: "remote superset of local", local: []domain.DriverID{7}, remote: []domain.DriverID{9, 7, 8}},
		{name: "equal", local: []domain.DriverID{11, 12}, remote: []domain.DriverID{12, 11}},
		{name: "empty equipment", local: []domain.DriverID{6, 5}},
	}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		var local, remote []domain.DriverID
		for id := domain.DriverID(1); id <= 20; id++ {
			if rng.Intn(2) == 0 {
				local = append(local, id)
			}
			if rng.Intn(2) == 0 {
				remote = append(remote, id)
			}
		}
		if len(local) == 0 {
			local = append(local, 1)
		}
		pairs = append(pairs, pair{name: fmt.Sprintf("random %d", i), local: local, remote: remote})
	}

	for _, tt := range pairs {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fake := newFakeEquipment()
			fake.store(501, tt.remote...)
			local := domain.NewDriverSet(tt.local...)
			remote := domain.NewDriverSet(tt.remote...)

			require.NoError(t, newFullSyncJob(fake, 501, local).Execute(context.Background(), new(recordingSink)))

			assert.Equal(t, remote.Difference(local).Sorted(), driversOf(fake.commands(domain.OpDeleteDriver)))
			assert.ElementsMatch(t, local.Difference(remote).Sorted(), driversOf(fake.commands(domain.OpAddDriver)))
			assert.True(t, fake.driversOn(501).Equal(local))

			deletes := len(fake.commands(domain.OpDeleteDriver))
			adds := len(fake.commands(domain.OpAddDriver))
			require.NoError(t, newFullSyncJob(fake, 501, local).Execute(context.Background(), new(recordingSink)))
			assert.Len(t, fake.commands(domain.OpDeleteDriver), deletes)
			assert.Len(t, fake.commands(domain.OpAddDriver), adds)
		})
	}
}

func TestJob_DuplicatesAreDeletedAndRestoredOnce(t *testing.T) {
	t.Parallel()

	fake := newFakeEquipment()
	fake.store(501, 5, 5, 7, 8)
	sink := new(recordingSink)

	job := newFullSyncJob(fake, 501, domain.NewDriverSet(5, 8))
	require.NoError(t, job.Execute(context.Background(), sink))

	assert.Equal(t, []domain.DriverID{5, 7}, driversOf(fake.commands(domain.OpDeleteDriver)))
	assert.Equal(t, []domain.DriverID{5}, driversOf(fake.commands(domain.OpAddDriver)))

	fake.mu.Lock()
	stored := append([]domain.DriverID(nil), fake.stored[501]...)
	fake.mu.Unlock()
	assert.ElementsMatch(t, []domain.DriverID{5, 8}, stored)
	assert.Equal(t, "Equipment 501 holds 3 drivers, 2 registered in the ERP, 1 is duplicated.", sink.events[2].Message)
}

func TestJob_MissingKeyReportsSingleConfigurationError(t *testing.T) {
	t.Parallel()

	fake := newFakeEquipment()
	sink := new(recordingSink)

	job := newFullSyncJob(fake, 501, domain.NewDriverSet(1))
	job.SetKey("")

	err := job.Execute(context.Background(), sink)

	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, domain.ErrKeyNotConfigured)
	assert.Zero(t, fake.callCount())
	require.Len(t, sink.events, 1)
	assert.Equal(t, domain.ProgressEvent{
		Status:      domain.ProgressError,
		CurrentStep: 0,
		TotalSteps:  5,
		Message:     domain.UserMessage(err),
	}, sink.events[0])
	assert.Equal(t, domain.JobStatusFailed, job.Status())
}

func TestJob_PrepareValidatesFactChain(t *testing.T) {
	t.Parallel()

	fake := newFakeEquipment()

	tests := []struct {
		name      string
		build     func() *Job
		wantInMsg string
	}{
		{
			name: "no equipment",
			build: func() *Job {
				j := NewJob(domain.JobKindRequestOnly, testTenant)
				j.SetKey(testKey)
				j.AddTask(NewRequestDriversInEquipment(fake))
				return j
			},
			wantInMsg: "no equipment selected",
		},
		{
			name: "no tasks",
			build: func() *Job {
				j := NewJob(domain.JobKindRequestOnly, testTenant)
				j.SetKey(testKey)
				j.SetDevice(501)
				return j
			},
			wantInMsg: "no steps to run",
		},
		{
			name: "delete before read",
			build: func() *Job {
				j := NewJob(domain.JobKindReconcile, testTenant)
				j.SetKey(testKey)
				j.SetDevice(501)
				j.SeedLocalDrivers(domain.NewDriverSet(1))
				j.AddTask(NewDeleteDriversStoredInEquipment(fake))
				j.AddTask(NewReadDriversStoredInEquipment(fake))
				return j
			},
			wantInMsg: "step 1 (delete_drivers_stored_in_equipment) requires remote drivers",
		},
		{
			name: "wait without request",
			build: func() *Job {
				j := NewJob(domain.JobKindFullSync, testTenant)
				j.SetKey(testKey)
				j.SetDevice(501)
				j.AddTask(NewWaitForTransmission(time.Minute))
				return j
			},
			wantInMsg: "requires transmission request",
		},
		{
			name: "read without local drivers",
			build: func() *Job {
				j := NewJob(domain.JobKindReconcile, testTenant)
				j.SetKey(testKey)
				j.SetDevice(501)
				j.AddTask(NewReadDriversStoredInEquipment(fake))
				return j
			},
			wantInMsg: "requires local drivers",
		},
		{
			name: "single equipment task bound to several",
			build: func() *Job {
				j := NewJob(domain.JobKindFullSync, testTenant)
				j.SetKey(testKey)
				j.SetDevices([]domain.DeviceID{501, 502})
				j.AddTask(NewRequestDriversInEquipment(fake))
				return j
			},
			wantInMsg: "works on a single equipment but 2 are selected",
		},
		{
			name: "send without driver",
			build: func() *Job {
				j := NewJob(domain.JobKindSendDriver, testTenant)
				j.SetKey(testKey)
				j.SetDevices([]domain.DeviceID{501})
				j.AddTask(NewSendDriverToEquipment(fake))
				return j
			},
			wantInMsg: "requires driver",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.build().Prepare()
			var cfgErr *domain.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, cfgErr.Reason, tt.wantInMsg)
		})
	}
	assert.Zero(t, fake.callCount())
}

func TestJob_AbortsOnFirstFailure(t *testing.T) {
	t.Parallel()

	var ran [4]int
	failure := &domain.TransportError{Op: domain.OpAddDriver, DeviceID: 501, StatusCode: 503}

	job := NewJob(domain.JobKindFullSync, testTenant)
	job.SetKey(testKey)
	job.SetDevice(501)
	job.AddTask(&stubTask{name: "one", ran: &ran[0]})
	job.AddTask(&stubTask{name: "two", ran: &ran[1], err: failure})
	job.AddTask(&stubTask{name: "three", ran: &ran[2]})
	job.AddTask(&stubTask{name: "four", ran: &ran[3]})

	sink := new(recordingSink)
	err := job.Execute(context.Background(), sink)

	assert.ErrorIs(t, err, failure)
	assert.Equal(t, [4]int{1, 1, 0, 0}, ran)
	require.Len(t, sink.events, 2)
	assert.Equal(t, domain.ProgressEvent{Status: domain.ProgressOK, CurrentStep: 1, TotalSteps: 4, Message: "one done"}, sink.events[0])
	assert.Equal(t, domain.ProgressEvent{
		Status:      domain.ProgressError,
		CurrentStep: 2,
		TotalSteps:  4,
		Message:     domain.UserMessage(failure),
	}, sink.events[1])
	assert.Equal(t, domain.JobStatusFailed, job.Status())
}

func TestJob_PartialDeleteStopsBeforeInsert(t *testing.T) {
	t.Parallel()

	fake := newFakeEquipment()
	fake.store(501, 20, 40, 50, 60)
	fake.failOn(domain.OpDeleteDriver, 501, 50, &domain.TransportError{Op: domain.OpDeleteDriver, DeviceID: 501, StatusCode: 500})
	sink := new(recordingSink)

	err := newFullSyncJob(fake, 501, domain.NewDriverSet(10, 20)).Execute(context.Background(), sink)

	var partial *domain.PartialCompletionError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []domain.DriverID{40}, partial.Completed)
	assert.Equal(t, domain.DriverID(50), partial.Failed)
	assert.Equal(t, 1, partial.Remaining)

	assert.Equal(t, []domain.DriverID{40, 50}, driversOf(fake.commands(domain.OpDeleteDriver)))
	assert.Empty(t, fake.commands(domain.OpAddDriver))

	require.Len(t, sink.events, 4)
	last := sink.events[3]
	assert.Equal(t, domain.ProgressError, last.Status)
	assert.Equal(t, 4, last.CurrentStep)
	assert.Contains(t, last.Message, "stopped at driver 50")
}

func TestJob_ExecuteTwice(t *testing.T) {
	t.Parallel()

	fake := newFakeEquipment()
	fake.store(501, 1)
	job := newFullSyncJob(fake, 501, domain.NewDriverSet(1))

	require.NoError(t, job.Execute(context.Background(), new(recordingSink)))
	calls := fake.callCount()

	sink := new(recordingSink)
	assert.ErrorIs(t, job.Execute(context.Background(), sink), domain.ErrJobAlreadyExecuted)
	assert.Empty(t, sink.events)
	assert.Equal(t, calls, fake.callCount())
}

func TestJob_SinkFailureStopsJob(t *testing.T) {
	t.Parallel()

	var ran [3]int
	job := NewJob(domain.JobKindFullSync, testTenant)
	job.SetKey(testKey)
	job.SetDevice(501)
	job.AddTask(&stubTask{name: "one", ran: &ran[0]})
	job.AddTask(&stubTask{name: "two", ran: &ran[1]})
	job.AddTask(&stubTask{name: "three", ran: &ran[2]})

	gone := errors.New("client went away")
	sink := &recordingSink{failAfter: 1, err: gone}

	err := job.Execute(context.Background(), sink)
	assert.ErrorIs(t, err, gone)
	assert.Equal(t, [3]int{1, 1, 0}, ran)
	require.Len(t, sink.events, 1)
	assert.Equal(t, domain.ProgressOK, sink.events[0].Status)
}

func TestJob_CancellationStopsWithoutEvents(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ran [3]int
	job := NewJob(domain.JobKindFullSync, testTenant)
	job.SetKey(testKey)
	job.SetDevice(501)
	job.AddTask(&stubTask{name: "one", ran: &ran[0]})
	job.AddTask(&stubTask{name: "two", ran: &ran[1], run: func(context.Context) error {
		cancel()
		return nil
	}})
	job.AddTask(&stubTask{name: "three", ran: &ran[2]})

	sink := new(recordingSink)
	err := job.Execute(ctx, sink)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, [3]int{1, 1, 0}, ran)
	// Step two finished before the cancellation was observed.
	require.Len(t, sink.events, 2)
	for _, evt := range sink.events {
		assert.Equal(t, domain.ProgressOK, evt.Status)
	}
}

func TestJob_WaitAbortedByCancellation(t *testing.T) {
	t.Parallel()

	fake := newFakeEquipment()
	fake.store(501, 1)

	ctx, cancel := context.WithCancel(context.Background())
	job := NewJob(domain.JobKindFullSync, testTenant)
	job.SetKey(testKey)
	job.SetDevice(501)
	job.SeedLocalDrivers(domain.NewDriverSet(1))
	job.AddTask(NewRequestDriversInEquipment(fake))
	job.AddTask(NewWaitForTransmission(time.Hour))
	job.AddTask(NewReadDriversStoredInEquipment(fake))

	sink := &cancellingSink{cancel: cancel}
	err := job.Execute(ctx, sink)

	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, sink.events, 1)
	assert.Empty(t, fake.commands(domain.OpListDrivers))
}

// cancellingSink cancels the job context after the first event, like a
// browser closing the page during the wait.
type cancellingSink struct {
	recordingSink
	cancel context.CancelFunc
}

func (s *cancellingSink) Report(ctx context.Context, evt domain.ProgressEvent) error {
	err := s.recordingSink.Report(ctx, evt)
	s.cancel()
	return err
}

func TestJob_ReadPollsUntilReady(t *testing.T) {
	t.Parallel()

	fake := newFakeEquipment()
	fake.store(501, 1, 2)
	fake.notReady = 2

	job := NewJob(domain.JobKindFullSync, testTenant)
	job.SetKey(testKey)
	job.SetDevice(501)
	job.SeedLocalDrivers(domain.NewDriverSet(1, 2))
	job.AddTask(NewReadDriversStoredInEquipment(fake,
		WithPollTimeout(5*time.Second),
		WithPollInterval(time.Millisecond),
	))

	require.NoError(t, job.Execute(context.Background(), new(recordingSink)))
	assert.Len(t, fake.commands(domain.OpListDrivers), 3)

	remote, err := job.State().Remote()
	require.NoError(t, err)
	assert.True(t, remote.Equal(domain.NewDriverSet(1, 2)))
}

func TestJob_ReadSingleAttemptReportsNotReady(t *testing.T) {
	t.Parallel()

	fake := newFakeEquipment()
	fake.notReady = 1
	sink := new(recordingSink)

	job := NewJob(domain.JobKindReconcile, testTenant)
	job.SetKey(testKey)
	job.SetDevice(501)
	job.SeedLocalDrivers(domain.NewDriverSet(1))
	job.AddTask(NewReadDriversStoredInEquipment(fake))
	job.AddTask(NewInsertDriversNotRegisteredInEquipment(fake))

	err := job.Execute(context.Background(), sink)
	assert.ErrorIs(t, err, domain.ErrNotReady)
	assert.Len(t, fake.commands(domain.OpListDrivers), 1)
	assert.Empty(t, fake.commands(domain.OpAddDriver))
	require.Len(t, sink.events, 1)
	assert.Equal(t, domain.UserMessage(domain.ErrNotReady), sink.events[0].Message)
}

func TestJob_ReadStopsPollingOnVendorErrors(t *testing.T) {
	t.Parallel()

	fake := newFakeEquipment()
	fake.listErr = &domain.ProtocolError{Op: domain.OpListDrivers, DeviceID: 501, Detail: "bad id"}

	job := NewJob(domain.JobKindFullSync, testTenant)
	job.SetKey(testKey)
	job.SetDevice(501)
	job.SeedLocalDrivers(domain.NewDriverSet(1))
	job.AddTask(NewReadDriversStoredInEquipment(fake, WithPollTimeout(time.Second), WithPollInterval(time.Millisecond)))

	err := job.Execute(context.Background(), new(recordingSink))
	var protoErr *domain.ProtocolError
	assert.ErrorAs(t, err, &protoErr)
	assert.Len(t, fake.commands(domain.OpListDrivers), 1)
}

func TestJob_SendDriverToSeveralEquipment(t *testing.T) {
	t.Parallel()

	fake := newFakeEquipment()
	sink := new(recordingSink)

	job := NewJob(domain.JobKindSendDriver, testTenant)
	job.SetKey(testKey)
	job.SetDevices([]domain.DeviceID{501, 502, 501})
	job.SeedDriver(77)
	job.AddTask(NewSendDriverToEquipment(fake))

	require.NoError(t, job.Execute(context.Background(), sink))
	assert.Equal(t, []call{
		{op: domain.OpAddDriver, device: 501, driver: 77},
		{op: domain.OpAddDriver, device: 502, driver: 77},
	}, fake.calls)
	require.Len(t, sink.events, 1)
	assert.Equal(t, "Driver 77 sent to 2 equipment.", sink.events[0].Message)
	assert.Equal(t, 2, job.State().Summary().Sent)
}

func TestJob_SendDriverStopsAtFirstFailedEquipment(t *testing.T) {
	t.Parallel()

	fake := newFakeEquipment()
	fake.failOn(domain.OpAddDriver, 502, 77, &domain.TransportError{Op: domain.OpAddDriver, DeviceID: 502, StatusCode: 502})
	sink := new(recordingSink)

	job := NewJob(domain.JobKindSendDriver, testTenant)
	job.SetKey(testKey)
	job.SetDevices([]domain.DeviceID{501, 502, 503})
	job.SeedDriver(77)
	job.AddTask(NewSendDriverToEquipment(fake))

	err := job.Execute(context.Background(), sink)

	var partial *domain.PartialCompletionError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, domain.OpAddDriver, partial.Op)
	assert.Equal(t, domain.DeviceID(502), partial.DeviceID)
	assert.Equal(t, []domain.DeviceID{501}, partial.CompletedDevices)
	assert.Equal(t, domain.DriverID(77), partial.Failed)
	assert.Equal(t, 1, partial.Remaining)
	assert.Equal(t, 3, partial.Total())

	// 503 is never attempted.
	assert.Len(t, fake.commands(domain.OpAddDriver), 2)
	require.Len(t, sink.events, 1)
	assert.Equal(t, domain.ProgressError, sink.events[0].Status)
	assert.Contains(t, sink.events[0].Message, "Equipment 502: stopped at driver 77")
	assert.Contains(t, sink.events[0].Message, "(1 of 3 commands completed)")
	assert.Equal(t, 1, job.State().Summary().Sent)
}

func TestJob_PublishesLifecycleEvents(t *testing.T) {
	t.Parallel()

	fake := newFakeEquipment()
	fake.store(501, 1)

	publisher := new(mockDomainEventPublisher)
	var published []events.EventType
	publisher.On("PublishDomainEvent", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			published = append(published, args.Get(1).(events.DomainEvent).Type)
		}).
		Return(errors.New("broker down"))

	job := NewJob(domain.JobKindReconcile, testTenant, WithPublisher(publisher))
	job.SetKey(testKey)
	job.SetDevice(501)
	job.SeedLocalDrivers(domain.NewDriverSet(1))
	job.AddTask(NewReadDriversStoredInEquipment(fake))

	// Publish failures never fail the job.
	require.NoError(t, job.Execute(context.Background(), new(recordingSink)))
	assert.Equal(t, []events.EventType{domain.EventTypeJobStarted, domain.EventTypeJobCompleted}, published)
	publisher.AssertExpectations(t)
}

func TestJob_SetDevicesKeepsFirstSeenOrder(t *testing.T) {
	t.Parallel()

	job := NewJob(domain.JobKindSendDriver, testTenant)
	job.SetDevices([]domain.DeviceID{3, 1, 3, 2, 1})

	devices, err := job.State().Devices()
	require.NoError(t, err)
	assert.Equal(t, []domain.DeviceID{3, 1, 2}, devices)
}

func TestState_AccessorsReportMissingFacts(t *testing.T) {
	t.Parallel()

	s := newState()
	_, err := s.Remote()
	assert.ErrorIs(t, err, domain.ErrFactMissing)
	_, err = s.Deleted()
	assert.ErrorIs(t, err, domain.ErrFactMissing)
	_, err = s.Inserted()
	assert.ErrorIs(t, err, domain.ErrFactMissing)
	_, err = s.TransmissionRequestedAt()
	assert.ErrorIs(t, err, domain.ErrFactMissing)
	_, err = s.Device()
	assert.ErrorIs(t, err, domain.ErrFactMissing)
	_, err = s.Key()
	assert.ErrorIs(t, err, domain.ErrFactMissing)
}
