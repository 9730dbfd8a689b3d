package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/stc-sync/internal/domain/events"
	domain "github.com/ahrav/stc-sync/internal/domain/provisioning"
	"github.com/ahrav/stc-sync/pkg/common/logger"
)

// SyncConfig holds the timing of the synchronization flows.
type SyncConfig struct {
	// TransmissionDelay is how long the equipment needs to transmit its
	// driver list after a request.
	TransmissionDelay time.Duration
	// PollTimeout bounds how long a full sync keeps polling a list that is
	// still not ready after the delay.
	PollTimeout time.Duration
	// PollInterval is the first wait between polls.
	PollInterval time.Duration
}

// DefaultSyncConfig returns the timings observed on the vendor side: about
// four minutes for a transmission, plus a two minute margin.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		TransmissionDelay: 6 * time.Minute,
		PollTimeout:       2 * time.Minute,
		PollInterval:      15 * time.Second,
	}
}

// SyncService assembles provisioning jobs from directory data. It resolves
// the tenant key, the equipment and the authoritative driver list, then
// binds them to the task chain of the requested flow.
type SyncService struct {
	keys   domain.KeyStore
	fleet  domain.FleetDirectory
	client domain.RemoteDeviceClient
	cfg    SyncConfig

	publisher events.DomainEventPublisher
	metrics   JobMetrics

	logger *logger.Logger
	tracer trace.Tracer
}

// NewSyncService creates a SyncService.
func NewSyncService(
	keys domain.KeyStore,
	fleet domain.FleetDirectory,
	client domain.RemoteDeviceClient,
	cfg SyncConfig,
	publisher events.DomainEventPublisher,
	metrics JobMetrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) *SyncService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	logger = logger.With("component", "sync_service")
	return &SyncService{
		keys:      keys,
		fleet:     fleet,
		client:    client,
		cfg:       cfg,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		tracer:    tracer,
	}
}

func (s *SyncService) newJob(kind domain.JobKind, tenant domain.TenantID) *Job {
	opts := []JobOption{WithPublisher(s.publisher), WithLogger(s.logger), WithTracer(s.tracer)}
	if s.metrics != nil {
		opts = append(opts, WithMetrics(s.metrics))
	}
	return NewJob(kind, tenant, opts...)
}

// NewFullSyncJob builds the complete flow for one equipment: request the
// list, wait for it, read it, then delete and insert until it matches the
// ERP.
func (s *SyncService) NewFullSyncJob(ctx context.Context, tenant domain.TenantID, device domain.DeviceID) (*Job, error) {
	job := s.newJob(domain.JobKindFullSync, tenant)
	if err := s.bindReconcileInputs(ctx, job, tenant, device); err != nil {
		return nil, err
	}

	job.AddTask(NewRequestDriversInEquipment(s.client))
	job.AddTask(NewWaitForTransmission(s.cfg.TransmissionDelay))
	job.AddTask(NewReadDriversStoredInEquipment(s.client,
		WithPollTimeout(s.cfg.PollTimeout),
		WithPollInterval(s.cfg.PollInterval),
	))
	job.AddTask(NewDeleteDriversStoredInEquipment(s.client))
	job.AddTask(NewInsertDriversNotRegisteredInEquipment(s.client))
	return job, nil
}

// NewRequestJob builds the first half of the split flow: it only asks the
// equipment to transmit its list.
func (s *SyncService) NewRequestJob(ctx context.Context, tenant domain.TenantID, device domain.DeviceID) (*Job, error) {
	ctx, span := s.tracer.Start(ctx, "sync_service.new_request_job",
		trace.WithAttributes(attribute.String("tenant", tenant.String()), attribute.Int64("device_id", int64(device))),
	)
	defer span.End()

	job := s.newJob(domain.JobKindRequestOnly, tenant)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.bindKey(gctx, job, tenant) })
	g.Go(func() error {
		if _, err := s.fleet.Equipment(gctx, tenant, device); err != nil {
			return fmt.Errorf("lookup equipment %d: %w", device, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve job inputs")
		return nil, err
	}
	job.SetDevice(device)

	job.AddTask(NewRequestDriversInEquipment(s.client))
	return job, nil
}

// NewReconcileJob builds the second half of the split flow: it reads a list
// requested earlier, making a single attempt, and reconciles it.
func (s *SyncService) NewReconcileJob(ctx context.Context, tenant domain.TenantID, device domain.DeviceID) (*Job, error) {
	job := s.newJob(domain.JobKindReconcile, tenant)
	if err := s.bindReconcileInputs(ctx, job, tenant, device); err != nil {
		return nil, err
	}

	job.AddTask(NewReadDriversStoredInEquipment(s.client))
	job.AddTask(NewDeleteDriversStoredInEquipment(s.client))
	job.AddTask(NewInsertDriversNotRegisteredInEquipment(s.client))
	return job, nil
}

// NewSendDriverJob builds a job that pushes one driver to the listed
// equipment, in order.
func (s *SyncService) NewSendDriverJob(
	ctx context.Context,
	tenant domain.TenantID,
	driver domain.DriverID,
	devices []domain.DeviceID,
) (*Job, error) {
	ctx, span := s.tracer.Start(ctx, "sync_service.new_send_driver_job",
		trace.WithAttributes(
			attribute.String("tenant", tenant.String()),
			attribute.Int64("driver_id", int64(driver)),
			attribute.Int("device_count", len(devices)),
		),
	)
	defer span.End()

	job := s.newJob(domain.JobKindSendDriver, tenant)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.bindKey(gctx, job, tenant) })
	for _, device := range devices {
		g.Go(func() error {
			if _, err := s.fleet.Equipment(gctx, tenant, device); err != nil {
				return fmt.Errorf("lookup equipment %d: %w", device, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve job inputs")
		return nil, err
	}

	job.SetDevices(devices)
	job.SeedDriver(driver)
	job.AddTask(NewSendDriverToEquipment(s.client))
	return job, nil
}

// NewSendDriverToClientJob pushes one driver to every equipment of a client.
func (s *SyncService) NewSendDriverToClientJob(
	ctx context.Context,
	tenant domain.TenantID,
	driver domain.DriverID,
	client domain.ClientID,
) (*Job, error) {
	equipment, err := s.fleet.EquipmentForClient(ctx, tenant, client)
	if err != nil {
		return nil, fmt.Errorf("lookup equipment of client %d: %w", client, err)
	}

	devices := make([]domain.DeviceID, 0, len(equipment))
	for _, d := range equipment {
		devices = append(devices, d.ID)
	}
	return s.NewSendDriverJob(ctx, tenant, driver, devices)
}

// bindReconcileInputs resolves the key, the equipment and the client's
// driver list concurrently and seeds them into the job.
func (s *SyncService) bindReconcileInputs(
	ctx context.Context,
	job *Job,
	tenant domain.TenantID,
	device domain.DeviceID,
) error {
	ctx, span := s.tracer.Start(ctx, "sync_service.bind_reconcile_inputs",
		trace.WithAttributes(attribute.String("tenant", tenant.String()), attribute.Int64("device_id", int64(device))),
	)
	defer span.End()

	var local domain.DriverSet
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.bindKey(gctx, job, tenant) })
	g.Go(func() error {
		eq, err := s.fleet.Equipment(gctx, tenant, device)
		if err != nil {
			return fmt.Errorf("lookup equipment %d: %w", device, err)
		}
		if local, err = s.fleet.DriverIDsForClient(gctx, tenant, eq.ClientID); err != nil {
			return fmt.Errorf("lookup drivers of client %d: %w", eq.ClientID, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve job inputs")
		return err
	}
	span.SetAttributes(attribute.Int("local_driver_count", local.Len()))

	job.SetDevice(device)
	job.SeedLocalDrivers(local)
	return nil
}

// bindKey sets the tenant key on the job. A tenant without a key is not a
// lookup failure: the job is built without one and reports the problem to
// the user when it runs.
func (s *SyncService) bindKey(ctx context.Context, job *Job, tenant domain.TenantID) error {
	key, err := s.keys.IntegrationKey(ctx, tenant)
	switch {
	case err == nil:
		job.SetKey(key)
		return nil
	case errors.Is(err, domain.ErrKeyNotConfigured), errors.Is(err, domain.ErrTenantNotFound):
		s.logger.Warn(ctx, "Tenant has no integration key", "tenant", tenant.String())
		return nil
	default:
		return fmt.Errorf("lookup integration key of tenant %s: %w", tenant, err)
	}
}
