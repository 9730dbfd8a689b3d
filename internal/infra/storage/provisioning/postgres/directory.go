package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/stc-sync/internal/domain/provisioning"
	"github.com/ahrav/stc-sync/internal/infra/storage"
)

var (
	_ provisioning.KeyStore       = (*directoryStore)(nil)
	_ provisioning.FleetDirectory = (*directoryStore)(nil)
)

// defaultDBAttributes defines standard OpenTelemetry attributes for database operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

const (
	integrationKeyQuery = `SELECT integration_key FROM tenants WHERE id = $1`

	// The tenant row anchors each lookup so an unknown tenant yields no rows
	// while an unknown child yields a row of NULLs.
	equipmentQuery = `
SELECT e.id, e.client_id, e.label
FROM tenants t
LEFT JOIN equipment e ON e.tenant_id = t.id AND e.id = $2
WHERE t.id = $1`

	equipmentForClientQuery = `
SELECT e.id, e.label
FROM tenants t
LEFT JOIN equipment e ON e.tenant_id = t.id AND e.client_id = $2
WHERE t.id = $1
ORDER BY e.id`

	driversForClientQuery = `
SELECT d.driver_id
FROM tenants t
LEFT JOIN drivers d ON d.tenant_id = t.id AND d.client_id = $2
WHERE t.id = $1`
)

// directoryStore implements provisioning.KeyStore and
// provisioning.FleetDirectory on top of the ERP tables.
type directoryStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewDirectoryStore creates a PostgreSQL-backed directory with tracing.
func NewDirectoryStore(pool *pgxpool.Pool, tracer trace.Tracer) *directoryStore {
	return &directoryStore{db: pool, tracer: tracer}
}

func attrs(tenant provisioning.TenantID, extra ...attribute.KeyValue) []attribute.KeyValue {
	kv := make([]attribute.KeyValue, 0, len(defaultDBAttributes)+1+len(extra))
	kv = append(kv, defaultDBAttributes...)
	kv = append(kv, attribute.String("tenant_id", tenant.String()))
	return append(kv, extra...)
}

// IntegrationKey returns the vendor key of tenant.
func (s *directoryStore) IntegrationKey(ctx context.Context, tenant provisioning.TenantID) (provisioning.IntegrationKey, error) {
	var key provisioning.IntegrationKey
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_integration_key", attrs(tenant), func(ctx context.Context) error {
		var raw pgtype.Text
		if err := s.db.QueryRow(ctx, integrationKeyQuery, tenant.String()).Scan(&raw); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("tenant %s: %w", tenant, provisioning.ErrTenantNotFound)
			}
			return fmt.Errorf("failed to get integration key: %w", err)
		}
		if !raw.Valid || raw.String == "" {
			return fmt.Errorf("tenant %s: %w", tenant, provisioning.ErrKeyNotConfigured)
		}
		key = provisioning.IntegrationKey(raw.String)
		return nil
	})
	return key, err
}

// Equipment returns one piece of equipment of tenant.
func (s *directoryStore) Equipment(ctx context.Context, tenant provisioning.TenantID, id provisioning.DeviceID) (provisioning.Device, error) {
	var device provisioning.Device
	dbAttrs := attrs(tenant, attribute.Int64("equipment_id", int64(id)))

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_equipment", dbAttrs, func(ctx context.Context) error {
		var (
			devID, clientID pgtype.Int8
			label           pgtype.Text
		)
		err := s.db.QueryRow(ctx, equipmentQuery, tenant.String(), int64(id)).Scan(&devID, &clientID, &label)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("tenant %s: %w", tenant, provisioning.ErrTenantNotFound)
			}
			return fmt.Errorf("failed to get equipment: %w", err)
		}
		if !devID.Valid {
			return fmt.Errorf("equipment %d: %w", id, provisioning.ErrDeviceNotFound)
		}

		device = provisioning.Device{
			ID:       provisioning.DeviceID(devID.Int64),
			ClientID: provisioning.ClientID(clientID.Int64),
			Label:    label.String,
		}
		return nil
	})
	return device, err
}

// EquipmentForClient returns the client's equipment ordered by id.
func (s *directoryStore) EquipmentForClient(ctx context.Context, tenant provisioning.TenantID, client provisioning.ClientID) ([]provisioning.Device, error) {
	var devices []provisioning.Device
	dbAttrs := attrs(tenant, attribute.Int64("client_id", int64(client)))

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_client_equipment", dbAttrs, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, equipmentForClientQuery, tenant.String(), int64(client))
		if err != nil {
			return fmt.Errorf("failed to list equipment: %w", err)
		}
		defer rows.Close()

		found := false
		for rows.Next() {
			found = true
			var (
				devID pgtype.Int8
				label pgtype.Text
			)
			if err := rows.Scan(&devID, &label); err != nil {
				return fmt.Errorf("failed to scan equipment: %w", err)
			}
			if !devID.Valid {
				continue
			}
			devices = append(devices, provisioning.Device{
				ID:       provisioning.DeviceID(devID.Int64),
				ClientID: client,
				Label:    label.String,
			})
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to list equipment: %w", err)
		}
		if !found {
			return fmt.Errorf("tenant %s: %w", tenant, provisioning.ErrTenantNotFound)
		}
		return nil
	})
	return devices, err
}

// DriverIDsForClient returns the authoritative driver set of a client.
func (s *directoryStore) DriverIDsForClient(ctx context.Context, tenant provisioning.TenantID, client provisioning.ClientID) (provisioning.DriverSet, error) {
	drivers := provisioning.NewDriverSet()
	dbAttrs := attrs(tenant, attribute.Int64("client_id", int64(client)))

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_client_drivers", dbAttrs, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, driversForClientQuery, tenant.String(), int64(client))
		if err != nil {
			return fmt.Errorf("failed to list drivers: %w", err)
		}

		ids, err := pgx.CollectRows(rows, pgx.RowTo[pgtype.Int8])
		if err != nil {
			return fmt.Errorf("failed to list drivers: %w", err)
		}
		if len(ids) == 0 {
			return fmt.Errorf("tenant %s: %w", tenant, provisioning.ErrTenantNotFound)
		}

		for _, id := range ids {
			if id.Valid {
				drivers.Add(provisioning.DriverID(id.Int64))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return drivers, nil
}
