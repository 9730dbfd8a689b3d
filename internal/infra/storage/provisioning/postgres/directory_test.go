package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/stc-sync/internal/domain/provisioning"
	"github.com/ahrav/stc-sync/internal/infra/storage"
	"github.com/ahrav/stc-sync/internal/infra/storage/storagetest"
)

// setupDirectoryTest starts a database and seeds two tenants: acme with a
// key, one client, two pieces of equipment and three drivers, and nokey
// without a key.
func setupDirectoryTest(t *testing.T) (context.Context, *pgxpool.Pool, *directoryStore) {
	t.Helper()

	pool, cleanup := storagetest.SetupTestContainer(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	seed := []string{
		`INSERT INTO tenants (id, name, integration_key) VALUES ('acme', 'ACME', 'key-123'), ('nokey', 'No Key', NULL)`,
		`INSERT INTO clients (tenant_id, id, name) VALUES ('acme', 9, 'Fleet 9'), ('acme', 10, 'Empty fleet')`,
		`INSERT INTO equipment (tenant_id, id, client_id, label) VALUES ('acme', 502, 9, 'XYZ-9876'), ('acme', 501, 9, 'ABC-1234')`,
		`INSERT INTO drivers (tenant_id, client_id, driver_id) VALUES ('acme', 9, 10), ('acme', 9, 20), ('acme', 9, 30)`,
	}
	for _, stmt := range seed {
		_, err := pool.Exec(ctx, stmt)
		require.NoError(t, err)
	}

	return ctx, pool, NewDirectoryStore(pool, storage.NoOpTracer())
}

func TestDirectoryStore_IntegrationKey(t *testing.T) {
	t.Parallel()
	ctx, _, store := setupDirectoryTest(t)

	key, err := store.IntegrationKey(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "key-123", key.Value())

	_, err = store.IntegrationKey(ctx, "nokey")
	assert.ErrorIs(t, err, provisioning.ErrKeyNotConfigured)

	_, err = store.IntegrationKey(ctx, "ghost")
	assert.ErrorIs(t, err, provisioning.ErrTenantNotFound)
}

func TestDirectoryStore_Equipment(t *testing.T) {
	t.Parallel()
	ctx, _, store := setupDirectoryTest(t)

	dev, err := store.Equipment(ctx, "acme", 501)
	require.NoError(t, err)
	assert.Equal(t, provisioning.Device{ID: 501, ClientID: 9, Label: "ABC-1234"}, dev)

	_, err = store.Equipment(ctx, "acme", 999)
	assert.ErrorIs(t, err, provisioning.ErrDeviceNotFound)

	_, err = store.Equipment(ctx, "ghost", 501)
	assert.ErrorIs(t, err, provisioning.ErrTenantNotFound)
}

func TestDirectoryStore_EquipmentForClient(t *testing.T) {
	t.Parallel()
	ctx, _, store := setupDirectoryTest(t)

	devices, err := store.EquipmentForClient(ctx, "acme", 9)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, provisioning.DeviceID(501), devices[0].ID)
	assert.Equal(t, provisioning.DeviceID(502), devices[1].ID)
	assert.Equal(t, provisioning.ClientID(9), devices[1].ClientID)

	devices, err = store.EquipmentForClient(ctx, "acme", 10)
	require.NoError(t, err)
	assert.Empty(t, devices)

	_, err = store.EquipmentForClient(ctx, "ghost", 9)
	assert.ErrorIs(t, err, provisioning.ErrTenantNotFound)
}

func TestDirectoryStore_DriverIDsForClient(t *testing.T) {
	t.Parallel()
	ctx, pool, store := setupDirectoryTest(t)

	drivers, err := store.DriverIDsForClient(ctx, "acme", 9)
	require.NoError(t, err)
	assert.True(t, drivers.Equal(provisioning.NewDriverSet(10, 20, 30)))

	_, err = pool.Exec(ctx, `DELETE FROM drivers WHERE tenant_id = 'acme' AND driver_id = 20`)
	require.NoError(t, err)

	drivers, err = store.DriverIDsForClient(ctx, "acme", 9)
	require.NoError(t, err)
	assert.True(t, drivers.Equal(provisioning.NewDriverSet(10, 30)))

	drivers, err = store.DriverIDsForClient(ctx, "acme", 10)
	require.NoError(t, err)
	assert.Zero(t, drivers.Len())

	_, err = store.DriverIDsForClient(ctx, "ghost", 9)
	assert.ErrorIs(t, err, provisioning.ErrTenantNotFound)
}
