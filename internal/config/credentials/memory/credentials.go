// Package memory serves tenant keys and fleet records from a loaded tenants
// file.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ahrav/stc-sync/internal/config"
	"github.com/ahrav/stc-sync/internal/domain/provisioning"
)

var (
	_ provisioning.KeyStore       = (*Directory)(nil)
	_ provisioning.FleetDirectory = (*Directory)(nil)
)

type tenant struct {
	key       provisioning.IntegrationKey
	equipment map[provisioning.DeviceID]provisioning.Device
	byClient  map[provisioning.ClientID][]provisioning.DeviceID
	drivers   map[provisioning.ClientID]provisioning.DriverSet
}

// Directory is an immutable, in-memory KeyStore and FleetDirectory.
type Directory struct {
	tenants map[provisioning.TenantID]*tenant
}

// NewDirectory indexes dir. Ids must be positive and equipment ids unique
// within a tenant.
func NewDirectory(dir *config.Directory) (*Directory, error) {
	d := &Directory{tenants: make(map[provisioning.TenantID]*tenant)}
	if dir == nil {
		return d, nil
	}

	for _, ts := range dir.Tenants {
		id := provisioning.TenantID(ts.ID)
		if id == "" {
			return nil, errors.New("tenant without id")
		}
		if _, dup := d.tenants[id]; dup {
			return nil, fmt.Errorf("duplicate tenant %s", id)
		}

		t := &tenant{
			key:       provisioning.IntegrationKey(ts.IntegrationKey),
			equipment: make(map[provisioning.DeviceID]provisioning.Device),
			byClient:  make(map[provisioning.ClientID][]provisioning.DeviceID),
			drivers:   make(map[provisioning.ClientID]provisioning.DriverSet),
		}

		for _, cs := range ts.Clients {
			client := provisioning.ClientID(cs.ID)
			if client <= 0 {
				return nil, fmt.Errorf("tenant %s: invalid client id %d", id, cs.ID)
			}

			drivers := t.drivers[client]
			if drivers == nil {
				drivers = provisioning.NewDriverSet()
				t.drivers[client] = drivers
			}
			for _, raw := range cs.Drivers {
				driver := provisioning.DriverID(raw)
				if !driver.Valid() {
					return nil, fmt.Errorf("tenant %s client %d: invalid driver id %d", id, cs.ID, raw)
				}
				drivers.Add(driver)
			}

			for _, es := range cs.Equipment {
				dev := provisioning.DeviceID(es.ID)
				if dev <= 0 {
					return nil, fmt.Errorf("tenant %s client %d: invalid equipment id %d", id, cs.ID, es.ID)
				}
				if _, dup := t.equipment[dev]; dup {
					return nil, fmt.Errorf("tenant %s: equipment %d listed twice", id, es.ID)
				}
				t.equipment[dev] = provisioning.Device{ID: dev, ClientID: client, Label: es.Label}
				t.byClient[client] = append(t.byClient[client], dev)
			}
		}

		d.tenants[id] = t
	}

	return d, nil
}

func (d *Directory) tenant(id provisioning.TenantID) (*tenant, error) {
	t, ok := d.tenants[id]
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", id, provisioning.ErrTenantNotFound)
	}
	return t, nil
}

// IntegrationKey implements provisioning.KeyStore.
func (d *Directory) IntegrationKey(_ context.Context, id provisioning.TenantID) (provisioning.IntegrationKey, error) {
	t, err := d.tenant(id)
	if err != nil {
		return "", err
	}
	if t.key.IsZero() {
		return "", fmt.Errorf("tenant %s: %w", id, provisioning.ErrKeyNotConfigured)
	}
	return t.key, nil
}

// Equipment implements provisioning.FleetDirectory.
func (d *Directory) Equipment(_ context.Context, id provisioning.TenantID, dev provisioning.DeviceID) (provisioning.Device, error) {
	t, err := d.tenant(id)
	if err != nil {
		return provisioning.Device{}, err
	}
	device, ok := t.equipment[dev]
	if !ok {
		return provisioning.Device{}, fmt.Errorf("equipment %d: %w", dev, provisioning.ErrDeviceNotFound)
	}
	return device, nil
}

// EquipmentForClient returns the client's equipment ordered by id.
func (d *Directory) EquipmentForClient(_ context.Context, id provisioning.TenantID, client provisioning.ClientID) ([]provisioning.Device, error) {
	t, err := d.tenant(id)
	if err != nil {
		return nil, err
	}

	ids := append([]provisioning.DeviceID(nil), t.byClient[client]...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	devices := make([]provisioning.Device, 0, len(ids))
	for _, dev := range ids {
		devices = append(devices, t.equipment[dev])
	}
	return devices, nil
}

// DriverIDsForClient returns a copy of the client's driver set. Unknown
// clients have no drivers.
func (d *Directory) DriverIDsForClient(_ context.Context, id provisioning.TenantID, client provisioning.ClientID) (provisioning.DriverSet, error) {
	t, err := d.tenant(id)
	if err != nil {
		return nil, err
	}
	if drivers, ok := t.drivers[client]; ok {
		return drivers.Clone(), nil
	}
	return provisioning.NewDriverSet(), nil
}
