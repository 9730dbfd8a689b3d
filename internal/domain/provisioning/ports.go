package provisioning

import "context"

// Vendor operation names. They double as the verb phrase in user messages
// ("... while trying to <op>").
const (
	OpRequestDrivers = "request the driver list"
	OpListDrivers    = "read the driver list"
	OpAddDriver      = "add a driver"
	OpDeleteDriver   = "delete a driver"
)

// RemoteDeviceClient issues commands to the vendor API on behalf of one
// piece of equipment. Every call carries the tenant key. Implementations
// must be safe for concurrent use.
type RemoteDeviceClient interface {
	// RequestPendingDriverIDs asks the equipment to transmit its stored driver
	// list. The list becomes readable minutes later.
	RequestPendingDriverIDs(ctx context.Context, device DeviceID, key IntegrationKey) error
	// ListEnabledDriverIDs returns the last transmitted list of enabled ids,
	// duplicates included. It returns ErrNotReady while no transmission has
	// arrived.
	ListEnabledDriverIDs(ctx context.Context, device DeviceID, key IntegrationKey) (DriverListing, error)
	// AddDriverID stores one driver id on the equipment.
	AddDriverID(ctx context.Context, device DeviceID, key IntegrationKey, driver DriverID) error
	// DeleteDriverID removes every copy of one driver id from the equipment.
	DeleteDriverID(ctx context.Context, device DeviceID, key IntegrationKey, driver DriverID) error
}

// KeyStore resolves the vendor integration key of a tenant.
type KeyStore interface {
	// IntegrationKey returns ErrKeyNotConfigured when the tenant exists but
	// has no key.
	IntegrationKey(ctx context.Context, tenant TenantID) (IntegrationKey, error)
}

// FleetDirectory is the read-only view of the ERP records a job needs.
type FleetDirectory interface {
	// Equipment returns ErrDeviceNotFound for unknown ids.
	Equipment(ctx context.Context, tenant TenantID, id DeviceID) (Device, error)
	EquipmentForClient(ctx context.Context, tenant TenantID, client ClientID) ([]Device, error)
	// DriverIDsForClient returns the authoritative driver list of a client.
	DriverIDsForClient(ctx context.Context, tenant TenantID, client ClientID) (DriverSet, error)
}
