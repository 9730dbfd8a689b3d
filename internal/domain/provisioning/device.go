package provisioning

import (
	"strconv"
)

// DeviceID identifies a piece of vendor equipment installed in a vehicle.
type DeviceID int64

// String returns the decimal representation of the id.
func (id DeviceID) String() string { return strconv.FormatInt(int64(id), 10) }

// ClientID identifies the ERP client (fleet owner) equipment and drivers
// belong to.
type ClientID int64

// String returns the decimal representation of the id.
func (id ClientID) String() string { return strconv.FormatInt(int64(id), 10) }

// TenantID identifies an ERP tenant. Each tenant holds its own vendor
// integration key.
type TenantID string

// String returns the tenant id.
func (id TenantID) String() string { return string(id) }

// Device is the local view of one piece of equipment.
type Device struct {
	ID       DeviceID
	ClientID ClientID
	// Label is a human readable name, typically the vehicle plate.
	Label string
}

// IntegrationKey is the tenant credential the vendor API expects on every
// call. String never reveals the value so keys can't leak through logs.
type IntegrationKey string

// IsZero reports whether no key is configured.
func (k IntegrationKey) IsZero() bool { return k == "" }

// Value returns the raw key for the transport layer.
func (k IntegrationKey) Value() string { return string(k) }

// String redacts the key.
func (k IntegrationKey) String() string {
	if k.IsZero() {
		return "<unset>"
	}
	return "<redacted>"
}

// GoString redacts the key for %#v.
func (k IntegrationKey) GoString() string { return k.String() }
