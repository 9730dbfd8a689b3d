package config

// Directory is the tenants file: the ERP records a memory-backed deployment
// serves to provisioning jobs.
type Directory struct {
	Tenants []TenantSpec `yaml:"tenants"`
}

// TenantSpec describes one ERP tenant and its vendor integration key.
type TenantSpec struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name,omitempty"`
	// IntegrationKey is the STC key of the tenant. Empty means not configured.
	IntegrationKey string       `yaml:"integration_key,omitempty"`
	Clients        []ClientSpec `yaml:"clients"`
}

// ClientSpec describes a fleet owner, its equipment and its drivers.
type ClientSpec struct {
	ID        int64           `yaml:"id"`
	Name      string          `yaml:"name,omitempty"`
	Drivers   []int64         `yaml:"drivers"`
	Equipment []EquipmentSpec `yaml:"equipment"`
}

// EquipmentSpec describes one piece of equipment installed in a vehicle.
type EquipmentSpec struct {
	ID    int64  `yaml:"id"`
	Label string `yaml:"label,omitempty"`
}
