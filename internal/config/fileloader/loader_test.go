package fileloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileLoader_Load(t *testing.T) {
	t.Parallel()

	path := writeFile(t, `
tenants:
  - id: acme
    name: ACME Logistics
    integration_key: key-123
    clients:
      - id: 9
        drivers: [10, 20, 30]
        equipment:
          - id: 501
            label: ABC-1234
          - id: 502
`)

	dir, err := NewFileLoader(path).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, dir.Tenants, 1)

	tenant := dir.Tenants[0]
	assert.Equal(t, "acme", tenant.ID)
	assert.Equal(t, "key-123", tenant.IntegrationKey)
	require.Len(t, tenant.Clients, 1)
	assert.Equal(t, []int64{10, 20, 30}, tenant.Clients[0].Drivers)
	require.Len(t, tenant.Clients[0].Equipment, 2)
	assert.Equal(t, "ABC-1234", tenant.Clients[0].Equipment[0].Label)
}

func TestFileLoader_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{name: "missing file", path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.yaml") }},
		{name: "invalid yaml", path: func(t *testing.T) string { return writeFile(t, "tenants: [") }},
		{name: "unknown field", path: func(t *testing.T) string { return writeFile(t, "tenants:\n  - id: a\n    key: x\n") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewFileLoader(tt.path(t)).Load(context.Background())
			assert.Error(t, err)
		})
	}
}
