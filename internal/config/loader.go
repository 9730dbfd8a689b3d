package config

import (
	"context"
)

// Loader provides directory loading capabilities. It abstracts the source
// of the tenants data to allow for different implementations like files or
// remote configuration services.
type Loader interface {
	// Load retrieves and parses the directory from the underlying source.
	Load(ctx context.Context) (*Directory, error)
}
