package fileloader

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/stc-sync/internal/config"
)

var _ config.Loader = (*FileLoader)(nil)

// FileLoader loads the tenants directory from a YAML file on disk.
type FileLoader struct {
	// path is the filesystem path to the tenants file.
	path string
}

// NewFileLoader creates a FileLoader reading path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Load reads and parses the tenants file. Unknown fields are rejected so a
// misspelled key doesn't silently drop data.
func (l *FileLoader) Load(ctx context.Context) (*config.Directory, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenants file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var dir config.Directory
	if err := dec.Decode(&dir); err != nil {
		return nil, fmt.Errorf("failed to parse tenants file: %w", err)
	}

	return &dir, nil
}
