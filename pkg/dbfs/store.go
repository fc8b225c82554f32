package dbfs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

const (
	// DirName is the subdirectory of the data dir holding namespace databases
	DirName = "dbs"

	// ManifestFile describes the namespace a database directory belongs to
	ManifestFile = "namespace.json"
)

// Manifest is the on-disk record written into every namespace directory
type Manifest struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	SchemaKind       types.SchemaKind `json:"schema_kind"`
	SharedSchemaName string           `json:"shared_schema_name,omitempty"`
	CreationParams   json.RawMessage  `json:"creation_params,omitempty"`
	ProvisionedAt    time.Time        `json:"provisioned_at"`
}

// Store provisions namespace databases as directories under a base path
type Store struct {
	basePath string
}

// NewStore creates a store rooted at <dataDir>/dbs
func NewStore(dataDir string) (*Store, error) {
	basePath := filepath.Join(dataDir, DirName)

	// Ensure base directory exists
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create namespace directory: %w", err)
	}

	return &Store{basePath: basePath}, nil
}

// Provision creates the namespace directory and writes its manifest
func (s *Store) Provision(ctx context.Context, ns *types.Namespace) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := s.Path(ns.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create namespace directory: %w", err)
	}

	manifest := Manifest{
		ID:               ns.ID,
		Name:             ns.Name,
		SchemaKind:       ns.SchemaKind,
		SharedSchemaName: ns.SharedSchemaName,
		CreationParams:   ns.CreationParams,
		ProvisionedAt:    time.Now().UTC(),
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := ctx.Err(); err != nil {
		_ = os.RemoveAll(dir)
		return err
	}

	if err := writeFileAtomic(filepath.Join(dir, ManifestFile), data); err != nil {
		_ = os.RemoveAll(dir)
		return err
	}

	logger := log.WithNamespace(ns.Name)
	logger.Debug().Str("path", dir).Msg("Namespace directory provisioned")
	return nil
}

// Teardown removes the namespace directory and all contents
func (s *Store) Teardown(ctx context.Context, ns *types.Namespace) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := s.Path(ns.Name)

	// Check if directory exists
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil // Already removed
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove namespace directory: %w", err)
	}

	logger := log.WithNamespace(ns.Name)
	logger.Debug().Str("path", dir).Msg("Namespace directory removed")
	return nil
}

// ReadManifest loads the manifest of a provisioned namespace
func (s *Store) ReadManifest(name string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(s.Path(name), ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	return &m, nil
}

// Path returns the directory of a namespace
func (s *Store) Path(name string) string {
	return filepath.Join(s.basePath, name)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close manifest: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to install manifest: %w", err)
	}
	return nil
}
