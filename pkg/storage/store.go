package storage

import (
	"errors"

	"github.com/cuemby/burrow/pkg/types"
)

// ErrNotFound is returned when no record exists for a namespace name
var ErrNotFound = errors.New("namespace record not found")

// Store defines the interface for namespace metadata storage.
// Only the registry writes to it; callers must not mutate returned values.
type Store interface {
	Get(name string) (*types.Namespace, error)
	Put(ns *types.Namespace) error
	Delete(name string) error
	List() ([]*types.Namespace, error)

	// Utility
	Close() error
}
