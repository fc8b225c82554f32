package storage

import (
	"fmt"
	"sync"

	"github.com/cuemby/burrow/pkg/types"
)

// MemoryStore keeps namespace metadata in process memory
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*types.Namespace
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*types.Namespace)}
}

func (s *MemoryStore) Get(name string) (*types.Namespace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns, ok := s.items[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return ns.Clone(), nil
}

func (s *MemoryStore) Put(ns *types.Namespace) error {
	if ns == nil || ns.Name == "" {
		return fmt.Errorf("namespace name is required")
	}

	s.mu.Lock()
	s.items[ns.Name] = ns.Clone()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(name string) error {
	s.mu.Lock()
	delete(s.items, name)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List() ([]*types.Namespace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Namespace, 0, len(s.items))
	for _, ns := range s.items {
		out = append(out, ns.Clone())
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
