package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/burrow/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketNamespaces = []byte("namespaces")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store at <dataDir>/burrow.db
func NewBoltStore(dataDir string) (*BoltStore, error) {
	return OpenBoltStore(filepath.Join(dataDir, "burrow.db"))
}

// OpenBoltStore opens (or creates) a BoltDB file at the given path
func OpenBoltStore(dbPath string) (*BoltStore, error) {
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketNamespaces); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketNamespaces, err)
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Get(name string) (*types.Namespace, error) {
	var ns types.Namespace
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNamespaces)
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return json.Unmarshal(data, &ns)
	})
	if err != nil {
		return nil, err
	}
	return &ns, nil
}

// Put inserts or replaces the record for ns.Name
func (s *BoltStore) Put(ns *types.Namespace) error {
	if ns == nil || ns.Name == "" {
		return fmt.Errorf("namespace name is required")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNamespaces)
		data, err := json.Marshal(ns)
		if err != nil {
			return err
		}
		return b.Put([]byte(ns.Name), data)
	})
}

func (s *BoltStore) Delete(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNamespaces)
		return b.Delete([]byte(name))
	})
}

func (s *BoltStore) List() ([]*types.Namespace, error) {
	var namespaces []*types.Namespace
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNamespaces)
		return b.ForEach(func(k, v []byte) error {
			var ns types.Namespace
			if err := json.Unmarshal(v, &ns); err != nil {
				return err
			}
			namespaces = append(namespaces, &ns)
			return nil
		})
	})
	return namespaces, err
}

// replaceAll swaps the whole bucket content in a single transaction
func (s *BoltStore) replaceAll(namespaces []*types.Namespace) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketNamespaces) != nil {
			if err := tx.DeleteBucket(bucketNamespaces); err != nil {
				return err
			}
		}
		b, err := tx.CreateBucket(bucketNamespaces)
		if err != nil {
			return err
		}
		for _, ns := range namespaces {
			data, err := json.Marshal(ns)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(ns.Name), data); err != nil {
				return err
			}
		}
		return nil
	})
}
