package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/hashicorp/raft"
)

const (
	opPutNamespace    = "put_namespace"
	opDeleteNamespace = "delete_namespace"
)

// Command represents a metadata change in the Raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// NamespaceFSM applies committed metadata commands to a local BoltStore
type NamespaceFSM struct {
	mu    sync.RWMutex
	store *BoltStore
}

// NewNamespaceFSM creates a new FSM instance
func NewNamespaceFSM(store *BoltStore) *NamespaceFSM {
	return &NamespaceFSM{
		store: store,
	}
}

// Apply applies a Raft log entry to the FSM.
// The returned value is either nil or an error and is surfaced through ApplyFuture.Response.
func (f *NamespaceFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case opPutNamespace:
		var ns types.Namespace
		if err := json.Unmarshal(cmd.Data, &ns); err != nil {
			return err
		}
		return f.store.Put(&ns)

	case opDeleteNamespace:
		var name string
		if err := json.Unmarshal(cmd.Data, &name); err != nil {
			return err
		}
		return f.store.Delete(name)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot creates a point-in-time snapshot of the FSM
func (f *NamespaceFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	namespaces, err := f.store.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %v", err)
	}

	return &namespaceSnapshot{Namespaces: namespaces}, nil
}

// Restore replaces the FSM state with the snapshot content
func (f *NamespaceFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot namespaceSnapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.store.replaceAll(snapshot.Namespaces); err != nil {
		return fmt.Errorf("failed to restore namespaces: %v", err)
	}
	return nil
}

type namespaceSnapshot struct {
	Namespaces []*types.Namespace `json:"namespaces"`
}

// Persist writes the snapshot to the given SnapshotSink
func (s *namespaceSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

func (s *namespaceSnapshot) Release() {}
