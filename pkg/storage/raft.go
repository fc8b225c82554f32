package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// ErrNotLeader is returned when a write reaches a node that is not the Raft leader
var ErrNotLeader = errors.New("not the raft leader")

const defaultApplyTimeout = 5 * time.Second

// RaftConfig holds configuration for a Raft-replicated metadata store
type RaftConfig struct {
	NodeID       string
	BindAddr     string
	DataDir      string
	ApplyTimeout time.Duration
}

// RaftDeps carries the Raft plumbing; NewRaftStore builds TCP/BoltDB parts,
// tests pass in-memory ones
type RaftDeps struct {
	Logs      raft.LogStore
	Stable    raft.StableStore
	Snapshots raft.SnapshotStore
	Transport raft.Transport
}

// RaftStore replicates namespace metadata through Raft. Writes are applied on
// the leader; reads are served from the local BoltStore the FSM maintains.
type RaftStore struct {
	raft         *raft.Raft
	fsm          *NamespaceFSM
	local        *BoltStore
	localID      raft.ServerID
	localAddr    raft.ServerAddress
	applyTimeout time.Duration
	closers      []io.Closer
}

// NewRaftStore creates a Raft store with a TCP transport and BoltDB log storage
func NewRaftStore(cfg RaftConfig) (*RaftStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	logger := log.WithComponent("raft")

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bind address: %v", err)
	}

	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %v", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, logger)
	if err != nil {
		transport.Close()
		return nil, fmt.Errorf("failed to create snapshot store: %v", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		transport.Close()
		return nil, fmt.Errorf("failed to create log store: %v", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		logStore.Close()
		transport.Close()
		return nil, fmt.Errorf("failed to create stable store: %v", err)
	}

	local, err := NewBoltStore(cfg.DataDir)
	if err != nil {
		stableStore.Close()
		logStore.Close()
		transport.Close()
		return nil, err
	}

	s, err := NewRaftStoreWith(cfg, local, RaftDeps{
		Logs:      logStore,
		Stable:    stableStore,
		Snapshots: snapshotStore,
		Transport: transport,
	})
	if err != nil {
		local.Close()
		stableStore.Close()
		logStore.Close()
		transport.Close()
		return nil, err
	}
	s.closers = append(s.closers, transport, logStore, stableStore)
	return s, nil
}

// NewRaftStoreWith creates a Raft store over caller-supplied plumbing
func NewRaftStoreWith(cfg RaftConfig, local *BoltStore, deps RaftDeps) (*RaftStore, error) {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(cfg.NodeID)
	config.LogOutput = log.WithComponent("raft")

	// Tuned for LAN failover; hashicorp defaults target WAN deployments
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	fsm := NewNamespaceFSM(local)

	r, err := raft.NewRaft(config, fsm, deps.Logs, deps.Stable, deps.Snapshots, deps.Transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create raft: %v", err)
	}

	applyTimeout := cfg.ApplyTimeout
	if applyTimeout <= 0 {
		applyTimeout = defaultApplyTimeout
	}

	return &RaftStore{
		raft:         r,
		fsm:          fsm,
		local:        local,
		localID:      config.LocalID,
		localAddr:    deps.Transport.LocalAddr(),
		applyTimeout: applyTimeout,
	}, nil
}

// Bootstrap forms a single-node cluster (a no-op if one already exists) and
// waits until this node leads it
func (s *RaftStore) Bootstrap(timeout time.Duration) error {
	configuration := raft.Configuration{
		Servers: []raft.Server{
			{
				ID:      s.localID,
				Address: s.localAddr,
			},
		},
	}

	future := s.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
		return fmt.Errorf("failed to bootstrap cluster: %v", err)
	}

	return s.WaitForLeader(timeout)
}

// WaitForLeader blocks until this node is the leader or the timeout expires
func (s *RaftStore) WaitForLeader(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.IsLeader() {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for raft leadership after %s", timeout)
}

// AddVoter adds another metadata replica to the Raft cluster
func (s *RaftStore) AddVoter(nodeID, address string) error {
	if !s.IsLeader() {
		return fmt.Errorf("%w, current leader: %s", ErrNotLeader, s.LeaderAddr())
	}

	future := s.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %v", err)
	}
	return nil
}

// IsLeader returns true if this node is the Raft leader
func (s *RaftStore) IsLeader() bool {
	return s.raft.State() == raft.Leader
}

// LeaderAddr returns the address of the current Raft leader
func (s *RaftStore) LeaderAddr() string {
	addr, _ := s.raft.LeaderWithID()
	return string(addr)
}

// Stats returns a small set of Raft statistics
func (s *RaftStore) Stats() map[string]interface{} {
	return map[string]interface{}{
		"state":          s.raft.State().String(),
		"last_log_index": s.raft.LastIndex(),
		"applied_index":  s.raft.AppliedIndex(),
		"leader":         s.LeaderAddr(),
	}
}

func (s *RaftStore) apply(cmd Command) error {
	if !s.IsLeader() {
		return ErrNotLeader
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %v", err)
	}

	future := s.raft.Apply(data, s.applyTimeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) {
			return fmt.Errorf("%w: %v", ErrNotLeader, err)
		}
		return fmt.Errorf("failed to apply command: %v", err)
	}

	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

func (s *RaftStore) Put(ns *types.Namespace) error {
	if ns == nil || ns.Name == "" {
		return fmt.Errorf("namespace name is required")
	}
	data, err := json.Marshal(ns)
	if err != nil {
		return err
	}
	return s.apply(Command{Op: opPutNamespace, Data: data})
}

func (s *RaftStore) Delete(name string) error {
	data, err := json.Marshal(name)
	if err != nil {
		return err
	}
	return s.apply(Command{Op: opDeleteNamespace, Data: data})
}

// Get reads from the local replica
func (s *RaftStore) Get(name string) (*types.Namespace, error) {
	return s.local.Get(name)
}

// List reads from the local replica
func (s *RaftStore) List() ([]*types.Namespace, error) {
	return s.local.List()
}

// Close shuts Raft down and releases the stores
func (s *RaftStore) Close() error {
	var errs []error
	if err := s.raft.Shutdown().Error(); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown raft: %v", err))
	}
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.local.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close store: %v", err))
	}
	return errors.Join(errs...)
}
