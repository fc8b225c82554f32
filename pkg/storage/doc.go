/*
Package storage persists namespace metadata for the burrow registry.

Three Store implementations share one interface:

	MemoryStore  map guarded by an RWMutex; nothing survives a restart
	BoltStore    bbolt file <data_dir>/burrow.db, one "namespaces" bucket, JSON values
	RaftStore    hashicorp/raft log (raft-boltdb) applied by NamespaceFSM into a local BoltStore

The registry is the only writer. Stores keep no invariants of their own beyond
keying records by name; uniqueness, schema links and lifecycle states are enforced
above this layer.

# Raft replication

RaftStore writes are Command{Op, Data} entries ("put_namespace", "delete_namespace")
applied on the leader and replayed by every replica's FSM. Reads hit the local
BoltStore, so a follower may briefly lag the leader. Writes on a follower fail with
ErrNotLeader.

Snapshots serialize the full namespace list as JSON; Restore replaces the bucket
content in one transaction.
*/
package storage
