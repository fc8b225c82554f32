/*
Package replication implements the replication endpoint: a gRPC service on
which replicas attach to a single namespace and stream frames.

# Handshake

The first frame a replica sends is the namespace name. The acceptor checks
the name against the registry and answers with the namespace ID once the
session has been queued. Unknown, pending and deleting namespaces are
refused with codes.NotFound; the refusal affects only that stream.

# Hand-off

Every namespace has a worker with a bounded queue. Attached streams are
queued in arrival order and the worker hands them to a shared ants pool
that caps the number of concurrently served sessions. A full queue refuses
the stream with codes.ResourceExhausted.

	replica --Attach--> handshake --> worker queue --> pool --> SessionHandler

# Session lifetime

A session ends when the replica half-closes the stream, when its namespace
is deleted (codes.Aborted) or when the endpoint stops (codes.Unavailable).
Deletion is learned from namespace events and from a periodic sweep of the
registry that catches events dropped by a busy broker.
The protocol past the handshake is supplied through SessionHandler;
HoldHandler keeps the stream open and discards frames.
*/
package replication
