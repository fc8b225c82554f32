/*
Package server wires a burrow process together.

New opens the metadata store selected by configuration (memory, bbolt or a
single-node raft cluster), recovers the namespace registry, applies the
default namespace policy and binds the admin and replication listeners. A
bind failure is reported by New, before anything is served.

Run serves both endpoints under an errgroup. When the context is cancelled
or either endpoint fails, the server shuts down in this order:

 1. admin HTTP server (in-flight requests drain)
 2. replication acceptor (sessions end with codes.Unavailable)
 3. registry (in-flight mutations finish, new ones are refused)
 4. event broker
 5. metadata store
*/
package server
