/*
Package types defines the data structures shared by the burrow control plane.

The central type is Namespace: one logical database hosted by the server process,
identified by a unique, case-sensitive name. A namespace is either standalone, the
root of a shared schema, or a member that borrows the schema of a root.

# Lifecycle

	absent ──create──▶ creating ──provisioned──▶ active
	   ▲                  │                          │
	   └──── purge ◀──────┘ (storage failure)       delete
	                                                 ▼
	absent ◀──── removed ◀──── deleted ◀──────── deleting
	                                          (kept on teardown failure)

A name is reserved in every state except deleted, so a deleted name may be reused.

# Thread Safety

Types here carry no locks. The registry hands out clones (Namespace.Clone) and
never shares its own copies with callers.
*/
package types
