/*
Package registry is the authoritative owner of namespace identity.

A Registry decides which namespaces exist, enforces name uniqueness, tracks
the lifecycle state of each namespace and keeps the shared schema
relationships consistent. Physical provisioning is delegated to a
NamespaceStore; metadata persistence to a storage.Store.

# Lifecycle

	Create:  (absent) ──reserve──▶ creating ──Provision ok──▶ active
	                                  │
	                                  └──Provision err──▶ (absent)

	Delete:  active ──▶ deleting ──Teardown ok──▶ (absent)
	                       │
	                       └──Teardown err──▶ deleting (retry resumes)

A failed create leaves no trace and the name is immediately reusable. A
failed delete leaves the namespace in deleting; it is hidden from List,
still reserves its name, and the next Delete resumes the teardown.

# Concurrency

Mutations on the same name are linearized by a per-name lock handed out in
arrival order. Mutations on different names only share a short critical
section around metadata writes, so a slow Provision for one name never
blocks another. Reads take a consistent snapshot and never observe a
partially applied mutation.

# Shared schemas

A namespace created with SharedSchema becomes a root. Others may name it
with SharedSchemaName while it is active; they become members. A root
cannot be deleted while it has members in any live state.

# Errors

Every failure wraps one of the package sentinels; KindOf maps an error to
the stable kind string carried in admin API responses.
*/
package registry
