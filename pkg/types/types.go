package types

import (
	"encoding/json"
	"time"
)

// Namespace is one logical database hosted by the server
type Namespace struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	SchemaKind       SchemaKind      `json:"schema_kind"`
	SharedSchemaName string          `json:"shared_schema_name,omitempty"`
	CreationParams   json.RawMessage `json:"creation_params,omitempty"`
	State            NamespaceState  `json:"state"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// SchemaKind describes how a namespace's schema is owned
type SchemaKind string

const (
	SchemaKindStandalone         SchemaKind = "standalone"
	SchemaKindSharedSchemaRoot   SchemaKind = "shared_schema_root"
	SchemaKindSharedSchemaMember SchemaKind = "shared_schema_member"
)

// NamespaceState is the lifecycle tag of a namespace
type NamespaceState string

const (
	NamespaceStateCreating NamespaceState = "creating"
	NamespaceStateActive   NamespaceState = "active"
	NamespaceStateDeleting NamespaceState = "deleting"
	NamespaceStateDeleted  NamespaceState = "deleted"
)

// Live reports whether the state still reserves the namespace name
func (s NamespaceState) Live() bool {
	return s != NamespaceStateDeleted && s != ""
}

// IsRoot reports whether other namespaces may share this namespace's schema
func (n *Namespace) IsRoot() bool {
	return n.SchemaKind == SchemaKindSharedSchemaRoot
}

// Clone returns a deep copy so callers never alias registry-owned state
func (n *Namespace) Clone() *Namespace {
	if n == nil {
		return nil
	}
	c := *n
	if n.CreationParams != nil {
		c.CreationParams = append(json.RawMessage(nil), n.CreationParams...)
	}
	return &c
}

// CreateParams carries the caller-supplied creation options
type CreateParams struct {
	SharedSchema     bool
	SharedSchemaName string

	// Raw is the full request body, forwarded untouched to the storage engine
	Raw json.RawMessage
}

// TLSMaterial points at PEM files used to secure an endpoint
type TLSMaterial struct {
	CertFile string
	KeyFile  string
	CAFile   string // optional; when set, clients must present a certificate signed by it
}

// RPCEndpoint describes the bound replication acceptor
type RPCEndpoint struct {
	Address string
	TLS     *TLSMaterial
}
