package registry

import (
	"context"
	"errors"
)

var (
	ErrAlreadyExists      = errors.New("namespace already exists")
	ErrNotFound           = errors.New("namespace not found")
	ErrUnknownSchemaRoot  = errors.New("unknown shared schema root")
	ErrHasSchemaMembers   = errors.New("shared schema root still has members")
	ErrStorageFailure     = errors.New("storage failure")
	ErrMalformedRequest   = errors.New("malformed request")
	ErrNamespacesDisabled = errors.New("namespaces are disabled")
	ErrClosed             = errors.New("registry is closed")
)

// Stable kind strings exposed to API clients
const (
	KindAlreadyExists      = "already_exists"
	KindNotFound           = "not_found"
	KindUnknownSchemaRoot  = "unknown_schema_root"
	KindHasSchemaMembers   = "has_schema_members"
	KindStorageFailure     = "storage_failure"
	KindMalformedRequest   = "malformed_request"
	KindNamespacesDisabled = "namespaces_disabled"
	KindUnavailable        = "unavailable"
	KindCancelled          = "cancelled"
	KindInternal           = "internal"
)

// KindOf classifies err into one of the stable kind strings
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyExists):
		return KindAlreadyExists
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnknownSchemaRoot):
		return KindUnknownSchemaRoot
	case errors.Is(err, ErrHasSchemaMembers):
		return KindHasSchemaMembers
	case errors.Is(err, ErrStorageFailure):
		return KindStorageFailure
	case errors.Is(err, ErrMalformedRequest):
		return KindMalformedRequest
	case errors.Is(err, ErrNamespacesDisabled):
		return KindNamespacesDisabled
	case errors.Is(err, ErrClosed):
		return KindUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindInternal
	}
}
