package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/burrow/pkg/registry"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/gin-gonic/gin"
)

// Kinds produced by the HTTP layer itself
const (
	kindUnauthorized = "unauthorized"
	kindRateLimited  = "rate_limited"
)

// Largest accepted create body
const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NamespaceSummary is one entry of the list response
type NamespaceSummary struct {
	Name             string  `json:"name"`
	SharedSchemaName *string `json:"shared_schema_name"`
}

// ListResponse is the body of GET /v1/namespaces
type ListResponse struct {
	Namespaces []NamespaceSummary `json:"namespaces"`
}

// NamespaceResponse is the descriptor returned by GET /v1/namespaces/:name
type NamespaceResponse struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	SchemaKind       string  `json:"schema_kind"`
	SharedSchemaName *string `json:"shared_schema_name"`
	State            string  `json:"state"`
	CreatedAt        string  `json:"created_at"`
}

func summarize(ns *types.Namespace) NamespaceSummary {
	return NamespaceSummary{Name: ns.Name, SharedSchemaName: optional(ns.SharedSchemaName)}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *Server) handleList(c *gin.Context) {
	opts := registry.ListOptions{}
	if raw := c.Query("include_pending"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, registry.KindMalformedRequest, "include_pending must be a boolean")
			return
		}
		opts.IncludePending = v
	}

	list, err := s.reg.List(opts)
	if err != nil {
		s.respondError(c, "", err)
		return
	}

	resp := ListResponse{Namespaces: make([]NamespaceSummary, 0, len(list))}
	for _, ns := range list {
		resp.Namespaces = append(resp.Namespaces, summarize(ns))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGet(c *gin.Context) {
	name := c.Param("name")

	ns, err := s.reg.Get(name)
	if err != nil {
		s.respondError(c, name, err)
		return
	}

	c.JSON(http.StatusOK, NamespaceResponse{
		ID:               ns.ID,
		Name:             ns.Name,
		SchemaKind:       string(ns.SchemaKind),
		SharedSchemaName: optional(ns.SharedSchemaName),
		State:            string(ns.State),
		CreatedAt:        ns.CreatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleCreate(c *gin.Context) {
	name := c.Param("name")

	params, err := parseCreateBody(c.Request.Body)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, registry.KindMalformedRequest, err.Error())
		return
	}

	ns, err := s.reg.Create(c.Request.Context(), name, params)
	if err != nil {
		s.respondError(c, name, err)
		return
	}

	c.JSON(http.StatusOK, summarize(ns))
}

func (s *Server) handleDelete(c *gin.Context) {
	name := c.Param("name")

	if _, err := s.reg.Delete(c.Request.Context(), name); err != nil {
		s.respondError(c, name, err)
		return
	}

	c.Status(http.StatusOK)
}

// parseCreateBody accepts an empty body as {}. Only shared_schema and
// shared_schema_name are interpreted; the whole object is kept verbatim as
// creation parameters.
func parseCreateBody(body io.Reader) (types.CreateParams, error) {
	var params types.CreateParams

	data, err := io.ReadAll(io.LimitReader(body, maxBodyBytes+1))
	if err != nil {
		return params, fmt.Errorf("failed to read request body")
	}
	if len(data) > maxBodyBytes {
		return params, fmt.Errorf("request body exceeds %d bytes", maxBodyBytes)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		data = []byte(`{}`)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return params, fmt.Errorf("request body must be a JSON object")
	}

	if raw, ok := fields["shared_schema"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &params.SharedSchema); err != nil {
			return params, fmt.Errorf("shared_schema must be a boolean")
		}
	}
	if raw, ok := fields["shared_schema_name"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &params.SharedSchemaName); err != nil {
			return params, fmt.Errorf("shared_schema_name must be a string")
		}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return params, fmt.Errorf("request body must be a JSON object")
	}
	params.Raw = compact.Bytes()

	return params, nil
}

var statusByKind = map[string]int{
	registry.KindAlreadyExists:      http.StatusConflict,
	registry.KindNotFound:           http.StatusNotFound,
	registry.KindUnknownSchemaRoot:  http.StatusBadRequest,
	registry.KindHasSchemaMembers:   http.StatusConflict,
	registry.KindStorageFailure:     http.StatusInternalServerError,
	registry.KindMalformedRequest:   http.StatusBadRequest,
	registry.KindNamespacesDisabled: http.StatusBadRequest,
	registry.KindUnavailable:        http.StatusServiceUnavailable,
	registry.KindCancelled:          http.StatusServiceUnavailable,
	registry.KindInternal:           http.StatusInternalServerError,
}

var messageByKind = map[string]string{
	registry.KindAlreadyExists:      "namespace already exists",
	registry.KindNotFound:           "namespace not found",
	registry.KindUnknownSchemaRoot:  "shared schema root does not exist or is not active",
	registry.KindHasSchemaMembers:   "shared schema root still has members",
	registry.KindStorageFailure:     "storage failure",
	registry.KindMalformedRequest:   "malformed request",
	registry.KindNamespacesDisabled: "namespaces are disabled on this server",
	registry.KindUnavailable:        "server is shutting down",
	registry.KindCancelled:          "request cancelled",
	registry.KindInternal:           "internal error",
}

// respondError maps a registry error to its status. The message carries the
// namespace name and kind only; the full error goes to the log.
func (s *Server) respondError(c *gin.Context, name string, err error) {
	kind := registry.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		kind, status = registry.KindInternal, http.StatusInternalServerError
	}

	msg := messageByKind[kind]
	if name != "" {
		msg = fmt.Sprintf("%s: %q", msg, name)
	}

	evt := s.logger.Warn()
	if status >= http.StatusInternalServerError {
		evt = s.logger.Error()
	}
	evt.Err(err).Str("namespace", name).Str("kind", kind).Msg("Admin request failed")

	if kind == registry.KindCancelled {
		kind = registry.KindUnavailable
	}
	abortWithError(c, status, kind, msg)
}

func abortWithError(c *gin.Context, status int, kind, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: kind, Message: message})
}
