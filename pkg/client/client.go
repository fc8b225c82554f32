package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/api"
)

// Client talks to the burrow admin API
type Client struct {
	baseURL string
	authKey string
	http    *http.Client
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default http.Client
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// NewClient creates a client for the admin API at addr. addr may be a bare
// host:port or a full http(s) URL. An empty authKey sends no credentials.
func NewClient(addr, authKey string, opts ...Option) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	c := &Client{
		baseURL: base,
		authKey: authKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the admin API
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("admin api returned %d", e.StatusCode)
	}
	return fmt.Sprintf("%s: %s (%d)", e.Kind, e.Message, e.StatusCode)
}

// IsKind reports whether err is an APIError of the given kind
func IsKind(err error, kind string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// CreateRequest is the body of a create call. Params are merged into the
// body verbatim and forwarded to the storage engine.
type CreateRequest struct {
	SharedSchema     bool
	SharedSchemaName string
	Params           map[string]interface{}
}

func (r CreateRequest) body() ([]byte, error) {
	fields := make(map[string]interface{}, len(r.Params)+2)
	for k, v := range r.Params {
		fields[k] = v
	}
	if r.SharedSchema {
		fields["shared_schema"] = true
	}
	if r.SharedSchemaName != "" {
		fields["shared_schema_name"] = r.SharedSchemaName
	}
	return json.Marshal(fields)
}

// List returns active namespaces, plus pending ones if includePending is set
func (c *Client) List(ctx context.Context, includePending bool) ([]api.NamespaceSummary, error) {
	path := "/v1/namespaces"
	if includePending {
		path += "?include_pending=true"
	}

	var resp api.ListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Namespaces, nil
}

// Get returns the descriptor of one namespace
func (c *Client) Get(ctx context.Context, name string) (*api.NamespaceResponse, error) {
	var resp api.NamespaceResponse
	if err := c.do(ctx, http.MethodGet, "/v1/namespaces/"+url.PathEscape(name), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Create creates a namespace
func (c *Client) Create(ctx context.Context, name string, req CreateRequest) (*api.NamespaceSummary, error) {
	body, err := req.body()
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	var resp api.NamespaceSummary
	if err := c.do(ctx, http.MethodPost, "/v1/namespaces/"+url.PathEscape(name)+"/create", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Delete deletes a namespace
func (c *Client) Delete(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/v1/namespaces/"+url.PathEscape(name), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.authKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var e api.ErrorResponse
		if json.Unmarshal(data, &e) == nil {
			apiErr.Kind = e.Error
			apiErr.Message = e.Message
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
