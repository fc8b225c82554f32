package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "burrow-data", cfg.DataDir)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, BackendBolt, cfg.Metadata.Backend)
	assert.True(t, cfg.Admin.Enabled)
	assert.Equal(t, "127.0.0.1:9090", cfg.Admin.Addr)
	assert.Empty(t, cfg.Admin.AuthKey)
	assert.Zero(t, cfg.Admin.RateLimit.RPS)
	assert.True(t, cfg.RPC.Enabled)
	assert.Equal(t, 16, cfg.RPC.MaxPendingPerNamespace)
	assert.Equal(t, 256, cfg.RPC.MaxSessions)
	assert.False(t, cfg.RPC.TLS.Enabled())
	assert.Nil(t, cfg.RPC.TLS.Material())
	assert.False(t, cfg.Namespaces.DisableNamespaces)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("BURROW_ADMIN_AUTH_KEY", "secretkey")
	t.Setenv("BURROW_ADMIN_ADDR", "0.0.0.0:8080")
	t.Setenv("BURROW_NAMESPACES_DISABLE_NAMESPACES", "true")
	t.Setenv("BURROW_RPC_MAX_SESSIONS", "8")
	t.Setenv("BURROW_SHUTDOWN_TIMEOUT", "3s")

	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, "secretkey", cfg.Admin.AuthKey)
	assert.Equal(t, "0.0.0.0:8080", cfg.Admin.Addr)
	assert.True(t, cfg.Namespaces.DisableNamespaces)
	assert.Equal(t, 8, cfg.RPC.MaxSessions)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "burrow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /var/lib/burrow
log:
  level: debug
  json: true
metadata:
  backend: raft
  raft:
    node_id: node-1
    bind_addr: 10.0.0.1:5101
admin:
  rate_limit:
    rps: 5
    burst: 10
rpc:
  tls:
    cert_file: /etc/burrow/server.crt
    key_file: /etc/burrow/server.key
    ca_file: /etc/burrow/ca.crt
`), 0644))

	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/burrow", cfg.DataDir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, BackendRaft, cfg.Metadata.Backend)
	assert.Equal(t, "node-1", cfg.Metadata.Raft.NodeID)
	assert.Equal(t, 5.0, cfg.Admin.RateLimit.RPS)
	assert.Equal(t, 10, cfg.Admin.RateLimit.Burst)

	m := cfg.RPC.TLS.Material()
	require.NotNil(t, m)
	assert.Equal(t, "/etc/burrow/ca.crt", m.CAFile)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Metadata.Backend = "etcd" },
			wantErr: "unknown metadata.backend",
		},
		{
			name:    "raft without node id",
			mutate:  func(c *Config) { c.Metadata.Backend = BackendRaft },
			wantErr: "node_id",
		},
		{
			name:    "cert without key",
			mutate:  func(c *Config) { c.RPC.TLS.CertFile = "server.crt" },
			wantErr: "must be set together",
		},
		{
			name:    "ca without cert",
			mutate:  func(c *Config) { c.RPC.TLS.CAFile = "ca.crt" },
			wantErr: "requires rpc.tls.cert_file",
		},
		{
			name:    "zero pending",
			mutate:  func(c *Config) { c.RPC.MaxPendingPerNamespace = 0 },
			wantErr: "max_pending_per_namespace",
		},
		{
			name:    "negative sessions",
			mutate:  func(c *Config) { c.RPC.MaxSessions = -1 },
			wantErr: "max_sessions",
		},
		{
			name:   "rpc limits ignored when rpc disabled",
			mutate: func(c *Config) { c.RPC.Enabled = false; c.RPC.MaxSessions = 0 },
		},
		{
			name: "both apis disabled",
			mutate: func(c *Config) {
				c.Admin.Enabled = false
				c.RPC.Enabled = false
			},
			wantErr: "at least one of admin or rpc",
		},
		{
			name: "both apis disabled in single tenant mode",
			mutate: func(c *Config) {
				c.Admin.Enabled = false
				c.RPC.Enabled = false
				c.Namespaces.DisableNamespaces = true
			},
		},
		{
			name:    "rate limit without burst",
			mutate:  func(c *Config) { c.Admin.RateLimit = RateLimitConfig{RPS: 1} },
			wantErr: "burst",
		},
		{
			name:    "empty data dir",
			mutate:  func(c *Config) { c.DataDir = "" },
			wantErr: "data_dir",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
