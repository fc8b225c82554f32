// Package config loads burrow server configuration.
//
// Values are resolved from, in order of precedence: command-line flags bound
// by the caller, BURROW_* environment variables (dots become underscores, so
// admin.auth_key is BURROW_ADMIN_AUTH_KEY), an optional YAML file, and the
// defaults below.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable
const EnvPrefix = "BURROW"

// Metadata backends
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendRaft   = "raft"
)

// Config is the root configuration structure
type Config struct {
	DataDir         string           `mapstructure:"data_dir"`
	Log             LogConfig        `mapstructure:"log"`
	Metadata        MetadataConfig   `mapstructure:"metadata"`
	Admin           AdminConfig      `mapstructure:"admin"`
	RPC             RPCConfig        `mapstructure:"rpc"`
	Namespaces      NamespacesConfig `mapstructure:"namespaces"`
	ShutdownTimeout time.Duration    `mapstructure:"shutdown_timeout"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// MetadataConfig selects where namespace metadata is kept
type MetadataConfig struct {
	Backend string     `mapstructure:"backend"`
	Raft    RaftConfig `mapstructure:"raft"`
}

// RaftConfig contains settings for the replicated metadata backend
type RaftConfig struct {
	NodeID   string `mapstructure:"node_id"`
	BindAddr string `mapstructure:"bind_addr"`
}

// AdminConfig contains admin HTTP API settings
type AdminConfig struct {
	Enabled        bool            `mapstructure:"enabled"`
	Addr           string          `mapstructure:"addr"`
	AuthKey        string          `mapstructure:"auth_key"`
	DisableMetrics bool            `mapstructure:"disable_metrics"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig configures the per-client token bucket. RPS 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// RPCConfig contains replication endpoint settings
type RPCConfig struct {
	Enabled                bool      `mapstructure:"enabled"`
	Addr                   string    `mapstructure:"addr"`
	TLS                    TLSConfig `mapstructure:"tls"`
	MaxPendingPerNamespace int       `mapstructure:"max_pending_per_namespace"`
	MaxSessions            int       `mapstructure:"max_sessions"`
}

// TLSConfig points at PEM files
type TLSConfig struct {
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	CAFile   string `mapstructure:"ca_file"`
}

// NamespacesConfig contains multi-tenancy switches
type NamespacesConfig struct {
	DisableNamespaces       bool `mapstructure:"disable_namespaces"`
	DisableDefaultNamespace bool `mapstructure:"disable_default_namespace"`
}

// Enabled reports whether any TLS material is configured
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" || t.KeyFile != ""
}

// Material converts the file paths to the shared endpoint type
func (t TLSConfig) Material() *types.TLSMaterial {
	if !t.Enabled() {
		return nil
	}
	return &types.TLSMaterial{CertFile: t.CertFile, KeyFile: t.KeyFile, CAFile: t.CAFile}
}

// NewViper returns a viper instance with defaults and environment binding
// applied. Callers may bind flags to it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads the optional config file and unmarshals the merged result
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration produced by defaults alone
func Default() *Config {
	cfg, err := Load(NewViper(), "")
	if err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return cfg
}

// Validate checks for configuration errors that would fail at startup
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}

	switch c.Metadata.Backend {
	case BackendMemory, BackendBolt:
	case BackendRaft:
		if c.Metadata.Raft.NodeID == "" {
			return fmt.Errorf("metadata.raft.node_id is required for the raft backend")
		}
		if c.Metadata.Raft.BindAddr == "" {
			return fmt.Errorf("metadata.raft.bind_addr is required for the raft backend")
		}
	default:
		return fmt.Errorf("unknown metadata.backend %q (want memory, bolt or raft)", c.Metadata.Backend)
	}

	if c.Admin.Enabled && c.Admin.Addr == "" {
		return fmt.Errorf("admin.addr must not be empty")
	}
	if c.Admin.RateLimit.RPS < 0 {
		return fmt.Errorf("admin.rate_limit.rps must not be negative")
	}
	if c.Admin.RateLimit.RPS > 0 && c.Admin.RateLimit.Burst <= 0 {
		return fmt.Errorf("admin.rate_limit.burst must be positive when rate limiting is enabled")
	}

	if c.RPC.Enabled {
		if c.RPC.Addr == "" {
			return fmt.Errorf("rpc.addr must not be empty")
		}
		if c.RPC.MaxPendingPerNamespace <= 0 {
			return fmt.Errorf("rpc.max_pending_per_namespace must be positive")
		}
		if c.RPC.MaxSessions <= 0 {
			return fmt.Errorf("rpc.max_sessions must be positive")
		}
	}

	tls := c.RPC.TLS
	if (tls.CertFile == "") != (tls.KeyFile == "") {
		return fmt.Errorf("rpc.tls.cert_file and rpc.tls.key_file must be set together")
	}
	if tls.CAFile != "" && tls.CertFile == "" {
		return fmt.Errorf("rpc.tls.ca_file requires rpc.tls.cert_file")
	}

	if !c.Admin.Enabled && !c.RPC.Enabled && !c.Namespaces.DisableNamespaces {
		return fmt.Errorf("at least one of admin or rpc must be enabled when namespaces are enabled")
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "burrow-data")
	v.SetDefault("shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("metadata.backend", BackendBolt)
	v.SetDefault("metadata.raft.node_id", "")
	v.SetDefault("metadata.raft.bind_addr", "127.0.0.1:5101")

	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.addr", "127.0.0.1:9090")
	v.SetDefault("admin.auth_key", "")
	v.SetDefault("admin.disable_metrics", false)
	v.SetDefault("admin.rate_limit.rps", 0.0)
	v.SetDefault("admin.rate_limit.burst", 20)

	v.SetDefault("rpc.enabled", true)
	v.SetDefault("rpc.addr", "127.0.0.1:5001")
	v.SetDefault("rpc.tls.cert_file", "")
	v.SetDefault("rpc.tls.key_file", "")
	v.SetDefault("rpc.tls.ca_file", "")
	v.SetDefault("rpc.max_pending_per_namespace", 16)
	v.SetDefault("rpc.max_sessions", 256)

	v.SetDefault("namespaces.disable_namespaces", false)
	v.SetDefault("namespaces.disable_default_namespace", false)
}
