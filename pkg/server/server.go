package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/dbfs"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/registry"
	"github.com/cuemby/burrow/pkg/replication"
	"github.com/cuemby/burrow/pkg/security"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// How long a raft-backed server waits to lead its single-node cluster
const raftLeaderTimeout = 10 * time.Second

// Options carries collaborators that override the ones built from config
type Options struct {
	// Engine provisions namespace storage; defaults to a dbfs.Store under data_dir
	Engine registry.NamespaceStore

	// Handler runs replication sessions; defaults to replication.HoldHandler
	Handler replication.SessionHandler

	// Pre-bound listeners; when nil the configured addresses are bound
	AdminListener net.Listener
	RPCListener   net.Listener
}

// Server owns every long-lived component of a burrow process
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	store     storage.Store
	raft      *storage.RaftStore
	broker    *events.Broker
	registry  *registry.Registry
	collector *metrics.Collector
	admin     *api.Server
	acceptor  *replication.Acceptor

	adminLis net.Listener
	rpcLis   net.Listener
}

// New opens the metadata store, recovers the registry and binds the
// configured listeners. Nothing is served until Run. A failure releases
// whatever was already opened.
func New(cfg *config.Config, opts Options) (_ *Server, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Server{cfg: cfg, logger: log.WithComponent("server")}
	defer func() {
		if err != nil {
			for _, lis := range []net.Listener{s.adminLis, s.rpcLis} {
				if lis != nil {
					lis.Close()
				}
			}
			if s.acceptor != nil {
				s.acceptor.Stop()
			}
			_ = s.closeResources()
		}
	}()

	metrics.Reset()

	if err = s.openMetadata(); err != nil {
		metrics.MarkUnhealthy("metadata", err)
		return nil, err
	}
	metrics.MarkHealthy("metadata", cfg.Metadata.Backend)

	engine := opts.Engine
	if engine == nil {
		if engine, err = dbfs.NewStore(cfg.DataDir); err != nil {
			return nil, fmt.Errorf("failed to open namespace storage: %w", err)
		}
	}

	s.broker = events.NewBroker()
	s.broker.Start()

	s.registry, err = registry.New(registry.Config{
		Store:             s.store,
		Engine:            engine,
		Events:            s.broker,
		DisableNamespaces: cfg.Namespaces.DisableNamespaces,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	ctx := context.Background()
	if err = s.registry.Recover(ctx); err != nil {
		return nil, fmt.Errorf("failed to recover registry: %w", err)
	}
	if cfg.Namespaces.DisableNamespaces && !cfg.Namespaces.DisableDefaultNamespace {
		if err = s.registry.EnsureDefault(ctx); err != nil {
			return nil, fmt.Errorf("failed to create default namespace: %w", err)
		}
	}
	metrics.MarkHealthy("registry", "recovered")

	var raftStatus metrics.RaftStatus
	if s.raft != nil {
		raftStatus = s.raft
	}
	s.collector = metrics.NewCollector(s.registry, raftStatus)

	if cfg.Admin.Enabled {
		if s.adminLis, err = listen(opts.AdminListener, cfg.Admin.Addr, "admin"); err != nil {
			return nil, err
		}
		s.admin = api.NewServer(api.Config{
			Registry:       s.registry,
			AuthKey:        cfg.Admin.AuthKey,
			DisableMetrics: cfg.Admin.DisableMetrics,
			RateLimit:      cfg.Admin.RateLimit.RPS,
			RateBurst:      cfg.Admin.RateLimit.Burst,
		})
		if cfg.Admin.AuthKey == "" {
			s.logger.Warn().Msg("Admin API authentication is disabled")
		}
	}

	if cfg.RPC.Enabled {
		var tlsConfig *tls.Config
		if m := cfg.RPC.TLS.Material(); m != nil {
			if tlsConfig, err = security.ServerTLSConfig(*m); err != nil {
				return nil, fmt.Errorf("failed to load replication TLS material: %w", err)
			}
		}

		if s.rpcLis, err = listen(opts.RPCListener, cfg.RPC.Addr, "replication"); err != nil {
			return nil, err
		}
		s.acceptor, err = replication.NewAcceptor(replication.Config{
			Registry:               s.registry,
			Events:                 s.broker,
			Handler:                opts.Handler,
			TLS:                    tlsConfig,
			MaxPendingPerNamespace: cfg.RPC.MaxPendingPerNamespace,
			MaxSessions:            cfg.RPC.MaxSessions,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create replication acceptor: %w", err)
		}
	}

	return s, nil
}

func (s *Server) openMetadata() error {
	switch s.cfg.Metadata.Backend {
	case config.BackendMemory:
		s.store = storage.NewMemoryStore()

	case config.BackendBolt:
		store, err := storage.NewBoltStore(s.cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open metadata store: %w", err)
		}
		s.store = store

	case config.BackendRaft:
		rs, err := storage.NewRaftStore(storage.RaftConfig{
			NodeID:   s.cfg.Metadata.Raft.NodeID,
			BindAddr: s.cfg.Metadata.Raft.BindAddr,
			DataDir:  filepath.Join(s.cfg.DataDir, "raft"),
		})
		if err != nil {
			return fmt.Errorf("failed to open raft metadata store: %w", err)
		}
		s.store = rs
		s.raft = rs

		if err := rs.Bootstrap(raftLeaderTimeout); err != nil {
			return fmt.Errorf("failed to bootstrap raft metadata store: %w", err)
		}
		s.logger.Info().Str("node_id", s.cfg.Metadata.Raft.NodeID).Str("leader", rs.LeaderAddr()).Msg("Raft metadata store ready")

	default:
		return fmt.Errorf("unknown metadata backend %q", s.cfg.Metadata.Backend)
	}
	return nil
}

func listen(injected net.Listener, addr, name string) (net.Listener, error) {
	if injected != nil {
		return injected, nil
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s listener on %s: %w", name, addr, err)
	}
	return lis, nil
}

// Run serves until ctx is cancelled or a listener fails, then shuts down
// within the configured timeout
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	s.collector.Start()

	if s.admin != nil {
		metrics.MarkHealthy("admin", s.adminLis.Addr().String())
		g.Go(func() error {
			if err := s.admin.Serve(s.adminLis); err != nil {
				metrics.MarkUnhealthy("admin", err)
				return fmt.Errorf("admin API: %w", err)
			}
			return nil
		})
	}

	if s.acceptor != nil {
		metrics.MarkHealthy("rpc", s.rpcLis.Addr().String())
		g.Go(func() error {
			if err := s.acceptor.Serve(s.rpcLis); err != nil {
				metrics.MarkUnhealthy("rpc", err)
				return fmt.Errorf("replication endpoint: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.shutdown(shutdownCtx)
	})

	s.logger.Info().
		Str("admin", addrOf(s.adminLis)).
		Str("rpc", addrOf(s.rpcLis)).
		Str("backend", s.cfg.Metadata.Backend).
		Bool("namespaces_disabled", s.cfg.Namespaces.DisableNamespaces).
		Msg("Burrow server started")

	return g.Wait()
}

// shutdown stops intake first, then the registry, then storage
func (s *Server) shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down")

	var errs []error
	if s.admin != nil {
		if err := s.admin.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admin shutdown: %w", err))
		}
	}

	if s.acceptor != nil {
		stopped := make(chan struct{})
		go func() {
			s.acceptor.Stop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("replication shutdown: %w", ctx.Err()))
		}
	}

	s.collector.Stop()
	if err := s.closeResources(); err != nil {
		errs = append(errs, err)
	}

	s.logger.Info().Msg("Shutdown complete")
	return errors.Join(errs...)
}

// closeResources releases the registry, broker and metadata store in that
// order. It tolerates a partially constructed Server.
func (s *Server) closeResources() error {
	if s.registry != nil {
		s.registry.Close()
	}
	if s.broker != nil {
		s.broker.Stop()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return fmt.Errorf("failed to close metadata store: %w", err)
		}
	}
	return nil
}

// Registry returns the namespace registry
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// AdminAddr returns the bound admin address, or "" when disabled
func (s *Server) AdminAddr() string {
	return addrOf(s.adminLis)
}

// RPCAddr returns the bound replication address, or "" when disabled
func (s *Server) RPCAddr() string {
	return s.RPCEndpoint().Address
}

// RPCEndpoint describes the bound replication acceptor and its TLS material
func (s *Server) RPCEndpoint() types.RPCEndpoint {
	ep := types.RPCEndpoint{Address: addrOf(s.rpcLis)}
	if ep.Address != "" {
		ep.TLS = s.cfg.RPC.TLS.Material()
	}
	return ep
}

func addrOf(lis net.Listener) string {
	if lis == nil {
		return ""
	}
	return lis.Addr().String()
}
