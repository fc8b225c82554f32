package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/registry"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// NamespaceRegistry is the part of the registry the admin API drives
type NamespaceRegistry interface {
	Create(ctx context.Context, name string, params types.CreateParams) (*types.Namespace, error)
	Delete(ctx context.Context, name string) (*types.Namespace, error)
	List(opts registry.ListOptions) ([]*types.Namespace, error)
	Get(name string) (*types.Namespace, error)
}

// Config configures the admin API server
type Config struct {
	Registry       NamespaceRegistry
	AuthKey        string // empty disables authentication
	DisableMetrics bool
	RateLimit      float64 // requests per second per client, 0 disables
	RateBurst      int
}

// Server is the admin HTTP API
type Server struct {
	engine *gin.Engine
	http   *http.Server
	reg    NamespaceRegistry
	logger zerolog.Logger
}

// NewServer builds the admin API router
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine: gin.New(),
		reg:    cfg.Registry,
		logger: log.WithComponent("admin"),
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(requestLogger(s.logger))
	s.engine.Use(requestMetrics())
	// unauthenticated callers always see 401, never 429
	s.engine.Use(authGate(cfg.AuthKey))
	if cfg.RateLimit > 0 {
		s.engine.Use(newRateLimiter(cfg.RateLimit, cfg.RateBurst).middleware())
	}

	s.engine.NoRoute(func(c *gin.Context) {
		abortWithError(c, http.StatusNotFound, "not_found", "no such route")
	})

	s.registerHealthRoutes(!cfg.DisableMetrics)

	v1 := s.engine.Group("/v1/namespaces")
	v1.GET("", s.handleList)
	v1.GET("/:name", s.handleGet)
	v1.POST("/:name/create", s.handleCreate)
	v1.POST("/:name/delete", s.handleDelete)
	v1.DELETE("/:name", s.handleDelete)

	s.http = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler returns the router for embedding or testing
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve accepts connections on lis until Shutdown is called
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("Admin API listening")

	if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) registerHealthRoutes(withMetrics bool) {
	s.engine.GET("/health", gin.WrapF(metrics.HealthHandler()))
	s.engine.GET("/ready", gin.WrapF(metrics.ReadyHandler()))
	s.engine.GET("/live", gin.WrapF(metrics.LivenessHandler()))
	if withMetrics {
		s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
}
