package replication

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/registry"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// NamespaceLookup resolves the namespace named in a handshake
type NamespaceLookup interface {
	Get(name string) (*types.Namespace, error)
}

// Config configures the replication acceptor
type Config struct {
	Registry               NamespaceLookup
	Events                 *events.Broker // optional; deletion events end sessions
	Handler                SessionHandler // defaults to HoldHandler
	TLS                    *tls.Config    // nil serves plaintext
	MaxPendingPerNamespace int
	MaxSessions            int
	HandshakeTimeout       time.Duration
	SweepInterval          time.Duration // how often attached namespaces are rechecked
}

// Acceptor is the replication gRPC endpoint. It authenticates the target
// namespace of each incoming stream and hands the stream to a per-namespace
// worker that runs the session on a bounded pool.
type Acceptor struct {
	cfg    Config
	grpc   *grpc.Server
	health *health.Server
	pool   *sessionPool
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu      sync.Mutex
	workers map[string]*worker

	active atomic.Int64

	sub      events.Subscriber
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// worker serializes hand-off for one namespace
type worker struct {
	name   string
	nsID   string
	queue  chan *pendingSession
	ctx    context.Context
	cancel context.CancelCauseFunc
}

type pendingSession struct {
	session *Session
	ctx     context.Context
	ready   chan struct{} // closed once the handshake ack is on the wire
	done    chan error
	claimed atomic.Bool
}

// claim decides the race between the pool starting the session and the
// attaching stream giving up on it; only the winner proceeds
func (p *pendingSession) claim() bool {
	return p.claimed.CompareAndSwap(false, true)
}

// NewAcceptor builds the gRPC server and session pool
func NewAcceptor(cfg Config) (*Acceptor, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("namespace lookup is required")
	}
	if cfg.MaxPendingPerNamespace <= 0 {
		return nil, fmt.Errorf("max pending per namespace must be positive")
	}
	if cfg.MaxSessions <= 0 {
		return nil, fmt.Errorf("max sessions must be positive")
	}
	if cfg.Handler == nil {
		cfg.Handler = HoldHandler{}
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}

	pool, err := newSessionPool(cfg.MaxSessions)
	if err != nil {
		return nil, fmt.Errorf("failed to create session pool: %w", err)
	}

	logger := log.WithComponent("replication")

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(metrics.GRPCMetrics.UnaryServerInterceptor(), accessLogUnary(logger)),
		grpc.ChainStreamInterceptor(metrics.GRPCMetrics.StreamServerInterceptor(), accessLogStream(logger)),
	}
	if cfg.TLS != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(cfg.TLS)))
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	a := &Acceptor{
		cfg:     cfg,
		grpc:    grpc.NewServer(opts...),
		health:  health.NewServer(),
		pool:    pool,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[string]*worker),
	}

	a.grpc.RegisterService(&ServiceDesc, a)
	healthpb.RegisterHealthServer(a.grpc, a.health)
	a.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	metrics.GRPCMetrics.InitializeMetrics(a.grpc)

	if cfg.Events != nil {
		a.sub = cfg.Events.Subscribe()
	}
	a.wg.Add(1)
	go a.watchNamespaces()

	return a, nil
}

// Serve accepts streams on lis until Stop
func (a *Acceptor) Serve(lis net.Listener) error {
	a.logger.Info().Str("addr", lis.Addr().String()).Bool("tls", a.cfg.TLS != nil).Msg("Replication endpoint listening")

	if err := a.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop ends every session and waits for the stream handlers to return
func (a *Acceptor) Stop() {
	a.stopOnce.Do(func() {
		a.health.Shutdown()
		a.cancel(ErrShuttingDown)
		a.grpc.GracefulStop()

		if a.sub != nil {
			a.cfg.Events.Unsubscribe(a.sub)
		}
		a.wg.Wait()
		a.pool.release()
	})
}

// Attach implements AttachServer
func (a *Acceptor) Attach(stream grpc.ServerStream) error {
	ns, err := a.handshake(stream)
	if err != nil {
		return err
	}

	session := &Session{ID: uuid.New().String(), Namespace: ns, Stream: stream}
	sLog := a.logger.With().Str("namespace", ns.Name).Str("session", session.ID).Logger()

	w := a.workerFor(ns)

	// a deletion that landed between the lookup and the worker registration
	// found no worker to end
	if a.stale(ns.Name, ns.ID) {
		a.endWorker(w, "Namespace deleted during handshake")
		metrics.ReplicationHandshakesTotal.WithLabelValues("not_found").Inc()
		return sessionStatus(stream.Context(), ErrNamespaceDeleted)
	}

	ctx, cancel := context.WithCancelCause(stream.Context())
	defer cancel(nil)
	stop := context.AfterFunc(w.ctx, func() { cancel(context.Cause(w.ctx)) })
	defer stop()

	p := &pendingSession{session: session, ctx: ctx, ready: make(chan struct{}), done: make(chan error, 1)}
	select {
	case w.queue <- p:
	default:
		metrics.ReplicationHandshakesTotal.WithLabelValues("exhausted").Inc()
		sLog.Warn().Msg("Replication hand-off queue full, refusing session")
		return status.Errorf(codes.ResourceExhausted, "too many pending sessions for namespace %q", ns.Name)
	}

	if err := stream.SendMsg(wrapperspb.Bytes([]byte(ns.ID))); err != nil {
		metrics.ReplicationHandshakesTotal.WithLabelValues("invalid").Inc()
		cancel(err)
	} else {
		metrics.ReplicationHandshakesTotal.WithLabelValues("ok").Inc()
	}
	close(p.ready)

	var serveErr error
	select {
	case serveErr = <-p.done:
	case <-ctx.Done():
		if p.claim() {
			// never started
			serveErr = context.Cause(ctx)
		} else {
			serveErr = <-p.done
		}
	}

	return sessionStatus(ctx, serveErr)
}

// handshake reads the target namespace from the first client frame. The
// acknowledgement is sent by Attach once the session has a queue slot.
func (a *Acceptor) handshake(stream grpc.ServerStream) (*types.Namespace, error) {
	first := make(chan error, 1)
	msg := &wrapperspb.BytesValue{}
	go func() { first <- stream.RecvMsg(msg) }()

	timer := time.NewTimer(a.cfg.HandshakeTimeout)
	defer timer.Stop()

	select {
	case err := <-first:
		if err != nil {
			metrics.ReplicationHandshakesTotal.WithLabelValues("invalid").Inc()
			return nil, status.Errorf(codes.InvalidArgument, "malformed handshake: %v", err)
		}
	case <-timer.C:
		metrics.ReplicationHandshakesTotal.WithLabelValues("timeout").Inc()
		return nil, status.Error(codes.DeadlineExceeded, "handshake timed out")
	case <-stream.Context().Done():
		return nil, status.FromContextError(stream.Context().Err()).Err()
	}

	name := string(msg.GetValue())
	if err := registry.ValidateName(name); err != nil {
		metrics.ReplicationHandshakesTotal.WithLabelValues("invalid").Inc()
		return nil, status.Errorf(codes.InvalidArgument, "invalid namespace name %q", name)
	}

	ns, err := a.cfg.Registry.Get(name)
	if err != nil || ns.State != types.NamespaceStateActive {
		metrics.ReplicationHandshakesTotal.WithLabelValues("not_found").Inc()
		if err != nil && !errors.Is(err, registry.ErrNotFound) {
			a.logger.Error().Err(err).Str("namespace", name).Msg("Namespace lookup failed during handshake")
			return nil, status.Error(codes.Unavailable, "namespace lookup failed")
		}
		return nil, status.Errorf(codes.NotFound, "namespace %q does not exist", name)
	}

	return ns, nil
}

// workerFor returns the worker serving ns, replacing one left over from an
// earlier namespace of the same name
func (a *Acceptor) workerFor(ns *types.Namespace) *worker {
	a.mu.Lock()
	defer a.mu.Unlock()

	if w, ok := a.workers[ns.Name]; ok {
		if w.nsID == ns.ID {
			return w
		}
		w.cancel(ErrNamespaceDeleted)
	}

	ctx, cancel := context.WithCancelCause(a.ctx)
	w := &worker{
		name:   ns.Name,
		nsID:   ns.ID,
		queue:  make(chan *pendingSession, a.cfg.MaxPendingPerNamespace),
		ctx:    ctx,
		cancel: cancel,
	}
	a.workers[ns.Name] = w

	a.wg.Add(1)
	go a.runWorker(w)
	return w
}

// runWorker hands queued sessions to the pool in arrival order. Submitting
// blocks while the pool is saturated, which backs the queue up.
func (a *Acceptor) runWorker(w *worker) {
	defer a.wg.Done()

	for {
		select {
		case p := <-w.queue:
			a.dispatch(p)
		case <-w.ctx.Done():
			// queued attaches share w.ctx and abandon themselves
			return
		}
	}
}

func (a *Acceptor) dispatch(p *pendingSession) {
	if p.ctx.Err() != nil {
		return
	}

	err := a.pool.submit(func() {
		if !p.claim() {
			return
		}
		<-p.ready
		if p.ctx.Err() != nil {
			p.done <- context.Cause(p.ctx)
			return
		}

		a.active.Add(1)
		metrics.ReplicationSessionsActive.Inc()
		defer func() {
			metrics.ReplicationSessionsActive.Dec()
			a.active.Add(-1)
		}()

		a.logger.Debug().Str("namespace", p.session.Namespace.Name).Str("session", p.session.ID).Msg("Replication session started")
		p.done <- a.cfg.Handler.Serve(p.ctx, p.session)
	})
	if err != nil && p.claim() {
		p.done <- err
	}
}

// endNamespace cancels every session of a namespace
func (a *Acceptor) endNamespace(name string) {
	a.mu.Lock()
	w, ok := a.workers[name]
	a.mu.Unlock()

	if ok {
		a.endWorker(w, "Ended replication sessions of deleted namespace")
	}
}

// endWorker cancels w and forgets it unless it has already been replaced
func (a *Acceptor) endWorker(w *worker, msg string) {
	a.mu.Lock()
	if a.workers[w.name] == w {
		delete(a.workers, w.name)
	}
	a.mu.Unlock()

	w.cancel(ErrNamespaceDeleted)
	a.logger.Info().Str("namespace", w.name).Msg(msg)
}

// stale reports whether the namespace a session was attached to is gone or
// no longer active. Lookup failures other than NotFound keep the session.
func (a *Acceptor) stale(name, id string) bool {
	ns, err := a.cfg.Registry.Get(name)
	if err != nil {
		return errors.Is(err, registry.ErrNotFound)
	}
	return ns.State != types.NamespaceStateActive || ns.ID != id
}

// sweep ends workers whose namespace went away without a deletion event
// reaching this acceptor
func (a *Acceptor) sweep() {
	a.mu.Lock()
	workers := make([]*worker, 0, len(a.workers))
	for _, w := range a.workers {
		workers = append(workers, w)
	}
	a.mu.Unlock()

	for _, w := range workers {
		if a.stale(w.name, w.nsID) {
			a.endWorker(w, "Ended replication sessions of missing namespace")
		}
	}
}

// watchNamespaces ends sessions on deletion events and periodically sweeps
// for deletions whose events were dropped. A nil subscription only sweeps.
func (a *Acceptor) watchNamespaces() {
	defer a.wg.Done()

	sub := a.sub
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				sub = nil
				continue
			}
			if ev.Type.Ends() {
				a.endNamespace(ev.Namespace)
			}
		case <-ticker.C:
			a.sweep()
		case <-a.ctx.Done():
			return
		}
	}
}

// SessionCount returns the number of sessions currently running
func (a *Acceptor) SessionCount() int {
	return int(a.active.Load())
}

// sessionStatus converts a handler result into the stream's final status
func sessionStatus(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrNamespaceDeleted):
		return status.Error(codes.Aborted, "namespace deleted")
	case errors.Is(err, ErrShuttingDown), errors.Is(err, ErrPoolClosed):
		return status.Error(codes.Unavailable, "server shutting down")
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return status.FromContextError(err).Err()
	default:
		return status.Errorf(codes.Internal, "session failed: %v", err)
	}
}
