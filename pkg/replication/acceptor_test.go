package replication

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/registry"
	"github.com/cuemby/burrow/pkg/security"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type nopEngine struct{}

func (nopEngine) Provision(ctx context.Context, ns *types.Namespace) error { return nil }
func (nopEngine) Teardown(ctx context.Context, ns *types.Namespace) error  { return nil }

type testEnv struct {
	acceptor *Acceptor
	reg      *registry.Registry
	broker   *events.Broker
	lis      *bufconn.Listener
	conn     *grpc.ClientConn
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()

	broker := events.NewBroker()
	broker.Start()

	reg, err := registry.New(registry.Config{Store: storage.NewMemoryStore(), Engine: nopEngine{}, Events: broker})
	require.NoError(t, err)

	cfg := Config{
		Registry:               reg,
		Events:                 broker,
		MaxPendingPerNamespace: 4,
		MaxSessions:            8,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	a, err := NewAcceptor(cfg)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = a.Serve(lis) }()

	env := &testEnv{acceptor: a, reg: reg, broker: broker, lis: lis}
	env.conn = env.dial(t, insecure.NewCredentials())

	t.Cleanup(func() {
		env.conn.Close()
		a.Stop()
		broker.Stop()
	})
	return env
}

func (e *testEnv) dial(t *testing.T, creds credentials.TransportCredentials) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return e.lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(creds),
	)
	require.NoError(t, err)
	return conn
}

func (e *testEnv) create(t *testing.T, name string) *types.Namespace {
	t.Helper()
	ns, err := e.reg.Create(context.Background(), name, types.CreateParams{})
	require.NoError(t, err)
	return ns
}

func (e *testEnv) queueLen(name string) int {
	e.acceptor.mu.Lock()
	defer e.acceptor.mu.Unlock()
	if w, ok := e.acceptor.workers[name]; ok {
		return len(w.queue)
	}
	return -1
}

func TestNewAcceptorValidatesConfig(t *testing.T) {
	_, err := NewAcceptor(Config{MaxPendingPerNamespace: 1, MaxSessions: 1})
	assert.Error(t, err)

	reg := &registry.Registry{}
	_, err = NewAcceptor(Config{Registry: reg, MaxSessions: 1})
	assert.Error(t, err)

	_, err = NewAcceptor(Config{Registry: reg, MaxPendingPerNamespace: 1})
	assert.Error(t, err)
}

func TestAttachActiveNamespace(t *testing.T) {
	env := newTestEnv(t)
	ns := env.create(t, "alpha")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := Attach(ctx, env.conn, "alpha")
	require.NoError(t, err)
	assert.Equal(t, ns.ID, session.NamespaceID)

	require.Eventually(t, func() bool { return env.acceptor.SessionCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	// frames are accepted and discarded by the default handler
	require.NoError(t, session.Send([]byte("frame")))

	require.NoError(t, session.Close())
	_, err = session.Recv()
	assert.ErrorIs(t, err, io.EOF)

	require.Eventually(t, func() bool { return env.acceptor.SessionCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestAttachUnknownNamespaceLeavesOthersRunning(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "alpha")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	good, err := Attach(ctx, env.conn, "alpha")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return env.acceptor.SessionCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err = Attach(ctx, env.conn, "ghost")
	assert.Equal(t, codes.NotFound, status.Code(err))

	assert.Equal(t, 1, env.acceptor.SessionCount())
	require.NoError(t, good.Send([]byte("still here")))
}

func TestAttachInvalidHandshake(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Attach(ctx, env.conn, "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = Attach(ctx, env.conn, "../etc")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestHandshakeTimeout(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.HandshakeTimeout = 50 * time.Millisecond })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := env.conn.NewStream(ctx, &ServiceDesc.Streams[0], AttachMethod)
	require.NoError(t, err)

	err = stream.RecvMsg(&wrapperspb.BytesValue{})
	assert.Equal(t, codes.DeadlineExceeded, status.Code(err))
}

func TestDeleteEndsSessions(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "alpha")
	env.create(t, "beta")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	doomed, err := Attach(ctx, env.conn, "alpha")
	require.NoError(t, err)
	survivor, err := Attach(ctx, env.conn, "beta")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return env.acceptor.SessionCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	_, err = env.reg.Delete(ctx, "alpha")
	require.NoError(t, err)

	_, err = doomed.Recv()
	assert.Equal(t, codes.Aborted, status.Code(err))

	require.Eventually(t, func() bool { return env.acceptor.SessionCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, survivor.Send([]byte("ok")))

	_, err = Attach(ctx, env.conn, "alpha")
	assert.Equal(t, codes.NotFound, status.Code(err))
}

// deletingLookup deletes the namespace right after resolving it, so the
// deletion events are handled before the session reaches its worker
type deletingLookup struct {
	reg  *registry.Registry
	once sync.Once
}

func (l *deletingLookup) Get(name string) (*types.Namespace, error) {
	ns, err := l.reg.Get(name)
	l.once.Do(func() {
		_, _ = l.reg.Delete(context.Background(), name)
		time.Sleep(100 * time.Millisecond)
	})
	return ns, err
}

func TestDeleteDuringHandshakeRefusesSession(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Registry = &deletingLookup{reg: c.Registry.(*registry.Registry)}
	})
	env.create(t, "alpha")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Attach(ctx, env.conn, "alpha")
	assert.Equal(t, codes.Aborted, status.Code(err))

	_, err = env.reg.Get("alpha")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, env.acceptor.SessionCount())
	assert.Equal(t, -1, env.queueLen("alpha"))
}

func TestSweepEndsSessionsWithoutEvents(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Events = nil
		c.SweepInterval = 20 * time.Millisecond
	})
	env.create(t, "alpha")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := Attach(ctx, env.conn, "alpha")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return env.acceptor.SessionCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err = env.reg.Delete(ctx, "alpha")
	require.NoError(t, err)

	_, err = session.Recv()
	assert.Equal(t, codes.Aborted, status.Code(err))
	require.Eventually(t, func() bool { return env.acceptor.SessionCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestRecreatedNamespaceGetsFreshWorker(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Events = nil })
	env.create(t, "alpha")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	old, err := Attach(ctx, env.conn, "alpha")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return env.acceptor.SessionCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err = env.reg.Delete(ctx, "alpha")
	require.NoError(t, err)
	ns := env.create(t, "alpha")

	fresh, err := Attach(ctx, env.conn, "alpha")
	require.NoError(t, err)
	assert.Equal(t, ns.ID, fresh.NamespaceID)

	_, err = old.Recv()
	assert.Equal(t, codes.Aborted, status.Code(err))
	require.NoError(t, fresh.Send([]byte("frame")))
}

func TestHandOffQueueFull(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.MaxSessions = 1
		c.MaxPendingPerNamespace = 1
	})
	env.create(t, "alpha")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// occupies the only pool slot
	_, err := Attach(ctx, env.conn, "alpha")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return env.acceptor.SessionCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	// taken off the queue by the worker, which then blocks on the pool
	_, err = Attach(ctx, env.conn, "alpha")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return env.queueLen("alpha") == 0 }, 2*time.Second, 5*time.Millisecond)

	// fills the queue
	_, err = Attach(ctx, env.conn, "alpha")
	require.NoError(t, err)
	require.Equal(t, 1, env.queueLen("alpha"))

	_, err = Attach(ctx, env.conn, "alpha")
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	// other namespaces have their own queue
	env.create(t, "beta")
	_, err = Attach(ctx, env.conn, "beta")
	assert.NoError(t, err)
}

func TestCustomHandler(t *testing.T) {
	echo := SessionHandlerFunc(func(ctx context.Context, s *Session) error {
		for {
			frame, err := s.Recv()
			if err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}
			if err := s.Send(append([]byte(s.Namespace.Name+":"), frame...)); err != nil {
				return err
			}
		}
	})
	env := newTestEnv(t, func(c *Config) { c.Handler = echo })
	env.create(t, "alpha")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := Attach(ctx, env.conn, "alpha")
	require.NoError(t, err)

	require.NoError(t, session.Send([]byte("ping")))
	reply, err := session.Recv()
	require.NoError(t, err)
	assert.Equal(t, "alpha:ping", string(reply))

	require.NoError(t, session.Close())
	_, err = session.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestHandlerErrorBecomesInternal(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Handler = SessionHandlerFunc(func(ctx context.Context, s *Session) error {
			return io.ErrUnexpectedEOF
		})
	})
	env.create(t, "alpha")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := Attach(ctx, env.conn, "alpha")
	require.NoError(t, err)

	_, err = session.Recv()
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestStopEndsSessions(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "alpha")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := Attach(ctx, env.conn, "alpha")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return env.acceptor.SessionCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	env.acceptor.Stop()

	_, err = session.Recv()
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestHealthService(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(env.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestMutualTLS(t *testing.T) {
	ca := security.NewCertAuthority()
	require.NoError(t, ca.Initialize())

	serverCert, err := ca.IssueServerCertificate("test", []string{"localhost"}, nil)
	require.NoError(t, err)
	clientCert, err := ca.IssueClientCertificate("replica")
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(mustParse(t, ca.GetRootCACert()))

	env := newTestEnv(t, func(c *Config) {
		c.TLS = &tls.Config{
			Certificates: []tls.Certificate{*serverCert},
			ClientCAs:    pool,
			ClientAuth:   tls.RequireAndVerifyClientCert,
		}
	})
	env.create(t, "alpha")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, credentials.NewTLS(&tls.Config{
		ServerName:   "localhost",
		RootCAs:      pool,
		Certificates: []tls.Certificate{*clientCert},
	}))
	defer conn.Close()

	session, err := Attach(ctx, conn, "alpha")
	require.NoError(t, err)
	assert.NotEmpty(t, session.NamespaceID)

	// a replica without a client certificate is refused
	anon := env.dial(t, credentials.NewTLS(&tls.Config{ServerName: "localhost", RootCAs: pool}))
	defer anon.Close()
	_, err = Attach(ctx, anon, "alpha")
	assert.Error(t, err)
}

func mustParse(t *testing.T, der []byte) *x509.Certificate {
	t.Helper()
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}
