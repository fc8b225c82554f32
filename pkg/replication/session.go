package replication

import (
	"context"
	"errors"
	"io"

	"github.com/cuemby/burrow/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Reasons a session context is cancelled by the acceptor
var (
	ErrNamespaceDeleted = errors.New("namespace deleted")
	ErrShuttingDown     = errors.New("replication endpoint shutting down")
)

// Session is one attached replica after a successful handshake
type Session struct {
	ID        string
	Namespace *types.Namespace
	Stream    grpc.ServerStream
}

// Recv reads the next replica frame
func (s *Session) Recv() ([]byte, error) {
	msg := &wrapperspb.BytesValue{}
	if err := s.Stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg.GetValue(), nil
}

// Send writes a frame to the replica
func (s *Session) Send(frame []byte) error {
	return s.Stream.SendMsg(wrapperspb.Bytes(frame))
}

// SessionHandler runs the replication protocol for one session. ctx is
// cancelled when the replica leaves, the namespace is deleted or the
// endpoint shuts down; context.Cause tells which.
type SessionHandler interface {
	Serve(ctx context.Context, s *Session) error
}

// SessionHandlerFunc adapts a function to SessionHandler
type SessionHandlerFunc func(ctx context.Context, s *Session) error

// Serve calls f
func (f SessionHandlerFunc) Serve(ctx context.Context, s *Session) error {
	return f(ctx, s)
}

// HoldHandler keeps the stream open and discards replica frames until the
// session ends. It is the default handler when no replication protocol is
// plugged in.
type HoldHandler struct{}

// Serve implements SessionHandler
func (HoldHandler) Serve(ctx context.Context, s *Session) error {
	recvErr := make(chan error, 1)
	go func() {
		for {
			if _, err := s.Recv(); err != nil {
				recvErr <- err
				return
			}
		}
	}()

	select {
	case err := <-recvErr:
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
