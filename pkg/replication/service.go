package replication

import (
	"context"
	"crypto/tls"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully qualified gRPC service name
	ServiceName = "burrow.replication.v1.Replication"

	// AttachMethod is the full method name of the attach stream
	AttachMethod = "/" + ServiceName + "/Attach"
)

// AttachServer is implemented by the acceptor
type AttachServer interface {
	Attach(stream grpc.ServerStream) error
}

func attachHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(AttachServer).Attach(stream)
}

// ServiceDesc describes the replication service. Frames on the stream are
// wrapperspb.BytesValue messages; their content past the handshake belongs
// to the replication protocol.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AttachServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Attach",
			Handler:       attachHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "burrow/replication/v1/replication.proto",
}

// ClientSession is the replica side of an attached stream
type ClientSession struct {
	// NamespaceID is the identifier the primary acknowledged
	NamespaceID string

	stream grpc.ClientStream
}

// Attach opens a replication stream for namespace on conn and performs the
// handshake. A namespace that is not active fails with codes.NotFound.
func Attach(ctx context.Context, conn grpc.ClientConnInterface, namespace string) (*ClientSession, error) {
	stream, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], AttachMethod)
	if err != nil {
		return nil, err
	}

	if err := stream.SendMsg(wrapperspb.Bytes([]byte(namespace))); err != nil {
		return nil, fmt.Errorf("failed to send handshake: %w", err)
	}

	ack := &wrapperspb.BytesValue{}
	if err := stream.RecvMsg(ack); err != nil {
		return nil, err
	}

	return &ClientSession{NamespaceID: string(ack.GetValue()), stream: stream}, nil
}

// Send writes one replication frame
func (c *ClientSession) Send(frame []byte) error {
	return c.stream.SendMsg(wrapperspb.Bytes(frame))
}

// Recv reads one replication frame
func (c *ClientSession) Recv() ([]byte, error) {
	msg := &wrapperspb.BytesValue{}
	if err := c.stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg.GetValue(), nil
}

// Close half-closes the stream; the server ends the session when it sees EOF
func (c *ClientSession) Close() error {
	return c.stream.CloseSend()
}

// Dial connects to a replication endpoint. A nil tlsConfig dials in plaintext.
func Dial(addr string, tlsConfig *tls.Config) (*grpc.ClientConn, error) {
	creds := insecure.NewCredentials()
	if tlsConfig != nil {
		creds = credentials.NewTLS(tlsConfig)
	}
	return grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
}
