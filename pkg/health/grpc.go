package health

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCChecker queries the standard gRPC health service
type GRPCChecker struct {
	Conn grpc.ClientConnInterface

	// Service is the service name to ask about; empty means the whole server
	Service string
}

// NewGRPCChecker creates a checker for service on conn
func NewGRPCChecker(conn grpc.ClientConnInterface, service string) *GRPCChecker {
	return &GRPCChecker{Conn: conn, Service: service}
}

// Check performs the gRPC health check
func (g *GRPCChecker) Check(ctx context.Context) Result {
	start := time.Now()

	resp, err := healthpb.NewHealthClient(g.Conn).Check(ctx, &healthpb.HealthCheckRequest{Service: g.Service})
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("health check failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   resp.GetStatus() == healthpb.HealthCheckResponse_SERVING,
		Message:   resp.GetStatus().String(),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (g *GRPCChecker) Type() CheckType {
	return CheckTypeGRPC
}
