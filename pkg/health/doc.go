/*
Package health probes a running burrow server from the outside.

HTTPChecker polls an HTTP endpoint (normally the admin API's /ready) and
GRPCChecker asks the replication endpoint's grpc.health.v1 service. Wait
polls a checker until it reports healthy, which lets scripts block until a
freshly started server is serving:

	checker := health.NewHTTPChecker("http://127.0.0.1:9090/ready")
	if _, err := health.Wait(ctx, checker, health.DefaultConfig()); err != nil {
		// not ready in time
	}

This package is the client side; the server side health state lives in
pkg/metrics.
*/
package health
