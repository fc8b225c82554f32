/*
Package metrics provides Prometheus metrics and health reporting for Burrow.

All metrics are registered on the default Prometheus registry at package
init and exposed by the admin API on /metrics:

	burrow_namespaces_total{state}                       gauge
	burrow_namespace_operations_total{op,result}         counter
	burrow_namespace_operation_duration_seconds{op}      histogram
	burrow_raft_is_leader                                gauge
	burrow_raft_applied_index                            gauge
	burrow_admin_requests_total{route,status}            counter
	burrow_admin_request_duration_seconds{route}         histogram
	burrow_replication_sessions_active                   gauge
	burrow_replication_handshakes_total{result}          counter

Counters and histograms are updated at the call site, usually through a
Timer:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.NamespaceOperationDuration, "create")

State-derived gauges are refreshed by a Collector every 15 seconds from a
NamespaceLister and, when the metadata store is replicated, a RaftStatus.

# Health

Server parts report themselves with MarkHealthy and MarkUnhealthy. /health
is unhealthy when any part is. /ready only looks at the critical parts (see
SetCriticalComponents) and lists the ones still waiting. HealthHandler,
ReadyHandler and LivenessHandler serve these as JSON with 200 or 503.
*/
package metrics
