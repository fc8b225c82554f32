package metrics

import (
	"net/http"

	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	NamespacesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_namespaces_total",
			Help: "Total number of namespaces by lifecycle state",
		},
		[]string{"state"},
	)

	NamespaceOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_namespace_operations_total",
			Help: "Total number of namespace create/delete operations by result",
		},
		[]string{"op", "result"},
	)

	NamespaceOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_namespace_operation_duration_seconds",
			Help:    "Namespace operation duration in seconds, including time queued behind the name lock",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Metadata store metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_raft_is_leader",
			Help: "Whether this node is the metadata Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_raft_applied_index",
			Help: "Last applied metadata Raft log index",
		},
	)

	// Admin API metrics
	AdminRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_admin_requests_total",
			Help: "Total number of admin API requests by route and status",
		},
		[]string{"route", "status"},
	)

	AdminRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_admin_request_duration_seconds",
			Help:    "Admin API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Replication metrics
	ReplicationSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_replication_sessions_active",
			Help: "Number of replication sessions currently attached",
		},
	)

	ReplicationHandshakesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_replication_handshakes_total",
			Help: "Total number of replication handshakes by result",
		},
		[]string{"result"},
	)

	// GRPCMetrics instruments the replication endpoint
	GRPCMetrics = grpcprometheus.NewServerMetrics(
		func(c *prometheus.CounterOpts) {
			c.Namespace = "burrow"
		},
	)
)

func init() {
	GRPCMetrics.EnableHandlingTimeHistogram(
		func(h *prometheus.HistogramOpts) {
			h.Namespace = "burrow"
		},
	)

	prometheus.MustRegister(NamespacesTotal)
	prometheus.MustRegister(NamespaceOperationsTotal)
	prometheus.MustRegister(NamespaceOperationDuration)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(AdminRequestsTotal)
	prometheus.MustRegister(AdminRequestDuration)
	prometheus.MustRegister(ReplicationSessionsActive)
	prometheus.MustRegister(ReplicationHandshakesTotal)
	prometheus.MustRegister(GRPCMetrics)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
