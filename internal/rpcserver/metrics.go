package rpcserver

import "github.com/prometheus/client_golang/prometheus"

// metrics are the gRPC boundary's Prometheus collectors. The pool keeps
// its own Snapshot() and broadcast receivers their Stats(); the engine has
// no counters of its own. The collectors are registered only when
// Config.MetricsRegistry is set, and this package serves no /metrics
// endpoint itself.
type metrics struct {
	activeStreams  prometheus.Gauge
	clientDocsSent *prometheus.CounterVec
	convertedDocs  prometheus.Counter
	rpcErrors      *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "daqd",
			Subsystem: "rpc",
			Name:      "active_document_streams",
			Help:      "Number of open StreamDocuments client connections.",
		}),
		clientDocsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daqd",
			Subsystem: "rpc",
			Name:      "client_documents_sent_total",
			Help:      "Documents forwarded to a StreamDocuments client, by doc type.",
		}, []string{"doc_type"}),
		convertedDocs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daqd",
			Subsystem: "rpc",
			Name:      "converted_documents_total",
			Help:      "Documents converted from engine to wire form.",
		}),
		rpcErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daqd",
			Subsystem: "rpc",
			Name:      "errors_total",
			Help:      "RPC handler errors, by method and error kind.",
		}, []string{"method", "kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.activeStreams, m.clientDocsSent, m.convertedDocs, m.rpcErrors)
	}
	return m
}
