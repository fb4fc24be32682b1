package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the batch jobs.
type Metrics struct {
	Registry          *prometheus.Registry
	RecordsTotal      *prometheus.CounterVec
	FieldsPushedTotal prometheus.Counter
	PushFailuresTotal prometheus.Counter
	RPCRequestsTotal  *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	records := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_records_processed_total",
			Help: "Sync records processed, by reconcile outcome.",
		},
		[]string{"outcome"},
	)
	fieldsPushed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_fields_pushed_total",
			Help: "Field values successfully pushed to the marketplace.",
		},
	)
	pushFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_field_push_failures_total",
			Help: "Field pushes rejected or failed in transit.",
		},
	)
	rpcRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_rpc_requests_total",
			Help: "JSON-RPC requests issued, by method.",
		},
		[]string{"method"},
	)

	registry.MustRegister(records, fieldsPushed, pushFailures, rpcRequests)

	return &Metrics{
		Registry:          registry,
		RecordsTotal:      records,
		FieldsPushedTotal: fieldsPushed,
		PushFailuresTotal: pushFailures,
		RPCRequestsTotal:  rpcRequests,
	}
}

// IncRecord increments the processed-records counter for an outcome.
func (m *Metrics) IncRecord(outcome string) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(outcome).Inc()
}

// IncFieldsPushed adds to the pushed-fields counter.
func (m *Metrics) IncFieldsPushed(n int) {
	if m == nil {
		return
	}
	m.FieldsPushedTotal.Add(float64(n))
}

// IncPushFailure increments the failed-push counter.
func (m *Metrics) IncPushFailure() {
	if m == nil {
		return
	}
	m.PushFailuresTotal.Inc()
}

// IncRPC increments the RPC request counter for a method.
func (m *Metrics) IncRPC(method string) {
	if m == nil {
		return
	}
	m.RPCRequestsTotal.WithLabelValues(method).Inc()
}
