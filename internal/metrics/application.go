package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ApplicationMetrics tracks domain-specific metrics for the collaborative
// editing engine: operation submission, CRDT integration, checkpointing,
// and session lifecycle.
type ApplicationMetrics struct {
	// Operation submission
	OpsSubmittedTotal prometheus.CounterVec
	OpsRejectedTotal  prometheus.CounterVec
	OpsAppliedTotal   prometheus.CounterVec

	// CRDT integration
	RemoteOpsBufferedTotal prometheus.CounterVec
	RemoteOpsIntegratedTotal prometheus.CounterVec

	// Checkpointing
	CheckpointsCreatedTotal prometheus.CounterVec
	RollbacksTotal          prometheus.CounterVec
	RollbackFailuresTotal   prometheus.CounterVec

	// Resync
	ResyncRequestsTotal prometheus.CounterVec

	// Session lifecycle
	SessionsJoinedTotal prometheus.CounterVec
	SessionsLeftTotal   prometheus.CounterVec
	PermissionDeniedTotal prometheus.CounterVec

	mu     sync.Mutex
	counts map[string]*int64
}

// InitializeApplicationMetrics creates and registers all application metrics.
func InitializeApplicationMetrics() *ApplicationMetrics {
	return &ApplicationMetrics{
		OpsSubmittedTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ops_submitted_total",
				Help: "Total operations submitted by clients",
			},
			[]string{"document_id", "kind"},
		),
		OpsRejectedTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ops_rejected_total",
				Help: "Total operations rejected at submit time",
			},
			[]string{"document_id", "reason"},
		),
		OpsAppliedTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ops_applied_total",
				Help: "Total operations committed to document state",
			},
			[]string{"document_id", "kind"},
		),

		RemoteOpsBufferedTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remote_ops_buffered_total",
				Help: "Remote ops held back by the causality gate pending dependencies",
			},
			[]string{"document_id"},
		),
		RemoteOpsIntegratedTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remote_ops_integrated_total",
				Help: "Remote ops integrated into the CRDT node set",
			},
			[]string{"document_id"},
		),

		CheckpointsCreatedTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkpoints_created_total",
				Help: "Total checkpoints persisted",
			},
			[]string{"document_id"},
		),
		RollbacksTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rollbacks_total",
				Help: "Total successful rollbacks to a prior version",
			},
			[]string{"document_id"},
		),
		RollbackFailuresTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rollback_failures_total",
				Help: "Rollback attempts that failed (unreachable version)",
			},
			[]string{"document_id"},
		),

		ResyncRequestsTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resync_requests_total",
				Help: "ResyncRequests issued after a sequence gap exceeded its timeout",
			},
			[]string{"document_id"},
		),

		SessionsJoinedTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessions_joined_total",
				Help: "Total session joins",
			},
			[]string{"document_id", "role"},
		),
		SessionsLeftTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessions_left_total",
				Help: "Total session departures",
			},
			[]string{"document_id", "reason"},
		),
		PermissionDeniedTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permission_denied_total",
				Help: "Operations or joins rejected for insufficient role",
			},
			[]string{"document_id", "action"},
		),

		counts: make(map[string]*int64),
	}
}

// incr is a lightweight in-process counter used by GetStats; Prometheus
// remains the source of truth for scraping, this just backs the debug
// endpoint without reading back from the registry.
func (m *ApplicationMetrics) incr(key string) {
	m.mu.Lock()
	p, ok := m.counts[key]
	if !ok {
		var zero int64
		p = &zero
		m.counts[key] = p
	}
	m.mu.Unlock()
	atomic.AddInt64(p, 1)
}

// NoteOpSubmitted records a submitted op in both Prometheus and the local
// debug snapshot.
func (m *ApplicationMetrics) NoteOpSubmitted(documentID, kind string) {
	m.OpsSubmittedTotal.WithLabelValues(documentID, kind).Inc()
	m.incr("ops_submitted")
}

// GetStats returns a lightweight snapshot for the debug/status endpoint.
func (m *ApplicationMetrics) GetStats() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]interface{}, len(m.counts))
	for k, v := range m.counts {
		out[k] = atomic.LoadInt64(v)
	}
	return out
}
