// Package metrics implements the prometheus registry backing the
// `/metrics` endpoint (spec.md §6 extension) and
// ServiceMetricsSnapshot, the point-in-time counter/gauge bundle
// SPEC_FULL.md §3 names as a supplemental entity.
//
// Grounded on paxos/proposermanager.go's ProposerMetrics: a small
// struct of prometheus.Gauge/Observer fields, incremented and
// decremented at specific lifecycle points (proposer created/retired)
// rather than scraped on demand — generalized here from "proposers in
// flight" to the mesh/admin/scabbard counters SPEC_FULL.md names.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every gauge/counter/histogram this node exposes.
type Registry struct {
	Connections       prometheus.Gauge
	ProposalsInFlight prometheus.Gauge
	ProposalLifespan  prometheus.Histogram
	EpochsAdvanced    prometheus.Counter
	QueueDepth        *prometheus.GaugeVec
}

// NewRegistry builds a Registry and registers every metric against
// reg (callers typically pass prometheus.DefaultRegisterer or a
// scoped prometheus.NewRegistry() in tests).
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "splinterd", Name: "mesh_connections", Help: "Live mesh peer connections.",
		}),
		ProposalsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "splinterd", Name: "admin_proposals_in_flight", Help: "Circuit proposals currently in Proposed or Voting state.",
		}),
		ProposalLifespan: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "splinterd", Name: "admin_proposal_lifespan_seconds", Help: "Time from ProposalSubmitted to a terminal proposal state.",
			Buckets: prometheus.DefBuckets,
		}),
		EpochsAdvanced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "splinterd", Name: "scabbard_epochs_advanced_total", Help: "Consensus epochs that reached Idle after a decided round.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "splinterd", Name: "dispatch_queue_depth", Help: "In-flight work queued per dispatch executor.",
		}, []string{"executor"}),
	}
	reg.MustRegister(m.Connections, m.ProposalsInFlight, m.ProposalLifespan, m.EpochsAdvanced, m.QueueDepth)
	return m
}

// ObserveProposalLifespan records the age of a proposal that just
// reached a terminal state.
func (m *Registry) ObserveProposalLifespan(d time.Duration) {
	m.ProposalLifespan.Observe(d.Seconds())
}

// SetQueueDepth records executor's current queue depth.
func (m *Registry) SetQueueDepth(executor string, depth int) {
	m.QueueDepth.WithLabelValues(executor).Set(float64(depth))
}

// ServiceMetricsSnapshot is a point-in-time counter/gauge bundle for
// one scabbard service (SPEC_FULL.md §3 supplemental entity);
// purely observational, never read back into protocol state.
type ServiceMetricsSnapshot struct {
	Circuit       string
	Service       string
	State         string
	Epoch         uint64
	EventsPending int
	AlarmDue      bool
	CapturedAt    time.Time
}
