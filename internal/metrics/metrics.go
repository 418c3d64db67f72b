// Package metrics counts engine activity in Prometheus form.
//
// galed is a CLI, so nothing is scraped: each command feeds the events it
// committed through Observe, sets the store gauges, and writes the registry
// to a node_exporter textfile with WriteTextfile.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/galed/internal/engine"
	"github.com/roach88/galed/internal/ir"
)

const namespace = "galed"

// Metrics holds galed's collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	events       *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	conflicts    *prometheus.CounterVec
	directWrites prometheus.Counter
	impactFlags  prometheus.Counter

	requirements prometheus.Gauge
	open         prometheus.Gauge
	conflicting  prometheus.Gauge
	needsReview  prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Committed engine events by kind",
		}, []string{"kind"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposal_transitions_total",
			Help:      "Proposal lifecycle transitions by resulting state",
		}, []string{"transition"}),
		conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Conflicts detected on newly opened proposals by kind",
		}, []string{"kind"}),
		directWrites: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "direct_writes_total",
			Help:      "Field values written directly, bypassing the proposal workflow",
		}),
		impactFlags: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "impact_flags_total",
			Help:      "Requirements flagged needs_review by impact propagation",
		}),
		requirements: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requirements",
			Help:      "Requirements in the store",
		}),
		open: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_proposals",
			Help:      "Proposals awaiting a decision",
		}),
		conflicting: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conflicting_proposals",
			Help:      "Proposals blocked by a detected conflict",
		}),
		needsReview: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "needs_review_requirements",
			Help:      "Requirements awaiting re-review after an upstream change",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

var transitionOf = map[ir.EventKind]string{
	ir.EventProposalOpened:      "opened",
	ir.EventProposalAccepted:    "accepted",
	ir.EventProposalRejected:    "rejected",
	ir.EventProposalSuperseded:  "superseded",
	ir.EventProposalConflicting: "conflicting",
	ir.EventProposalReopened:    "reopened",
}

// Observe counts a batch of committed events.
func (m *Metrics) Observe(events []ir.Event) {
	for _, ev := range events {
		m.events.WithLabelValues(string(ev.Kind)).Inc()
		if tr, ok := transitionOf[ev.Kind]; ok {
			m.transitions.WithLabelValues(tr).Inc()
		}

		switch ev.Kind {
		case ir.EventProposalOpened:
			for _, kind := range conflictKinds(ev.Data["conflicts"]) {
				m.conflicts.WithLabelValues(kind).Inc()
			}
		case ir.EventFieldWritten:
			if ev.Proposal == 0 {
				m.directWrites.Inc()
			}
		case ir.EventReviewFlagged:
			m.impactFlags.Inc()
		}
	}
}

// conflictKinds reads the conflict list from an opened event. Events read
// back from the journal carry []any instead of []string.
func conflictKinds(v any) []string {
	switch kinds := v.(type) {
	case []string:
		return kinds
	case []any:
		out := make([]string, 0, len(kinds))
		for _, k := range kinds {
			out = append(out, fmt.Sprint(k))
		}
		return out
	default:
		return nil
	}
}

// SetStore sets the store gauges.
func (m *Metrics) SetStore(s engine.Status, requirements int) {
	m.requirements.Set(float64(requirements))
	m.open.Set(float64(len(s.Open)))
	m.conflicting.Set(float64(len(s.Conflicting)))
	m.needsReview.Set(float64(len(s.NeedsReview)))
}

// WriteTextfile writes every metric in the text exposition format,
// atomically replacing path.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
