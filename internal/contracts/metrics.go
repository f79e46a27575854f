package contracts

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts state machine transitions. A nil *Metrics is a no-op.
type Metrics struct {
	transitions *prometheus.CounterVec
	conflicts   *prometheus.CounterVec
}

// NewMetrics registers the contract metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rosterleague",
			Subsystem: "contracts",
			Name:      "transitions_total",
			Help:      "Committed lifecycle transitions by kind.",
		}, []string{"kind"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rosterleague",
			Subsystem: "contracts",
			Name:      "cas_conflicts_total",
			Help:      "Offer set resolutions that lost the conditional write.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.transitions, m.conflicts)
	return m
}

func (m *Metrics) transition(kind string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(kind).Inc()
}

func (m *Metrics) conflict(kind string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(kind).Inc()
}
