package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records sweep activity. A nil *Metrics is a no-op.
type Metrics struct {
	items    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	timers   prometheus.Gauge
}

// NewMetrics registers the scheduler metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rosterleague",
			Subsystem: "scheduler",
			Name:      "sweep_items_total",
			Help:      "Records visited by sweeps, by outcome.",
		}, []string{"sweep", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rosterleague",
			Subsystem: "scheduler",
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of one sweep.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sweep"}),
		timers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rosterleague",
			Subsystem: "scheduler",
			Name:      "armed_timers",
			Help:      "Deadline timers currently armed in this process.",
		}),
	}
	reg.MustRegister(m.items, m.duration, m.timers)
	return m
}

func (m *Metrics) item(sweep, outcome string) {
	if m == nil {
		return
	}
	m.items.WithLabelValues(sweep, outcome).Inc()
}

func (m *Metrics) observe(sweep string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(sweep).Observe(d.Seconds())
}

func (m *Metrics) armed(n int) {
	if m == nil {
		return
	}
	m.timers.Set(float64(n))
}
