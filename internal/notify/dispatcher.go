// Package notify delivers participant events without blocking the transition that produced them.
package notify

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rosterleague/backend/internal/models"
)

const (
	DefaultBuffer  = 1024
	deliverTimeout = 5 * time.Second
	drainTimeout   = 5 * time.Second
)

// Sink is the next hop for an event (queue, log, ...).
type Sink interface {
	Deliver(ctx context.Context, ev models.Event) error
}

// Dispatcher buffers events in memory and hands them to a sink from one goroutine.
// Notify never blocks: when the buffer is full the event is dropped and logged.
type Dispatcher struct {
	events  chan models.Event
	sink    Sink
	logger  *zap.Logger
	metrics *Metrics
}

// NewDispatcher creates a dispatcher with the given buffer size.
func NewDispatcher(sink Sink, buffer int, metrics *Metrics, logger *zap.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		events:  make(chan models.Event, buffer),
		sink:    sink,
		logger:  logger,
		metrics: metrics,
	}
}

// Notify queues ev for delivery.
func (d *Dispatcher) Notify(_ context.Context, ev models.Event) {
	select {
	case d.events <- ev:
	default:
		d.metrics.outcome(ev.Kind, "dropped")
		d.logger.Warn("notification dropped, buffer full",
			zap.String("kind", string(ev.Kind)),
			zap.String("participant_id", ev.ParticipantID.String()))
	}
}

// Run delivers events until ctx is done, then drains what is already buffered.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return nil
		case ev := <-d.events:
			d.deliver(context.Background(), ev)
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case ev := <-d.events:
			if ctx.Err() != nil {
				d.metrics.outcome(ev.Kind, "dropped")
				continue
			}
			d.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(parent context.Context, ev models.Event) {
	ctx, cancel := context.WithTimeout(parent, deliverTimeout)
	defer cancel()
	if err := d.sink.Deliver(ctx, ev); err != nil {
		d.metrics.outcome(ev.Kind, "failed")
		d.logger.Warn("notification delivery failed",
			zap.String("kind", string(ev.Kind)),
			zap.String("participant_id", ev.ParticipantID.String()),
			zap.Error(err))
		return
	}
	d.metrics.outcome(ev.Kind, "delivered")
}

// Metrics counts notification outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	outcomes *prometheus.CounterVec
}

// NewMetrics registers the notification metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rosterleague",
			Subsystem: "notify",
			Name:      "events_total",
			Help:      "Participant notifications by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
	reg.MustRegister(m.outcomes)
	return m
}

func (m *Metrics) outcome(kind models.EventKind, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(kind), outcome).Inc()
}
