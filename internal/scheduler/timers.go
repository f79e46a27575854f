package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rosterleague/backend/internal/models"
)

// DeadlineFunc resolves one offer set whose deadline has passed.
type DeadlineFunc func(ctx context.Context, offerSetID uuid.UUID) (bool, error)

// Timers holds one in-process deadline timer per pending offer set (thread-safe).
// Timers are lost on restart; the deadline sweep covers whatever they miss.
type Timers struct {
	mu      sync.Mutex
	timers  map[uuid.UUID]*time.Timer
	fire    DeadlineFunc
	now     func() time.Time
	grace   time.Duration
	metrics *Metrics
	logger  *zap.Logger
	closed  bool
}

// NewTimers creates a timer registry that calls fire once a set's deadline passes.
func NewTimers(fire DeadlineFunc, now func() time.Time, metrics *Metrics, logger *zap.Logger) *Timers {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Timers{
		timers:  make(map[uuid.UUID]*time.Timer),
		fire:    fire,
		now:     now,
		grace:   time.Second,
		metrics: metrics,
		logger:  logger,
	}
}

// Arm schedules the deadline for set, replacing any timer already armed for it.
func (t *Timers) Arm(set models.OfferSet) {
	delay := set.Deadline.Sub(t.now()) + t.grace
	if delay < 0 {
		delay = 0
	}
	id := set.ID

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if prev := t.timers[id]; prev != nil {
		prev.Stop()
	}
	t.timers[id] = time.AfterFunc(delay, func() { t.expire(id) })
	t.metrics.armed(len(t.timers))
}

// Disarm drops the timer for an offer set that resolved early.
func (t *Timers) Disarm(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer := t.timers[id]; timer != nil {
		timer.Stop()
		delete(t.timers, id)
		t.metrics.armed(len(t.timers))
	}
}

// Len returns the number of armed timers.
func (t *Timers) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

// Stop cancels every timer. Arm is a no-op afterwards.
func (t *Timers) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	t.closed = true
	t.metrics.armed(0)
}

func (t *Timers) expire(id uuid.UUID) {
	t.mu.Lock()
	delete(t.timers, id)
	t.metrics.armed(len(t.timers))
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done, err := t.fire(ctx, id)
	if err != nil {
		t.logger.Warn("deadline timer failed", zap.String("offer_set_id", id.String()), zap.Error(err))
		return
	}
	t.logger.Debug("deadline timer fired", zap.String("offer_set_id", id.String()), zap.Bool("resolved", done))
}
