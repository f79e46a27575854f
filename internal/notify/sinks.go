package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rosterleague/backend/internal/models"
	"github.com/rosterleague/backend/pkg/queue"
)

// Enqueuer is the part of queue.Queue the queue sink needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType queue.JobType, payload interface{}) (*queue.Job, error)
}

// QueueSink hands events to the worker through the notification job queue.
type QueueSink struct {
	q Enqueuer
}

// NewQueueSink creates a sink on q.
func NewQueueSink(q Enqueuer) *QueueSink {
	return &QueueSink{q: q}
}

// Deliver enqueues ev as a notification job.
func (s *QueueSink) Deliver(ctx context.Context, ev models.Event) error {
	if _, err := s.q.Enqueue(ctx, queue.JobTypeNotification, ev); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// LogSink writes events to the log. Used when no Redis is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Deliver logs ev.
func (s *LogSink) Deliver(_ context.Context, ev models.Event) error {
	fields := []zap.Field{
		zap.String("kind", string(ev.Kind)),
		zap.String("participant_id", ev.ParticipantID.String()),
	}
	if ev.Contract != nil {
		fields = append(fields, zap.String("organization", ev.Contract.Organization))
	}
	if ev.OfferSet != nil {
		fields = append(fields, zap.String("offer_set_id", ev.OfferSet.ID.String()), zap.Int("offers", len(ev.OfferSet.Offers)))
	}
	if ev.Reason != "" {
		fields = append(fields, zap.String("reason", ev.Reason))
	}
	s.logger.Info("participant notification", fields...)
	return nil
}
