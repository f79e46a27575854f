// Package worker consumes notification jobs: it fans events out to participant channels
// and archives signed contracts.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rosterleague/backend/internal/models"
	"github.com/rosterleague/backend/pkg/queue"
	"github.com/rosterleague/backend/pkg/storage"
)

// Publisher pushes an event onto a participant's pub/sub channel.
type Publisher interface {
	PublishParticipantEvent(ctx context.Context, participantID uuid.UUID, event string, payload []byte) error
}

// Archive stores contract documents. Nil disables archiving.
type Archive interface {
	Exists(ctx context.Context, key string) (bool, error)
	PutJSON(ctx context.Context, key string, doc []byte) error
}

// JobQueue is the part of queue.Queue the processor drives.
type JobQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job, cause error) error
}

// NotificationProcessor processes notification jobs.
type NotificationProcessor struct {
	queue     JobQueue
	publisher Publisher
	archive   Archive
	logger    *zap.Logger
	backoff   time.Duration
}

// NewNotificationProcessor creates a notification processor. archive may be nil.
func NewNotificationProcessor(q JobQueue, pub Publisher, archive Archive, logger *zap.Logger) *NotificationProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationProcessor{queue: q, publisher: pub, archive: archive, logger: logger, backoff: queue.RetryBackoff}
}

// Process executes one notification job. It is safe to run twice for the same job.
func (p *NotificationProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeNotification {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var ev models.Event
	if err := json.Unmarshal(job.Payload, &ev); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if ev.ParticipantID == uuid.Nil {
		return errors.New("notification without participant")
	}

	if ev.Contract != nil && p.archive != nil && archived(ev.Kind) {
		if err := p.archiveContract(ctx, ev.Contract); err != nil {
			return err
		}
	}
	if err := p.publisher.PublishParticipantEvent(ctx, ev.ParticipantID, string(ev.Kind), job.Payload); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	p.logger.Info("notification delivered",
		zap.String("job_id", job.ID),
		zap.String("kind", string(ev.Kind)),
		zap.String("participant_id", ev.ParticipantID.String()))
	return nil
}

func archived(kind models.EventKind) bool {
	return kind == models.EventContractSigned || kind == models.EventEntryContractIssued
}

func (p *NotificationProcessor) archiveContract(ctx context.Context, c *models.Contract) error {
	key := storage.ContractKey(c.ParticipantID.String(), c.ID.String())
	exists, err := p.archive.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("archive lookup: %w", err)
	}
	if exists {
		return nil
	}
	doc, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal contract: %w", err)
	}
	if err := p.archive.PutJSON(ctx, key, doc); err != nil {
		return fmt.Errorf("archive contract: %w", err)
	}
	p.logger.Info("contract archived", zap.String("contract_id", c.ID.String()), zap.String("key", key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error. It returns nil when ctx is done.
func (p *NotificationProcessor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			p.logger.Info("notification worker stopping")
			return nil
		}

		job, err := p.queue.Dequeue(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job, err); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *NotificationProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
