// Package scheduler drives contracts forward in time. Two periodic sweeps read persisted
// expiry and deadline timestamps; per-set timers only shorten the wait.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rosterleague/backend/internal/models"
)

const (
	DefaultContractInterval = time.Hour
	DefaultDeadlineInterval = time.Minute
	DefaultBatchSize        = 200

	// maxRounds bounds how many full batches one sweep drains before yielding to the next tick.
	maxRounds = 10
)

// Engine applies the time-driven transitions. Both methods report whether they changed anything.
type Engine interface {
	OnDeadline(ctx context.Context, offerSetID uuid.UUID) (bool, error)
	OnContractExpiry(ctx context.Context, participantID uuid.UUID) (bool, error)
}

// Source lists the records that are due.
type Source interface {
	ScanExpiredContracts(ctx context.Context, now time.Time, limit int) ([]models.Contract, error)
	ScanExpiredOfferSets(ctx context.Context, now time.Time, limit int) ([]models.OfferSet, error)
}

// Config holds sweep cadence. Zero values use the defaults.
type Config struct {
	ContractInterval time.Duration
	DeadlineInterval time.Duration
	BatchSize        int
	Now              func() time.Time
}

// Result counts what one sweep did.
type Result struct {
	Scanned  int `json:"scanned"`
	Resolved int `json:"resolved"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Report is the outcome of running both sweeps once.
type Report struct {
	Contracts Result `json:"contracts"`
	Deadlines Result `json:"deadlines"`
}

// Scheduler runs the contract expiry sweep and the offer deadline sweep.
// Several schedulers may run against one store; every transition is a conditional write.
type Scheduler struct {
	engine  Engine
	source  Source
	cfg     Config
	metrics *Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
	kick    chan struct{}
}

// New creates a scheduler.
func New(engine Engine, source Source, cfg Config, metrics *Metrics, logger *zap.Logger) *Scheduler {
	if cfg.ContractInterval <= 0 {
		cfg.ContractInterval = DefaultContractInterval
	}
	if cfg.DeadlineInterval <= 0 {
		cfg.DeadlineInterval = DefaultDeadlineInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		engine:  engine,
		source:  source,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		kick:    make(chan struct{}, 1),
	}
}

// Run sweeps once immediately, then on every tick until ctx is done. It returns nil on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	contractTicker := time.NewTicker(s.cfg.ContractInterval)
	defer contractTicker.Stop()
	deadlineTicker := time.NewTicker(s.cfg.DeadlineInterval)
	defer deadlineTicker.Stop()

	s.logger.Info("scheduler started",
		zap.Duration("contract_interval", s.cfg.ContractInterval),
		zap.Duration("deadline_interval", s.cfg.DeadlineInterval))
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("initial sweep failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-contractTicker.C:
			res, err := s.SweepContracts(ctx)
			s.logSweep("contracts", res, err)
		case <-deadlineTicker.C:
			res, err := s.SweepDeadlines(ctx)
			s.logSweep("deadlines", res, err)
		case <-s.kick:
			res, err := s.SweepDeadlines(ctx)
			s.logSweep("deadlines", res, err)
		}
	}
}

// Kick asks a running scheduler for an early deadline sweep.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// RunOnce runs the deadline sweep and then the contract sweep.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	var rep Report
	var errs []error
	var err error
	if rep.Deadlines, err = s.SweepDeadlines(ctx); err != nil {
		errs = append(errs, err)
	}
	if rep.Contracts, err = s.SweepContracts(ctx); err != nil {
		errs = append(errs, err)
	}
	return rep, errors.Join(errs...)
}

// SweepDeadlines expires every pending offer set whose deadline has passed.
func (s *Scheduler) SweepDeadlines(ctx context.Context) (Result, error) {
	return s.sweep(ctx, "deadlines", func(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
		sets, err := s.source.ScanExpiredOfferSets(ctx, now, s.cfg.BatchSize)
		if err != nil {
			return nil, err
		}
		ids := make([]uuid.UUID, len(sets))
		for i, set := range sets {
			ids[i] = set.ID
		}
		return ids, nil
	}, s.engine.OnDeadline)
}

// SweepContracts opens negotiations for every active contract past expiry.
func (s *Scheduler) SweepContracts(ctx context.Context) (Result, error) {
	return s.sweep(ctx, "contracts", func(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
		contracts, err := s.source.ScanExpiredContracts(ctx, now, s.cfg.BatchSize)
		if err != nil {
			return nil, err
		}
		ids := make([]uuid.UUID, len(contracts))
		for i, c := range contracts {
			ids[i] = c.ParticipantID
		}
		return ids, nil
	}, s.engine.OnContractExpiry)
}

func (s *Scheduler) sweep(
	ctx context.Context,
	name string,
	scan func(ctx context.Context, now time.Time) ([]uuid.UUID, error),
	apply func(ctx context.Context, id uuid.UUID) (bool, error),
) (Result, error) {
	start := time.Now()
	defer func() { s.metrics.observe(name, time.Since(start)) }()

	var res Result
	for round := 0; round < maxRounds; round++ {
		ids, err := scan(ctx, s.cfg.Now())
		if err != nil {
			s.metrics.item(name, "scan_error")
			return res, err
		}
		res.Scanned += len(ids)
		progressed := false
		for _, id := range ids {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			done, err := apply(ctx, id)
			switch {
			case err != nil:
				// One bad record must not stall the rest of the batch.
				res.Failed++
				s.metrics.item(name, "failed")
				s.logger.Error("sweep item failed", zap.String("sweep", name), zap.String("id", id.String()), zap.Error(err))
			case done:
				res.Resolved++
				progressed = true
				s.metrics.item(name, "resolved")
			default:
				res.Skipped++
				s.metrics.item(name, "skipped")
			}
		}
		if len(ids) < s.cfg.BatchSize || !progressed {
			break
		}
	}
	return res, nil
}

func (s *Scheduler) logSweep(name string, res Result, err error) {
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("sweep failed", zap.String("sweep", name), zap.Error(err))
		}
		return
	}
	if res.Scanned == 0 {
		return
	}
	s.logger.Info("sweep finished",
		zap.String("sweep", name),
		zap.Int("scanned", res.Scanned),
		zap.Int("resolved", res.Resolved),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed))
}
