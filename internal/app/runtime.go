// Package app assembles the long-lived dependencies shared by the server and worker processes.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/rosterleague/backend/config"
	"github.com/rosterleague/backend/internal/auth"
	"github.com/rosterleague/backend/internal/contracts"
	"github.com/rosterleague/backend/internal/notify"
	"github.com/rosterleague/backend/internal/offers"
	"github.com/rosterleague/backend/internal/organizations"
	"github.com/rosterleague/backend/internal/realtime"
	"github.com/rosterleague/backend/internal/reputation"
	"github.com/rosterleague/backend/internal/scheduler"
	"github.com/rosterleague/backend/pkg/database"
	"github.com/rosterleague/backend/pkg/queue"
	"github.com/rosterleague/backend/pkg/redis"
	"github.com/rosterleague/backend/pkg/storage"
)

// Roster is a contracts.Directory that can also list for GET /organizations.
type Roster interface {
	contracts.Directory
	organizations.Lister
}

// Runtime holds everything a process needs. Optional parts are nil when not configured.
type Runtime struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry

	Store        contracts.Store
	Roster       Roster
	Reputation   reputation.Source
	StateMachine *contracts.StateMachine
	Dispatcher   *notify.Dispatcher
	Scheduler    *scheduler.Scheduler
	JWT          *auth.JWTService

	Redis  *redis.Client
	Queue  *queue.Queue
	PubSub *realtime.RedisPubSub

	schedulerMetrics *scheduler.Metrics
	closers          []func()
}

// New connects the configured backends and builds the state machine on top of them.
// On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Runtime, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rt := &Runtime{Config: cfg, Logger: logger, Registry: reg}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	if cfg.Redis.Enabled {
		rt.Redis, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			return nil, err
		}
		rt.onClose(func() { rt.Redis.Close() })
		rt.Queue = queue.NewQueue(rt.Redis.Client, queue.QueueNotifications, logger)
		rt.PubSub = realtime.NewRedisPubSub(rt.Redis.Client, logger)
	}

	names, err := rosterNames(cfg.Contracts)
	if err != nil {
		return nil, err
	}

	switch cfg.Store.Driver {
	case config.DriverPostgres:
		if err := rt.openPostgres(ctx, names); err != nil {
			return nil, err
		}
	case config.DriverSQLite:
		if err := rt.openSQLite(ctx, names); err != nil {
			return nil, err
		}
	default:
		rt.Store = contracts.NewMemoryStore()
		rt.Roster = organizations.NewStatic(names)
		rt.Reputation = reputation.Static{}
	}
	logger.Info("contract store ready", zap.String("driver", cfg.Store.Driver), zap.Int("roster", len(names)))

	tuning := offers.DefaultTuning()
	if cfg.Contracts.OfferTuningFile != "" {
		if tuning, err = offers.LoadTuning(cfg.Contracts.OfferTuningFile); err != nil {
			return nil, fmt.Errorf("offer tuning: %w", err)
		}
		logger.Info("offer tuning loaded", zap.String("file", cfg.Contracts.OfferTuningFile))
	}

	var sink notify.Sink = notify.NewLogSink(logger)
	if cfg.Notifications.Sink == config.SinkQueue && rt.Queue != nil {
		sink = notify.NewQueueSink(rt.Queue)
	}
	rt.Dispatcher = notify.NewDispatcher(sink, cfg.Notifications.Buffer, notify.NewMetrics(reg), logger)

	rt.StateMachine = contracts.NewStateMachine(rt.Store, rt.Roster, rt.Reputation, offers.NewGenerator(tuning), rt.Dispatcher, contracts.Options{
		ResponseWindow:    cfg.Contracts.ResponseWindow,
		AllowEarlyRenewal: cfg.Contracts.AllowEarlyRenewal,
		Metrics:           contracts.NewMetrics(reg),
		Logger:            logger,
	})

	rt.schedulerMetrics = scheduler.NewMetrics(reg)
	rt.Scheduler = scheduler.New(rt.StateMachine, rt.Store, scheduler.Config{
		ContractInterval: cfg.Scheduler.ContractInterval,
		DeadlineInterval: cfg.Scheduler.DeadlineInterval,
		BatchSize:        cfg.Scheduler.BatchSize,
	}, rt.schedulerMetrics, logger)

	rt.JWT = auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TTL())
	return rt, nil
}

func (rt *Runtime) openPostgres(ctx context.Context, names []string) error {
	cfg := rt.Config
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, rt.Logger)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	rt.onClose(pool.Close)
	if err := database.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	orgRepo := organizations.NewRepository(pool)
	if err := orgRepo.EnsureRoster(ctx, names); err != nil {
		return fmt.Errorf("seed roster: %w", err)
	}
	rt.Store = contracts.NewRepository(pool)
	rt.Roster = orgRepo
	rt.Reputation = rt.cached(reputation.NewRepository(pool))
	return nil
}

func (rt *Runtime) openSQLite(ctx context.Context, names []string) error {
	db, err := database.OpenSQLite(rt.Config.Store.SQLitePath, rt.Logger)
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	rt.onClose(func() { closeDB(db, rt.Logger) })
	if err := database.MigrateSQLite(ctx, db); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	rt.Store = contracts.NewSQLiteRepository(db)
	rt.Roster = organizations.NewStatic(names)
	rt.Reputation = rt.cached(reputation.Static{})
	return nil
}

func (rt *Runtime) cached(src reputation.Source) reputation.Source {
	if rt.Redis == nil {
		return src
	}
	return reputation.NewCache(rt.Redis.Client, src, rt.Config.Redis.CacheTTL, rt.Logger)
}

// Timers returns an in-process deadline timer registry hooked to the state machine.
// The caller owns Stop.
func (rt *Runtime) Timers() *scheduler.Timers {
	t := scheduler.NewTimers(rt.StateMachine.OnDeadline, nil, rt.schedulerMetrics, rt.Logger)
	rt.StateMachine.SetOfferSetCreatedHandler(t.Arm)
	rt.StateMachine.SetOfferSetResolvedHandler(t.Disarm)
	return t
}

// Archive opens the S3 contract archive, or returns nil when no bucket is configured.
func (rt *Runtime) Archive(ctx context.Context) (*storage.S3, error) {
	aws := rt.Config.AWS
	if aws.ContractsBucket == "" {
		return nil, nil
	}
	return storage.NewS3(ctx, storage.S3Config{
		Region:               aws.Region,
		AccessKeyID:          aws.AccessKeyID,
		SecretAccessKey:      aws.SecretAccessKey,
		Bucket:               aws.ContractsBucket,
		Endpoint:             aws.Endpoint,
		PresignExpireMinutes: aws.PresignExpireMinutes,
	}, rt.Logger)
}

// Close releases connections in reverse order of opening.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func (rt *Runtime) onClose(fn func()) {
	rt.closers = append(rt.closers, fn)
}

func rosterNames(c config.ContractsConfig) ([]string, error) {
	if c.RosterFile == "" {
		return c.RosterNames(), nil
	}
	s, err := organizations.LoadStatic(c.RosterFile)
	if err != nil {
		return nil, err
	}
	return s.Names(), nil
}

func closeDB(db *sql.DB, logger *zap.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn("close sqlite", zap.Error(err))
	}
}
