// Package main runs the expiration sweeps and the notification job consumer.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/rosterleague/backend/config"
	"github.com/rosterleague/backend/internal/app"
	"github.com/rosterleague/backend/internal/worker"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("runtime", zap.Error(err))
	}
	defer rt.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.Dispatcher.Run(gctx) })
	g.Go(func() error { return rt.Scheduler.Run(gctx) })
	if cfg.Scheduler.Timers {
		timers := rt.Timers()
		defer timers.Stop()
	}

	if rt.Queue != nil {
		archive, err := rt.Archive(ctx)
		if err != nil {
			logger.Fatal("s3", zap.Error(err))
		}
		var arc worker.Archive
		if archive != nil {
			arc = archive
		} else {
			logger.Info("contract archive disabled")
		}
		processor := worker.NewNotificationProcessor(rt.Queue, rt.PubSub, arc, logger)
		g.Go(func() error { return processor.Run(gctx) })
	} else {
		logger.Warn("redis disabled, notification consumer not started")
	}

	logger.Info("worker started")
	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", zap.Error(err))
		return
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
