package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/binarypool/internal/oracle"
	"github.com/alanyoungcy/binarypool/internal/server"
	"github.com/alanyoungcy/binarypool/internal/server/handler"
	"github.com/alanyoungcy/binarypool/internal/server/ws"
)

const shutdownTimeout = 5 * time.Second

// APIMode serves HTTP and WebSocket clients and consumes oracle responses.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	a.startConsumer(ctx, g, deps)
	return g.Wait()
}

// WorkerMode consumes oracle responses and archives finished pools.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startConsumer(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

// FullMode runs every component in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	a.startConsumer(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks, a.logger),
		Pools:  handler.NewPoolHandler(deps.Engine, deps.Engine.Options().DepositAsset, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,

		SignatureWindow: a.cfg.Server.SignatureWindow.Duration,
	}, handlers, hub, deps.RateLimiter, deps.LockManager, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func (a *App) startConsumer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	consumer := oracle.NewConsumer(deps.SignalBus, deps.LockManager, deps.Engine, oracle.ConsumerConfig{
		StartID:      a.cfg.Oracle.StartID,
		BatchSize:    a.cfg.Oracle.BatchSize,
		PollInterval: a.cfg.Oracle.PollInterval.Duration,
		ClaimTTL:     a.cfg.Oracle.ClaimTTL.Duration,
	}, a.logger)
	g.Go(func() error {
		return consumer.Run(ctx)
	})
}

// startArchiver periodically copies finished pools to object storage. It is
// a no-op when archiving is disabled.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		a.logger.InfoContext(ctx, "archive disabled, skipping archiver")
		return
	}
	interval := a.cfg.Archive.Interval.Duration
	lookback := a.cfg.Archive.Lookback.Duration

	g.Go(func() error {
		runOnce := func() {
			since := time.Now().UTC().Add(-lookback)
			n, err := deps.Archiver.ArchiveFinished(ctx, since)
			if err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
				return
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "archived finished pools", slog.Int64("count", n))
			}
		}

		runOnce()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				runOnce()
			}
		}
	})
}
