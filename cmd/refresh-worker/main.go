package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-agenda-sync/internal/app"
	"github.com/hackgods/clinic-agenda-sync/internal/calendar"
	"github.com/hackgods/clinic-agenda-sync/internal/config"
	"github.com/hackgods/clinic-agenda-sync/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "refresh-worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("refresh worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.RefreshInterval),
		zap.Int("weeks", cfg.RefreshWeeks),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	// Run once at startup
	runOnce(rootCtx, a, logger)

	ticker := time.NewTicker(cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping refresh worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, a, logger)
		}
	}
}

// runOnce rebuilds the local cache from the remote agenda, then drops days
// before the current week.
func runOnce(ctx context.Context, a *app.App, logger *zap.Logger) {
	timeout := a.Config.SessionLockTTL + time.Duration(a.Config.RemoteReadAttempts+1)*a.Config.RemoteCallTimeout
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	n, err := a.Engine.Refresh(runCtx, start, a.Config.RefreshWeeks)
	if err != nil {
		logger.Error("refresh run failed", zap.Error(err))
		return
	}

	pruned, err := a.Store.PruneBefore(calendar.WeekStart(start))
	if err != nil {
		logger.Error("prune failed", zap.Error(err))
	}
	logger.Info("refresh run complete",
		zap.Int("bookings", n),
		zap.Int("pruned", pruned),
		zap.Duration("duration", time.Since(start)),
	)
}
