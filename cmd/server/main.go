// Package main provides the API server entry point for the portfolio ledger.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/portfolio-ledger/internal/api"
	"github.com/portfolio-ledger/internal/calc"
	"github.com/portfolio-ledger/internal/clock"
	"github.com/portfolio-ledger/internal/config"
	"github.com/portfolio-ledger/internal/events"
	"github.com/portfolio-ledger/internal/logging"
	"github.com/portfolio-ledger/internal/manager"
	"github.com/portfolio-ledger/internal/storage"
	"github.com/portfolio-ledger/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.Init(logging.ParseLevel(cfg.Logging.Level), logging.ParseFormat(cfg.Logging.Format))
	logger := logging.Global()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("structured logging initialized")

	store, err := storage.NewSnapshotStore(&cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("failed to open snapshot store")
	}
	if err := store.Initialize(context.Background()); err != nil {
		logger.WithError(err).Fatal("failed to initialize snapshot store")
	}
	logger.WithField("backend", cfg.Database.Backend).Info("snapshot store ready")

	// Prices come from Redis when configured, in-memory otherwise.
	var prices calc.PriceCache
	if cfg.Database.Redis.Host != "" {
		redisCache, err := storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Warn("redis unavailable, falling back to in-memory price cache")
			prices = calc.NewMemoryPriceCache(cfg.Snapshot.PriceCacheTTL)
		} else {
			defer redisCache.Close()
			prices = storage.NewRedisPriceCache(redisCache, cfg.Snapshot.PriceCacheTTL)
			logger.Info("redis price cache ready")
		}
	} else {
		prices = calc.NewMemoryPriceCache(cfg.Snapshot.PriceCacheTTL)
	}

	bus := events.NewBus()
	calculator := calc.New(prices, cfg.Risk.RiskFreeRate)
	tr := tracker.New(calculator, store, bus, clock.Real{}, logger, cfg.Snapshot)
	mgr := manager.New(calculator, tr, bus, clock.Real{}, logger, cfg.Risk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go mgr.Run(ctx)
	if cfg.Snapshot.AutoInterval > 0 {
		go tr.RunAutoSnapshots(ctx, cfg.Snapshot.AutoInterval)
		logger.WithField("interval", cfg.Snapshot.AutoInterval.String()).Info("auto snapshots enabled")
	}

	server := api.NewServer(&cfg.Server, mgr, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("shutdown signal received")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
	logger.Info("server stopped")
}
