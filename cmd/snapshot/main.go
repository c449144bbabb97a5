// Package main provides a one-shot snapshot and retention worker.
// It captures a snapshot of every active portfolio and prunes history
// past the configured retention window.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

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
	backupPath := flag.String("backup", "", "Path to a ledger backup file to load portfolios from")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.Init(logging.ParseLevel(cfg.Logging.Level), logging.ParseFormat(cfg.Logging.Format))
	logger := logging.Global().WithField("component", "snapshot-worker")

	store, err := storage.NewSnapshotStore(&cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("failed to open snapshot store")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := store.Initialize(ctx); err != nil {
		logger.WithError(err).Fatal("failed to initialize snapshot store")
	}

	bus := events.NewBus()
	calculator := calc.New(calc.NewMemoryPriceCache(cfg.Snapshot.PriceCacheTTL), cfg.Risk.RiskFreeRate)
	tr := tracker.New(calculator, store, bus, clock.Real{}, logger, cfg.Snapshot)
	mgr := manager.New(calculator, tr, bus, clock.Real{}, logger, cfg.Risk)

	if *backupPath != "" {
		data, err := os.ReadFile(*backupPath)
		if err != nil {
			logger.WithError(err).Fatal("failed to read backup file")
		}
		restored, err := mgr.RestoreJSON(ctx, data)
		if err != nil {
			logger.WithError(err).Fatal("failed to restore ledger backup")
		}
		logger.WithField("restored", restored).Info("ledger restored from backup")
	}

	captured := mgr.SnapshotAll(ctx)
	logger.WithField("captured", captured).Info("snapshot run complete")

	if cfg.Snapshot.RetentionDays > 0 {
		for _, pf := range mgr.ListPortfolios() {
			removed, err := mgr.CleanupSnapshots(ctx, pf.ID, cfg.Snapshot.RetentionDays)
			if err != nil {
				logger.WithError(err).WithField("portfolio", pf.ID).Error("retention cleanup failed")
				continue
			}
			if removed > 0 {
				logger.WithFields(map[string]interface{}{
					"portfolio": pf.ID,
					"removed":   removed,
				}).Info("retention cleanup pruned snapshots")
			}
		}
	}

	if err := store.Cleanup(ctx); err != nil {
		logger.WithError(err).Warn("store cleanup failed")
	}
}
