// Package tracker maintains the snapshot history of every portfolio: an
// in-memory, bounded, ascending series that is asynchronously mirrored to a
// snapshot store. Memory is authoritative; a persistence failure is logged
// and never surfaces to the capture path.
package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/portfolio-ledger/internal/calc"
	"github.com/portfolio-ledger/internal/clock"
	"github.com/portfolio-ledger/internal/config"
	"github.com/portfolio-ledger/internal/errors"
	"github.com/portfolio-ledger/internal/events"
	"github.com/portfolio-ledger/internal/logging"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/retry"
	"github.com/portfolio-ledger/internal/storage"
)

// valueChangedThreshold is the absolute percent change between consecutive
// snapshots above which a value_changed event is published.
const valueChangedThreshold = 0.1

// Tracker owns snapshot capture and history for all portfolios.
type Tracker struct {
	mu        sync.Mutex
	histories map[string][]*models.Snapshot
	hydrated  map[string]bool

	calculator *calc.Calculator
	store      storage.SnapshotStore
	bus        *events.Bus
	clk        clock.Clock
	log        *logging.Logger

	maxPerPortfolio int
	persistTimeout  time.Duration
}

// New creates a tracker. store may be nil for a purely in-memory history.
func New(calculator *calc.Calculator, store storage.SnapshotStore, bus *events.Bus, clk clock.Clock, log *logging.Logger, cfg config.SnapshotConfig) *Tracker {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = logging.Global()
	}
	maxPer := cfg.MaxPerPortfolio
	if maxPer <= 0 {
		maxPer = 1000
	}
	persistTimeout := cfg.PersistTimeout
	if persistTimeout <= 0 {
		persistTimeout = 10 * time.Second
	}
	t := &Tracker{
		histories:       make(map[string][]*models.Snapshot),
		hydrated:        make(map[string]bool),
		calculator:      calculator,
		store:           store,
		bus:             bus,
		clk:             clk,
		log:             log.WithField("component", "tracker"),
		maxPerPortfolio: maxPer,
		persistTimeout:  persistTimeout,
	}
	return t
}

// CreateSnapshot captures the portfolio's current state: every position is
// revalued from the price cache (falling back to its last stored price),
// the change against the previous snapshot is computed, and the result is
// appended to the bounded history. Persistence happens asynchronously.
func (t *Tracker) CreateSnapshot(ctx context.Context, portfolio *models.Portfolio, meta models.SnapshotMetadata) (*models.Snapshot, error) {
	if portfolio == nil {
		return nil, errors.NewValidationError("portfolio", "is required")
	}

	now := t.clk.Now()
	positions := make(map[string]*models.Position, len(portfolio.Positions))
	for token, pos := range portfolio.Positions {
		price := pos.CurrentPrice
		if cached, ok, err := t.calculator.Prices().Get(ctx, token); err != nil {
			t.log.WithError(err).WithField("token", token).Warn("price cache read failed, using last known price")
		} else if ok {
			price = cached
		}
		positions[token] = t.calculator.ValuePosition(pos, price, now)
	}
	totalValue := t.calculator.TotalPortfolioValue(positions, portfolio.CashBalance)

	t.mu.Lock()
	defer t.mu.Unlock()

	history := t.histories[portfolio.ID]

	change := decimal.Zero
	changePercent := 0.0
	if len(history) > 0 {
		prev := history[len(history)-1]
		change = totalValue.Sub(prev.TotalValue)
		if prev.TotalValue.IsPositive() {
			changePercent, _ = change.Div(prev.TotalValue).Mul(decimal.NewFromInt(100)).Float64()
		}
	}

	snapshot := &models.Snapshot{
		ID:            uuid.New().String(),
		PortfolioID:   portfolio.ID,
		Timestamp:     now,
		TotalValue:    totalValue,
		CashBalance:   portfolio.CashBalance,
		Change:        change,
		ChangePercent: changePercent,
		Positions:     positions,
		Performance:   t.performanceBlock(portfolio, history, totalValue, now),
		Metadata:      meta,
		CreatedAt:     now,
	}

	history = append(history, snapshot)
	if len(history) > t.maxPerPortfolio {
		history = history[len(history)-t.maxPerPortfolio:]
	}
	t.histories[portfolio.ID] = history
	t.hydrated[portfolio.ID] = true

	t.persistAsync(snapshot)

	t.publish(events.Event{
		Type:        events.SnapshotCreated,
		PortfolioID: portfolio.ID,
		Timestamp:   now,
		Payload: map[string]interface{}{
			"snapshotId": snapshot.ID,
			"totalValue": totalValue.String(),
		},
	})
	if changePercent > valueChangedThreshold || changePercent < -valueChangedThreshold {
		t.publish(events.Event{
			Type:        events.ValueChanged,
			PortfolioID: portfolio.ID,
			Timestamp:   now,
			Payload: map[string]interface{}{
				"snapshotId":    snapshot.ID,
				"change":        change.String(),
				"changePercent": changePercent,
			},
		})
	}

	return snapshot, nil
}

// performanceBlock summarizes performance at capture time. history is the
// series before the new snapshot is appended.
func (t *Tracker) performanceBlock(portfolio *models.Portfolio, history []*models.Snapshot, totalValue decimal.Decimal, now time.Time) models.PerformanceBlock {
	block := models.PerformanceBlock{
		TotalReturn:   totalValue.Sub(portfolio.InitialBalance),
		SnapshotCount: len(history) + 1,
	}
	if portfolio.InitialBalance.IsPositive() {
		block.TotalReturnPercent, _ = block.TotalReturn.Div(portfolio.InitialBalance).Mul(decimal.NewFromInt(100)).Float64()
	}

	// 24h change against the newest snapshot at or before now-24h.
	cutoff := now.Add(-24 * time.Hour)
	for i := len(history) - 1; i >= 0; i-- {
		if !history[i].Timestamp.After(cutoff) {
			if history[i].TotalValue.IsPositive() {
				block.Change24hPercent, _ = totalValue.Sub(history[i].TotalValue).
					Div(history[i].TotalValue).Mul(decimal.NewFromInt(100)).Float64()
			}
			break
		}
	}
	return block
}

// persistAsync mirrors the snapshot to the store without blocking capture.
// Transient store failures are retried with backoff; a write that still fails
// is logged, the in-memory history is already updated.
func (t *Tracker) persistAsync(snapshot *models.Snapshot) {
	if t.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.persistTimeout)
		defer cancel()
		err := retry.Do(ctx, retry.Default(), func(ctx context.Context) error {
			return t.store.Save(ctx, snapshot)
		})
		if err != nil {
			t.log.WithError(err).WithFields(map[string]interface{}{
				"portfolioId": snapshot.PortfolioID,
				"snapshotId":  snapshot.ID,
			}).Error("failed to persist snapshot")
		}
	}()
}

func (t *Tracker) publish(ev events.Event) {
	if t.bus != nil {
		t.bus.Publish(ev)
	}
}

// GetSnapshots returns the portfolio's history ascending by timestamp. When
// the in-memory history is empty (fresh process), it is hydrated from the
// store first.
func (t *Tracker) GetSnapshots(ctx context.Context, portfolioID string, opts storage.ListOptions) ([]*models.Snapshot, error) {
	t.mu.Lock()
	history, hydrated := t.histories[portfolioID], t.hydrated[portfolioID]
	t.mu.Unlock()

	if len(history) == 0 && !hydrated && t.store != nil {
		loaded, err := t.store.List(ctx, portfolioID, storage.ListOptions{Limit: t.maxPerPortfolio})
		if err != nil {
			return nil, errors.NewPersistenceError("list snapshots", err)
		}
		t.mu.Lock()
		// only adopt if nothing was captured while loading
		if len(t.histories[portfolioID]) == 0 {
			t.histories[portfolioID] = loaded
		}
		t.hydrated[portfolioID] = true
		history = t.histories[portfolioID]
		t.mu.Unlock()
	}

	filtered := make([]*models.Snapshot, 0, len(history))
	for _, snap := range history {
		if !opts.From.IsZero() && snap.Timestamp.Before(opts.From) {
			continue
		}
		if !opts.To.IsZero() && snap.Timestamp.After(opts.To) {
			continue
		}
		filtered = append(filtered, snap)
	}
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[len(filtered)-opts.Limit:]
	}
	return filtered, nil
}

// GetLatest returns the newest snapshot, or nil when the history is empty.
func (t *Tracker) GetLatest(ctx context.Context, portfolioID string) (*models.Snapshot, error) {
	snaps, err := t.GetSnapshots(ctx, portfolioID, storage.ListOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return snaps[len(snaps)-1], nil
}

// CleanupSnapshots removes snapshots older than retentionDays from memory and
// the store, returning how many were removed from memory.
func (t *Tracker) CleanupSnapshots(ctx context.Context, portfolioID string, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, errors.NewValidationError("retentionDays", "must be positive")
	}
	now := t.clk.Now()
	cutoff := now.AddDate(0, 0, -retentionDays)

	t.mu.Lock()
	history := t.histories[portfolioID]
	kept := make([]*models.Snapshot, 0, len(history))
	for _, snap := range history {
		if !snap.Timestamp.Before(cutoff) {
			kept = append(kept, snap)
		}
	}
	removed := len(history) - len(kept)
	if removed > 0 {
		t.histories[portfolioID] = kept
	}
	t.mu.Unlock()

	if t.store != nil {
		if _, err := t.store.DeleteOlderThan(ctx, portfolioID, cutoff); err != nil {
			t.log.WithError(err).WithField("portfolioId", portfolioID).Error("failed to prune persisted snapshots")
		}
	}

	if removed > 0 {
		t.publish(events.Event{
			Type:        events.SnapshotDeleted,
			PortfolioID: portfolioID,
			Timestamp:   now,
			Payload: map[string]interface{}{
				"removed": removed,
				"cutoff":  cutoff.Format(time.RFC3339),
			},
		})
	}
	return removed, nil
}

// DeletePortfolio drops the portfolio's entire history.
func (t *Tracker) DeletePortfolio(ctx context.Context, portfolioID string) error {
	t.mu.Lock()
	delete(t.histories, portfolioID)
	delete(t.hydrated, portfolioID)
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.DeletePortfolio(ctx, portfolioID); err != nil {
			return errors.NewPersistenceError("delete portfolio snapshots", err)
		}
	}
	return nil
}

// ImportSnapshots replaces the portfolio's history with the given series,
// sorted ascending and capped, and mirrors each snapshot to the store. Used by
// ledger import/restore.
func (t *Tracker) ImportSnapshots(ctx context.Context, portfolioID string, snapshots []*models.Snapshot) {
	imported := append([]*models.Snapshot(nil), snapshots...)
	sort.SliceStable(imported, func(i, j int) bool {
		return imported[i].Timestamp.Before(imported[j].Timestamp)
	})
	if len(imported) > t.maxPerPortfolio {
		imported = imported[len(imported)-t.maxPerPortfolio:]
	}

	t.mu.Lock()
	t.histories[portfolioID] = imported
	t.hydrated[portfolioID] = true
	t.mu.Unlock()

	for _, snap := range imported {
		t.persistAsync(snap)
	}
}

// SnapshotCount returns the in-memory history length for one portfolio.
func (t *Tracker) SnapshotCount(portfolioID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.histories[portfolioID])
}

// RunAutoSnapshots publishes a snapshot_trigger event on every interval tick
// until ctx is cancelled. The portfolio manager subscribes and captures all
// active portfolios in response. A non-positive interval disables the loop.
func (t *Tracker) RunAutoSnapshots(ctx context.Context, interval time.Duration) {
	if interval <= 0 || t.bus == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.log.Info(fmt.Sprintf("auto-snapshot loop started, interval %s", interval))
	for {
		select {
		case <-ctx.Done():
			t.log.Info("auto-snapshot loop stopped")
			return
		case <-ticker.C:
			t.bus.Publish(events.Event{
				Type:      events.SnapshotTrigger,
				Timestamp: t.clk.Now(),
			})
		}
	}
}
