// Package manager implements the portfolio ledger state machine. The Manager
// is the only writer of portfolio state; every mutation is serialized by a
// per-portfolio lock so concurrent trades cannot interleave their cash and
// position updates. Different portfolios are fully independent.
package manager

import (
	"context"
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
	"github.com/portfolio-ledger/internal/storage"
	"github.com/portfolio-ledger/internal/tracker"
	"github.com/portfolio-ledger/internal/types"
)

// positionEpsilon is the remainder below which a position sold down to
// (near) zero is removed instead of kept at a dust amount.
var positionEpsilon = decimal.New(1, -12)

var hundred = decimal.NewFromInt(100)

// Manager owns the canonical portfolio state.
type Manager struct {
	mu         sync.RWMutex
	portfolios map[string]*models.Portfolio
	locks      map[string]*sync.Mutex
	currentID  string

	calculator *calc.Calculator
	tracker    *tracker.Tracker
	bus        *events.Bus
	clk        clock.Clock
	log        *logging.Logger
	defaults   config.RiskDefaults
}

// New creates a manager. All collaborators are injected; there is no hidden
// process-global instance.
func New(calculator *calc.Calculator, tr *tracker.Tracker, bus *events.Bus, clk clock.Clock, log *logging.Logger, defaults config.RiskDefaults) *Manager {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = logging.Global()
	}
	return &Manager{
		portfolios: make(map[string]*models.Portfolio),
		locks:      make(map[string]*sync.Mutex),
		calculator: calculator,
		tracker:    tr,
		bus:        bus,
		clk:        clk,
		log:        log.WithField("component", "manager"),
		defaults:   defaults,
	}
}

// lockFor returns the portfolio's exclusive mutation lock, creating it on
// first use.
func (m *Manager) lockFor(portfolioID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[portfolioID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[portfolioID] = lock
	}
	return lock
}

func (m *Manager) publish(ev events.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}

// CreatePortfolio creates a new active portfolio with the given starting cash
// and risk configuration, takes its initial snapshot and makes it the current
// portfolio when none is selected yet.
func (m *Manager) CreatePortfolio(ctx context.Context, name string, initialCash decimal.Decimal, cfg models.RiskConfig) (*models.Portfolio, error) {
	if name == "" {
		return nil, errors.NewValidationError("name", "is required")
	}
	if cfg.Chain == "" {
		return nil, errors.NewValidationError("config.chain", "is required")
	}
	if !initialCash.IsPositive() {
		return nil, errors.NewValidationError("initialCash", "must be positive")
	}

	m.applyConfigDefaults(&cfg)

	now := m.clk.Now()
	portfolio := &models.Portfolio{
		ID:             uuid.New().String(),
		Name:           name,
		Status:         types.StatusActive,
		CashBalance:    initialCash,
		InitialBalance: initialCash,
		TotalValue:     initialCash,
		Positions:      make(map[string]*models.Position),
		Trades:         []*models.Trade{},
		Config:         cfg,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	m.mu.Lock()
	m.portfolios[portfolio.ID] = portfolio
	if m.currentID == "" {
		m.currentID = portfolio.ID
	}
	m.mu.Unlock()

	m.snapshot(ctx, portfolio)

	m.publish(events.Event{
		Type:        events.PortfolioCreated,
		PortfolioID: portfolio.ID,
		Timestamp:   now,
		Payload: map[string]interface{}{
			"name":        name,
			"initialCash": initialCash.String(),
			"chain":       string(cfg.Chain),
		},
	})
	m.log.WithFields(map[string]interface{}{
		"portfolioId": portfolio.ID,
		"name":        name,
	}).Info("portfolio created")

	return portfolio.Clone(), nil
}

// applyConfigDefaults fills unset risk parameters from the configured
// defaults (stop-loss 10%, take-profit 50% unless overridden).
func (m *Manager) applyConfigDefaults(cfg *models.RiskConfig) {
	if cfg.StopLossPercent.IsZero() {
		cfg.StopLossPercent = decimal.NewFromFloat(defaultOr(m.defaults.StopLossPercent, 10))
	}
	if cfg.TakeProfitPercent.IsZero() {
		cfg.TakeProfitPercent = decimal.NewFromFloat(defaultOr(m.defaults.TakeProfitPercent, 50))
	}
	if cfg.RebalanceThreshold.IsZero() {
		cfg.RebalanceThreshold = decimal.NewFromFloat(defaultOr(m.defaults.RebalanceThreshold, 5))
	}
	if cfg.MaxPositionSize.IsZero() {
		cfg.MaxPositionSize = decimal.NewFromFloat(defaultOr(m.defaults.MaxPositionSize, 25))
	}
	if cfg.MaxDrawdown.IsZero() {
		cfg.MaxDrawdown = decimal.NewFromFloat(defaultOr(m.defaults.MaxDrawdown, 20))
	}
	if cfg.TargetAllocation != nil {
		normalized := make(map[string]decimal.Decimal, len(cfg.TargetAllocation))
		for token, target := range cfg.TargetAllocation {
			normalized[types.NormalizeToken(cfg.Chain, token)] = target
		}
		cfg.TargetAllocation = normalized
	}
}

func defaultOr(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}

// GetPortfolio returns a consistent deep copy of the portfolio.
func (m *Manager) GetPortfolio(portfolioID string) (*models.Portfolio, error) {
	m.mu.RLock()
	portfolio, ok := m.portfolios[portfolioID]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.NewNotFoundError("portfolio", portfolioID)
	}

	lock := m.lockFor(portfolioID)
	lock.Lock()
	defer lock.Unlock()
	return portfolio.Clone(), nil
}

// ListPortfolios returns copies of every portfolio, ordered by creation time.
func (m *Manager) ListPortfolios() []*models.Portfolio {
	m.mu.RLock()
	ids := make([]string, 0, len(m.portfolios))
	for id := range m.portfolios {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	out := make([]*models.Portfolio, 0, len(ids))
	for _, id := range ids {
		if portfolio, err := m.GetPortfolio(id); err == nil {
			out = append(out, portfolio)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// CurrentPortfolio returns the currently selected portfolio, or a not-found
// error when none is selected.
func (m *Manager) CurrentPortfolio() (*models.Portfolio, error) {
	m.mu.RLock()
	id := m.currentID
	m.mu.RUnlock()
	if id == "" {
		return nil, errors.NewNotFoundError("portfolio", "current")
	}
	return m.GetPortfolio(id)
}

// SetCurrentPortfolio selects the portfolio subsequent defaulted operations
// act on.
func (m *Manager) SetCurrentPortfolio(portfolioID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.portfolios[portfolioID]; !ok {
		return errors.NewNotFoundError("portfolio", portfolioID)
	}
	m.currentID = portfolioID
	return nil
}

// ArchivePortfolio soft-closes the portfolio; archived portfolios reject
// further mutations but remain queryable.
func (m *Manager) ArchivePortfolio(ctx context.Context, portfolioID string) error {
	m.mu.RLock()
	portfolio, ok := m.portfolios[portfolioID]
	m.mu.RUnlock()
	if !ok {
		return errors.NewNotFoundError("portfolio", portfolioID)
	}

	lock := m.lockFor(portfolioID)
	lock.Lock()
	portfolio.Status = types.StatusArchived
	portfolio.UpdatedAt = m.clk.Now()
	lock.Unlock()

	m.publish(events.Event{
		Type:        events.PortfolioArchived,
		PortfolioID: portfolioID,
		Timestamp:   m.clk.Now(),
	})
	return nil
}

// DeletePortfolio removes the portfolio and cascades to its snapshot history.
func (m *Manager) DeletePortfolio(ctx context.Context, portfolioID string) error {
	m.mu.Lock()
	if _, ok := m.portfolios[portfolioID]; !ok {
		m.mu.Unlock()
		return errors.NewNotFoundError("portfolio", portfolioID)
	}
	delete(m.portfolios, portfolioID)
	delete(m.locks, portfolioID)
	if m.currentID == portfolioID {
		m.currentID = ""
	}
	m.mu.Unlock()

	if m.tracker != nil {
		if err := m.tracker.DeletePortfolio(ctx, portfolioID); err != nil {
			m.log.WithError(err).WithField("portfolioId", portfolioID).Error("failed to delete snapshot history")
		}
	}

	m.publish(events.Event{
		Type:        events.PortfolioDeleted,
		PortfolioID: portfolioID,
		Timestamp:   m.clk.Now(),
	})
	return nil
}

// snapshot records the portfolio's current state via the tracker. Capture
// failures are logged; they never fail the mutation that triggered them.
func (m *Manager) snapshot(ctx context.Context, portfolio *models.Portfolio) {
	if m.tracker == nil {
		return
	}
	if _, err := m.tracker.CreateSnapshot(ctx, portfolio, models.SnapshotMetadata{}); err != nil {
		m.log.WithError(err).WithField("portfolioId", portfolio.ID).Error("failed to capture snapshot")
	}
}

// GetSnapshots returns the portfolio's snapshot history, ascending.
func (m *Manager) GetSnapshots(ctx context.Context, portfolioID string, opts storage.ListOptions) ([]*models.Snapshot, error) {
	if _, err := m.requirePortfolio(portfolioID); err != nil {
		return nil, err
	}
	return m.tracker.GetSnapshots(ctx, portfolioID, opts)
}

// CreateSnapshot captures a snapshot of the portfolio on demand.
func (m *Manager) CreateSnapshot(ctx context.Context, portfolioID string, meta models.SnapshotMetadata) (*models.Snapshot, error) {
	portfolio, err := m.requirePortfolio(portfolioID)
	if err != nil {
		return nil, err
	}

	lock := m.lockFor(portfolioID)
	lock.Lock()
	defer lock.Unlock()
	return m.tracker.CreateSnapshot(ctx, portfolio, meta)
}

// SnapshotAll captures a snapshot of every active portfolio. Used by the
// auto-snapshot trigger and the snapshot tool.
func (m *Manager) SnapshotAll(ctx context.Context) int {
	m.mu.RLock()
	ids := make([]string, 0, len(m.portfolios))
	for id, portfolio := range m.portfolios {
		if portfolio.Status == types.StatusActive {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	captured := 0
	for _, id := range ids {
		if _, err := m.CreateSnapshot(ctx, id, models.SnapshotMetadata{}); err != nil {
			m.log.WithError(err).WithField("portfolioId", id).Error("auto-snapshot failed")
			continue
		}
		captured++
	}
	return captured
}

// Run subscribes to snapshot trigger events and captures all active
// portfolios on each one, until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	if m.bus == nil {
		return
	}
	ch, cancel := m.bus.Subscribe(16)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type == events.SnapshotTrigger {
				m.SnapshotAll(ctx)
			}
		}
	}
}

// requirePortfolio returns the live portfolio pointer for internal use.
func (m *Manager) requirePortfolio(portfolioID string) (*models.Portfolio, error) {
	m.mu.RLock()
	portfolio, ok := m.portfolios[portfolioID]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.NewNotFoundError("portfolio", portfolioID)
	}
	return portfolio, nil
}

// refreshTotals recomputes the conservation sum after a mutation. Caller must
// hold the portfolio lock.
func (m *Manager) refreshTotals(portfolio *models.Portfolio, now time.Time) {
	portfolio.TotalValue = portfolio.CashBalance.Add(portfolio.PositionValuesSum())
	portfolio.UpdatedAt = now
}
