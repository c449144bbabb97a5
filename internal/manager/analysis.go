package manager

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-ledger/internal/calc"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/storage"
	"github.com/portfolio-ledger/internal/types"
)

// RebalanceRecommendation is one misallocation exceeding the portfolio's
// rebalance threshold, with Priority 1 assigned to the largest deviation.
type RebalanceRecommendation struct {
	Token          string                `json:"token"`
	Symbol         string                `json:"symbol"`
	Action         types.RebalanceAction `json:"action"`
	CurrentPercent decimal.Decimal       `json:"currentPercent"`
	TargetPercent  decimal.Decimal       `json:"targetPercent"`
	Deviation      decimal.Decimal       `json:"deviation"`
	Priority       int                   `json:"priority"`
	Reason         string                `json:"reason"`
}

// RiskViolation is one breached risk limit.
type RiskViolation struct {
	Kind     types.ViolationKind `json:"kind"`
	Token    string              `json:"token,omitempty"`
	Severity types.Severity      `json:"severity"`
	Current  decimal.Decimal     `json:"current"` // percent
	Limit    decimal.Decimal     `json:"limit"`   // percent
	Message  string              `json:"message"`
}

// GetAssetAllocation returns the per-token allocation table against the
// portfolio's target allocation, largest misallocation first.
func (m *Manager) GetAssetAllocation(ctx context.Context, portfolioID string) ([]calc.AllocationRow, error) {
	portfolio, err := m.GetPortfolio(portfolioID)
	if err != nil {
		return nil, err
	}
	return m.calculator.AssetAllocation(portfolio.Positions, portfolio.TotalValue, portfolio.Config.TargetAllocation), nil
}

// AnalyzeRebalanceNeeds filters allocation rows whose absolute deviation
// exceeds the portfolio's rebalance threshold and ranks them by deviation.
func (m *Manager) AnalyzeRebalanceNeeds(ctx context.Context, portfolioID string) ([]RebalanceRecommendation, error) {
	portfolio, err := m.GetPortfolio(portfolioID)
	if err != nil {
		return nil, err
	}

	threshold := portfolio.Config.RebalanceThreshold
	if !threshold.IsPositive() {
		threshold = decimal.NewFromInt(5)
	}

	rows := m.calculator.AssetAllocation(portfolio.Positions, portfolio.TotalValue, portfolio.Config.TargetAllocation)
	recs := make([]RebalanceRecommendation, 0, len(rows))
	for _, row := range rows {
		if row.Deviation.Abs().LessThanOrEqual(threshold) {
			continue
		}
		action := types.ActionSell
		verb := "over-allocated"
		if row.Deviation.IsNegative() {
			action = types.ActionBuy
			verb = "under-allocated"
		}
		recs = append(recs, RebalanceRecommendation{
			Token:          row.Token,
			Symbol:         row.Symbol,
			Action:         action,
			CurrentPercent: row.CurrentPercent,
			TargetPercent:  row.TargetPercent,
			Deviation:      row.Deviation,
			Priority:       len(recs) + 1,
			Reason: fmt.Sprintf("%s by %s points: currently %s%%, target %s%%",
				verb,
				row.Deviation.Abs().Round(2).String(),
				row.CurrentPercent.Round(2).String(),
				row.TargetPercent.Round(2).String()),
		})
	}
	return recs, nil
}

// ExecuteRebalance books one synthetic trade per accepted recommendation,
// shifting |deviation|% of the portfolio value toward the target. Prices come
// from the price cache, falling back to the held position's last price;
// recommendations with no usable price are skipped. No execution venue is
// involved; the trades exist only in the ledger.
func (m *Manager) ExecuteRebalance(ctx context.Context, portfolioID string, recs []RebalanceRecommendation) ([]*models.Trade, error) {
	portfolio, err := m.GetPortfolio(portfolioID)
	if err != nil {
		return nil, err
	}

	trades := make([]*models.Trade, 0, len(recs))
	for _, rec := range recs {
		price, ok := m.rebalancePrice(ctx, portfolio, rec.Token)
		if !ok {
			m.log.WithFields(map[string]interface{}{
				"portfolioId": portfolioID,
				"token":       rec.Token,
			}).Warn("skipping rebalance leg, no price available")
			continue
		}

		shift := rec.Deviation.Abs().Div(hundred).Mul(portfolio.TotalValue)
		amount := shift.Div(price)
		if rec.Action == types.ActionSell {
			if pos, held := portfolio.Positions[rec.Token]; held && amount.GreaterThan(pos.Amount) {
				amount = pos.Amount
			}
		}
		if !amount.IsPositive() {
			continue
		}

		trade, err := m.ExecuteTrade(ctx, portfolioID, TradeRequest{
			Token:     rec.Token,
			Symbol:    rec.Symbol,
			Direction: directionFor(rec.Action),
			Amount:    amount,
			Price:     price,
		})
		if err != nil {
			m.log.WithError(err).WithFields(map[string]interface{}{
				"portfolioId": portfolioID,
				"token":       rec.Token,
			}).Warn("rebalance leg rejected")
			continue
		}
		trades = append(trades, trade)

		// keep the remaining legs consistent with the booked ones
		portfolio, err = m.GetPortfolio(portfolioID)
		if err != nil {
			return trades, err
		}
	}
	return trades, nil
}

func directionFor(action types.RebalanceAction) types.TradeDirection {
	if action == types.ActionSell {
		return types.DirectionSell
	}
	return types.DirectionBuy
}

func (m *Manager) rebalancePrice(ctx context.Context, portfolio *models.Portfolio, token string) (decimal.Decimal, bool) {
	if cached, ok, err := m.calculator.Prices().Get(ctx, token); err == nil && ok {
		return cached, true
	}
	if pos, held := portfolio.Positions[token]; held && pos.CurrentPrice.IsPositive() {
		return pos.CurrentPrice, true
	}
	return decimal.Zero, false
}

// CheckRiskLimits flags positions above the per-position allocation cap and a
// drawdown beyond the configured maximum. Breaches at or above 1.5x the cap
// are graded high, the rest medium.
func (m *Manager) CheckRiskLimits(ctx context.Context, portfolioID string) ([]RiskViolation, error) {
	portfolio, err := m.GetPortfolio(portfolioID)
	if err != nil {
		return nil, err
	}

	violations := []RiskViolation{}

	maxPosition := portfolio.Config.MaxPositionSize
	if maxPosition.IsPositive() && portfolio.TotalValue.IsPositive() {
		tokens := make([]string, 0, len(portfolio.Positions))
		for token := range portfolio.Positions {
			tokens = append(tokens, token)
		}
		sort.Strings(tokens)
		for _, token := range tokens {
			pos := portfolio.Positions[token]
			share := pos.Value.Div(portfolio.TotalValue).Mul(hundred)
			if share.LessThanOrEqual(maxPosition) {
				continue
			}
			violations = append(violations, RiskViolation{
				Kind:     types.ViolationPositionSize,
				Token:    token,
				Severity: severityFor(share, maxPosition),
				Current:  share,
				Limit:    maxPosition,
				Message: fmt.Sprintf("position %s is %s%% of the portfolio, cap is %s%%",
					pos.Symbol, share.Round(2).String(), maxPosition.String()),
			})
		}
	}

	maxDrawdown := portfolio.Config.MaxDrawdown
	if maxDrawdown.IsPositive() {
		snapshots, err := m.tracker.GetSnapshots(ctx, portfolioID, storage.ListOptions{})
		if err != nil {
			m.log.WithError(err).WithField("portfolioId", portfolioID).Error("failed to load snapshots for risk check")
			snapshots = nil
		}
		perf := m.calculator.Performance(snapshots, nil, m.clk.Now(), 0)
		drawdown := decimal.NewFromFloat(perf.MaxDrawdown)
		if drawdown.GreaterThan(maxDrawdown) {
			violations = append(violations, RiskViolation{
				Kind:     types.ViolationMaxDrawdown,
				Severity: severityFor(drawdown, maxDrawdown),
				Current:  drawdown,
				Limit:    maxDrawdown,
				Message: fmt.Sprintf("drawdown %s%% exceeds the maximum of %s%%",
					drawdown.Round(2).String(), maxDrawdown.String()),
			})
		}
	}

	return violations, nil
}

func severityFor(current, limit decimal.Decimal) types.Severity {
	if current.GreaterThan(limit.Mul(decimal.NewFromFloat(1.5))) {
		return types.SeverityHigh
	}
	return types.SeverityMedium
}

// GetPerformance derives the performance block from the snapshot history and
// the trade log. A positive timeframe restricts the history window.
func (m *Manager) GetPerformance(ctx context.Context, portfolioID string, timeframe time.Duration) (calc.PerformanceMetrics, error) {
	portfolio, err := m.GetPortfolio(portfolioID)
	if err != nil {
		return calc.PerformanceMetrics{}, err
	}
	snapshots, err := m.tracker.GetSnapshots(ctx, portfolioID, storage.ListOptions{})
	if err != nil {
		return calc.PerformanceMetrics{}, err
	}
	return m.calculator.Performance(snapshots, portfolio.Trades, m.clk.Now(), timeframe), nil
}

// GetRisk derives the risk block from the current positions and the snapshot
// history.
func (m *Manager) GetRisk(ctx context.Context, portfolioID string) (calc.RiskMetrics, error) {
	portfolio, err := m.GetPortfolio(portfolioID)
	if err != nil {
		return calc.RiskMetrics{}, err
	}
	snapshots, err := m.tracker.GetSnapshots(ctx, portfolioID, storage.ListOptions{})
	if err != nil {
		return calc.RiskMetrics{}, err
	}
	return m.calculator.Risk(portfolio.Positions, snapshots), nil
}

// CleanupSnapshots applies the retention policy to one portfolio's history.
func (m *Manager) CleanupSnapshots(ctx context.Context, portfolioID string, retentionDays int) (int, error) {
	if _, err := m.requirePortfolio(portfolioID); err != nil {
		return 0, err
	}
	return m.tracker.CleanupSnapshots(ctx, portfolioID, retentionDays)
}
