package calc

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-ledger/internal/models"
)

// TradeMetrics summarizes the closed-trade record (trades carrying a realized
// PnL assigned by the external accounting service).
type TradeMetrics struct {
	TotalTrades       int     `json:"totalTrades"`
	ClosedTrades      int     `json:"closedTrades"`
	Wins              int     `json:"wins"`
	Losses            int     `json:"losses"`
	WinRate           float64 `json:"winRate"` // wins / closed, in [0,1]
	ProfitFactor      float64 `json:"profitFactor"`
	AvgWin            float64 `json:"avgWin"`
	AvgLoss           float64 `json:"avgLoss"`
	LongestWinStreak  int     `json:"longestWinStreak"`
	LongestLossStreak int     `json:"longestLossStreak"`
	AvgHoldingDays    float64 `json:"avgHoldingDays"`
}

// PerformanceMetrics is the full performance block derived from a snapshot
// history and a trade log.
type PerformanceMetrics struct {
	TotalReturn        decimal.Decimal `json:"totalReturn"`
	TotalReturnPercent float64         `json:"totalReturnPercent"`
	Change1dPercent    float64         `json:"change1dPercent"`
	Change7dPercent    float64         `json:"change7dPercent"`
	Change30dPercent   float64         `json:"change30dPercent"`
	Volatility         float64         `json:"volatility"`       // population std dev of daily returns
	MaxDrawdown        float64         `json:"maxDrawdown"`      // percent of peak
	AnnualizedReturn   float64         `json:"annualizedReturn"` // percent
	SharpeRatio        float64         `json:"sharpeRatio"`
	SortinoRatio       float64         `json:"sortinoRatio"`
	Trades             TradeMetrics    `json:"trades"`
}

// Performance computes the performance block. Snapshots must be sorted
// ascending by timestamp; with fewer than two snapshots the zero-value block
// is returned. A positive timeframe restricts the history to [now-timeframe,
// now].
func (c *Calculator) Performance(snapshots []*models.Snapshot, trades []*models.Trade, now time.Time, timeframe time.Duration) PerformanceMetrics {
	if timeframe > 0 {
		cutoff := now.Add(-timeframe)
		filtered := snapshots[:0:0]
		for _, s := range snapshots {
			if !s.Timestamp.Before(cutoff) {
				filtered = append(filtered, s)
			}
		}
		snapshots = filtered
	}

	if len(snapshots) < 2 {
		return PerformanceMetrics{TotalReturn: decimal.Zero}
	}

	var m PerformanceMetrics
	first, last := snapshots[0], snapshots[len(snapshots)-1]

	m.TotalReturn = last.TotalValue.Sub(first.TotalValue)
	firstVal, _ := first.TotalValue.Float64()
	lastVal, _ := last.TotalValue.Float64()
	if firstVal > 0 {
		m.TotalReturnPercent = (lastVal - firstVal) / firstVal * 100
	}

	m.Change1dPercent = lookbackChange(snapshots, now, 1)
	m.Change7dPercent = lookbackChange(snapshots, now, 7)
	m.Change30dPercent = lookbackChange(snapshots, now, 30)

	returns := dailyReturns(snapshots)
	m.Volatility = populationStdDev(returns)
	m.MaxDrawdown = maxDrawdown(snapshots)

	elapsedDays := last.Timestamp.Sub(first.Timestamp).Hours() / 24
	if elapsedDays < 1 {
		elapsedDays = 1
	}
	m.AnnualizedReturn = m.TotalReturnPercent * (365 / elapsedDays)

	excess := m.AnnualizedReturn - c.riskFreeRate*100
	if m.Volatility > 0 {
		m.SharpeRatio = excess / m.Volatility
	}
	m.SortinoRatio = sortino(excess, returns)

	m.Trades = tradeMetrics(trades)
	return m
}

// lookbackChange returns the percentage change between the latest snapshot and
// the nearest snapshot at or before now minus the given number of days, or 0
// when the history does not reach back that far.
func lookbackChange(snapshots []*models.Snapshot, now time.Time, days int) float64 {
	cutoff := now.AddDate(0, 0, -days)
	var base *models.Snapshot
	for _, s := range snapshots {
		if s.Timestamp.After(cutoff) {
			break
		}
		base = s
	}
	if base == nil {
		return 0
	}
	baseVal, _ := base.TotalValue.Float64()
	lastVal, _ := snapshots[len(snapshots)-1].TotalValue.Float64()
	if baseVal <= 0 {
		return 0
	}
	return (lastVal - baseVal) / baseVal * 100
}

// maxDrawdown returns the largest peak-to-trough decline over the ascending
// snapshot series, as a percentage of the peak.
func maxDrawdown(snapshots []*models.Snapshot) float64 {
	peak := 0.0
	worst := 0.0
	for _, s := range snapshots {
		v, _ := s.TotalValue.Float64()
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst * 100
}

// sortino divides the excess return by the standard deviation of negative
// daily returns only. With no negative returns it degrades to the large
// sentinel for positive excess returns, else 0.
func sortino(excess float64, returns []float64) float64 {
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) == 0 {
		if excess > 0 {
			return largeSentinel
		}
		return 0
	}
	dev := populationStdDev(downside)
	if dev == 0 {
		return 0
	}
	return excess / dev
}

// tradeMetrics derives win/loss statistics from the closed trades in the log,
// iterated in log (chronological) order.
func tradeMetrics(trades []*models.Trade) TradeMetrics {
	m := TradeMetrics{TotalTrades: len(trades)}

	var (
		sumWins, sumLosses     float64
		winStreak, lossStreak  int
		holdingDays            float64
		holdingCount           int
	)

	for _, t := range trades {
		if t.EntryTime != nil && t.ExitTime != nil {
			holdingDays += t.ExitTime.Sub(*t.EntryTime).Hours() / 24
			holdingCount++
		}
		if !t.Closed() {
			continue
		}
		m.ClosedTrades++
		pnl, _ := t.RealizedPnL.Float64()
		switch {
		case pnl > 0:
			m.Wins++
			sumWins += pnl
			winStreak++
			lossStreak = 0
		case pnl < 0:
			m.Losses++
			sumLosses += -pnl
			lossStreak++
			winStreak = 0
		default:
			// Flat trades count as neither and break both streaks.
			winStreak = 0
			lossStreak = 0
		}
		if winStreak > m.LongestWinStreak {
			m.LongestWinStreak = winStreak
		}
		if lossStreak > m.LongestLossStreak {
			m.LongestLossStreak = lossStreak
		}
	}

	if m.ClosedTrades > 0 {
		m.WinRate = float64(m.Wins) / float64(m.ClosedTrades)
	}
	switch {
	case sumLosses > 0:
		m.ProfitFactor = sumWins / sumLosses
	case sumWins > 0:
		m.ProfitFactor = largeSentinel
	}
	if m.Wins > 0 {
		m.AvgWin = sumWins / float64(m.Wins)
	}
	if m.Losses > 0 {
		m.AvgLoss = sumLosses / float64(m.Losses)
	}
	if holdingCount > 0 {
		m.AvgHoldingDays = holdingDays / float64(holdingCount)
	}
	return m
}
