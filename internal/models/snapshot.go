package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SnapshotMetadata carries the experiment context a snapshot was taken under.
type SnapshotMetadata struct {
	StrategyID   string `json:"strategyId,omitempty"`
	ExperimentID string `json:"experimentId,omitempty"`
	Version      string `json:"version,omitempty"`
}

// PerformanceBlock is the short-horizon performance summary embedded in a
// snapshot, computed from the history available at capture time.
type PerformanceBlock struct {
	TotalReturn        decimal.Decimal `json:"totalReturn"`
	TotalReturnPercent float64         `json:"totalReturnPercent"`
	Change24hPercent   float64         `json:"change24hPercent"`
	SnapshotCount      int             `json:"snapshotCount"`
}

// Snapshot is an immutable point-in-time valuation of a portfolio.
// Timestamps come from the injected clock, so backtests produce historical
// timestamps rather than wall-clock time.
type Snapshot struct {
	ID            string               `json:"id"`
	PortfolioID   string               `json:"portfolioId"`
	Timestamp     time.Time            `json:"timestamp"`
	TotalValue    decimal.Decimal      `json:"totalValue"`
	CashBalance   decimal.Decimal      `json:"cashBalance"`
	Change        decimal.Decimal      `json:"change"`        // vs previous snapshot
	ChangePercent float64              `json:"changePercent"` // vs previous snapshot
	Positions     map[string]*Position `json:"positions"`
	Performance   PerformanceBlock     `json:"performance"`
	Metadata      SnapshotMetadata     `json:"metadata"`
	CreatedAt     time.Time            `json:"createdAt"`
}
