// Package models defines the persistent data model of the portfolio ledger.
package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-ledger/internal/types"
)

// RiskConfig holds the per-portfolio risk and rebalance configuration.
type RiskConfig struct {
	Chain              types.ChainID              `json:"chain"`
	TargetAllocation   map[string]decimal.Decimal `json:"targetAllocation,omitempty"` // token -> target percent
	RebalanceThreshold decimal.Decimal            `json:"rebalanceThreshold"`         // percentage points
	MaxPositionSize    decimal.Decimal            `json:"maxPositionSize"`            // percent of total value
	MaxDrawdown        decimal.Decimal            `json:"maxDrawdown"`                // percent
	StopLossPercent    decimal.Decimal            `json:"stopLossPercent"`
	TakeProfitPercent  decimal.Decimal            `json:"takeProfitPercent"`
}

// Portfolio is the canonical ledger state for one tracked strategy or account.
// Invariant: CashBalance plus the sum of position values equals TotalValue.
type Portfolio struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	Status         types.PortfolioStatus `json:"status"`
	CashBalance    decimal.Decimal       `json:"cashBalance"`
	InitialBalance decimal.Decimal       `json:"initialBalance"`
	TotalValue     decimal.Decimal       `json:"totalValue"`
	Positions      map[string]*Position  `json:"positions"` // keyed by normalized token address
	Trades         []*Trade              `json:"trades"`
	Config         RiskConfig            `json:"config"`
	CreatedAt      time.Time             `json:"createdAt"`
	UpdatedAt      time.Time             `json:"updatedAt"`
}

// Clone returns a deep copy of the portfolio. Trade records are immutable and
// shared; positions and the target allocation map are copied.
func (p *Portfolio) Clone() *Portfolio {
	cp := *p
	cp.Positions = make(map[string]*Position, len(p.Positions))
	for token, pos := range p.Positions {
		cp.Positions[token] = pos.Clone()
	}
	cp.Trades = append([]*Trade(nil), p.Trades...)
	if p.Config.TargetAllocation != nil {
		cp.Config.TargetAllocation = make(map[string]decimal.Decimal, len(p.Config.TargetAllocation))
		for token, target := range p.Config.TargetAllocation {
			cp.Config.TargetAllocation[token] = target
		}
	}
	return &cp
}

// PositionValuesSum returns the sum of all current position values.
func (p *Portfolio) PositionValuesSum() decimal.Decimal {
	sum := decimal.Zero
	for _, pos := range p.Positions {
		sum = sum.Add(pos.Value)
	}
	return sum
}
