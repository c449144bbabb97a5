package calc

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/types"
)

// holdBand is the allocation tolerance, in percentage points, inside which no
// rebalancing action is recommended.
var holdBand = decimal.NewFromInt(5)

// AllocationRow describes one token's share of the portfolio against its
// target.
type AllocationRow struct {
	Token          string                `json:"token"`
	Symbol         string                `json:"symbol"`
	Value          decimal.Decimal       `json:"value"`
	CurrentPercent decimal.Decimal       `json:"currentPercent"`
	TargetPercent  decimal.Decimal       `json:"targetPercent"`
	Deviation      decimal.Decimal       `json:"deviation"` // current - target, percentage points
	Action         types.RebalanceAction `json:"action"`
}

// AssetAllocation builds the per-token allocation table. Rows are sorted by
// absolute deviation descending; rebalance prioritization depends on this
// ordering.
func (c *Calculator) AssetAllocation(positions map[string]*models.Position, totalValue decimal.Decimal, targets map[string]decimal.Decimal) []AllocationRow {
	rows := make([]AllocationRow, 0, len(positions))
	hundred := decimal.NewFromInt(100)

	for token, pos := range positions {
		row := AllocationRow{
			Token:  token,
			Symbol: pos.Symbol,
			Value:  pos.Value,
		}
		if totalValue.IsPositive() {
			row.CurrentPercent = pos.Value.Div(totalValue).Mul(hundred)
		}
		if target, ok := targets[token]; ok {
			row.TargetPercent = target
		}
		row.Deviation = row.CurrentPercent.Sub(row.TargetPercent)

		switch {
		case row.Deviation.Abs().LessThanOrEqual(holdBand):
			row.Action = types.ActionHold
		case row.Deviation.IsPositive():
			row.Action = types.ActionSell
		default:
			row.Action = types.ActionBuy
		}
		rows = append(rows, row)
	}

	// Targets for tokens not currently held still need a buy row.
	for token, target := range targets {
		if _, held := positions[token]; held || !target.IsPositive() {
			continue
		}
		row := AllocationRow{
			Token:         token,
			TargetPercent: target,
			Deviation:     target.Neg(),
		}
		if row.Deviation.Abs().LessThanOrEqual(holdBand) {
			row.Action = types.ActionHold
		} else {
			row.Action = types.ActionBuy
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Deviation.Abs().GreaterThan(rows[j].Deviation.Abs())
	})
	return rows
}
