// Package calc implements the valuation and statistics calculator: pure
// numeric derivations over positions, snapshots and trades, plus a small
// price cache for callers. Ledger quantities are decimal; derived statistics
// (ratios, percentages) are float64.
package calc

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-ledger/internal/models"
)

// largeSentinel stands in for an unbounded ratio (Sortino with no downside,
// profit factor with no losses).
const largeSentinel = 9999.0

// Calculator performs all numeric derivations. It holds no mutable cross-call
// state beyond the price cache.
type Calculator struct {
	prices       PriceCache
	riskFreeRate float64 // annual, fractional
}

// New creates a calculator backed by the given price cache.
func New(prices PriceCache, riskFreeRate float64) *Calculator {
	if prices == nil {
		prices = NewMemoryPriceCache(DefaultPriceTTL)
	}
	return &Calculator{prices: prices, riskFreeRate: riskFreeRate}
}

// Prices returns the calculator's price cache.
func (c *Calculator) Prices() PriceCache {
	return c.prices
}

// ValuePosition returns a copy of the position revalued at currentPrice.
func (c *Calculator) ValuePosition(pos *models.Position, currentPrice decimal.Decimal, now time.Time) *models.Position {
	out := pos.Clone()
	out.CurrentPrice = currentPrice
	out.Value = pos.Amount.Mul(currentPrice)
	out.LastUpdated = now
	return out
}

// TotalPortfolioValue returns cash plus the sum of all position values.
func (c *Calculator) TotalPortfolioValue(positions map[string]*models.Position, cash decimal.Decimal) decimal.Decimal {
	total := cash
	for _, pos := range positions {
		total = total.Add(pos.Value)
	}
	return total
}

// dailyReturns computes the pairwise relative change between consecutive
// snapshots, skipping pairs whose prior value is not positive. Snapshots must
// be sorted ascending by timestamp.
func dailyReturns(snapshots []*models.Snapshot) []float64 {
	if len(snapshots) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(snapshots)-1)
	for i := 1; i < len(snapshots); i++ {
		prev, _ := snapshots[i-1].TotalValue.Float64()
		cur, _ := snapshots[i].TotalValue.Float64()
		if prev > 0 {
			returns = append(returns, (cur-prev)/prev)
		}
	}
	return returns
}

// populationStdDev is the population standard deviation of values.
func populationStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}
