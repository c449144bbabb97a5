package calc

import (
	"math"
	"sort"

	"github.com/portfolio-ledger/internal/models"
)

// RiskMetrics is the risk block derived from the current positions and the
// snapshot history.
type RiskMetrics struct {
	VaR95                float64 `json:"var95"` // historical daily VaR at 95%
	VaR99                float64 `json:"var99"`
	CVaR95               float64 `json:"cvar95"` // expected shortfall beyond VaR95
	Concentration        float64 `json:"concentration"` // Herfindahl-Hirschman index
	DiversificationScore float64 `json:"diversificationScore"` // [0,100]
}

// Risk computes the risk block. With fewer than two snapshots the return
// distribution metrics stay zero; concentration metrics only need positions.
func (c *Calculator) Risk(positions map[string]*models.Position, snapshots []*models.Snapshot) RiskMetrics {
	var m RiskMetrics

	returns := dailyReturns(snapshots)
	if len(returns) > 0 {
		sorted := append([]float64(nil), returns...)
		sort.Float64s(sorted)
		m.VaR95 = historicalVaR(sorted, 0.95)
		m.VaR99 = historicalVaR(sorted, 0.99)
		m.CVaR95 = expectedShortfall(sorted, m.VaR95)
	}

	m.Concentration = herfindahl(positions)
	m.DiversificationScore = diversificationScore(positions)
	return m
}

// historicalVaR picks the daily return at index floor((1-confidence)*n) of
// the ascending-sorted return series. No interpolation.
func historicalVaR(sortedReturns []float64, confidence float64) float64 {
	if len(sortedReturns) == 0 {
		return 0
	}
	idx := int(math.Floor((1 - confidence) * float64(len(sortedReturns))))
	if idx >= len(sortedReturns) {
		idx = len(sortedReturns) - 1
	}
	return sortedReturns[idx]
}

// expectedShortfall is the mean of returns strictly below the VaR value,
// falling back to the VaR itself when none are below.
func expectedShortfall(sortedReturns []float64, varValue float64) float64 {
	sum := 0.0
	count := 0
	for _, r := range sortedReturns {
		if r < varValue {
			sum += r
			count++
		}
	}
	if count == 0 {
		return varValue
	}
	return sum / float64(count)
}

// herfindahl is the sum of squared position weights, in [1/n, 1].
func herfindahl(positions map[string]*models.Position) float64 {
	total := 0.0
	for _, pos := range positions {
		v, _ := pos.Value.Float64()
		total += v
	}
	if total <= 0 {
		return 0
	}
	hhi := 0.0
	for _, pos := range positions {
		v, _ := pos.Value.Float64()
		w := v / total
		hhi += w * w
	}
	return hhi
}

// diversificationScore maps the average relative deviation from equal weight
// onto [0,100], then adds a per-position-count bonus of min(20, 4*n), capped
// at 100.
func diversificationScore(positions map[string]*models.Position) float64 {
	n := len(positions)
	if n == 0 {
		return 0
	}
	total := 0.0
	for _, pos := range positions {
		v, _ := pos.Value.Float64()
		total += v
	}
	if total <= 0 {
		return 0
	}

	equal := 1.0 / float64(n)
	avgDeviation := 0.0
	for _, pos := range positions {
		v, _ := pos.Value.Float64()
		w := v / total
		avgDeviation += math.Abs(w-equal) / equal
	}
	avgDeviation /= float64(n)

	score := 100 - 100*avgDeviation
	if score < 0 {
		score = 0
	}
	score += math.Min(20, 4*float64(n))
	if score > 100 {
		score = 100
	}
	return score
}
