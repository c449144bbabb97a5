package calc

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/types"
)

func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func snapshotSeries(start time.Time, step time.Duration, values ...float64) []*models.Snapshot {
	out := make([]*models.Snapshot, len(values))
	for i, v := range values {
		out[i] = &models.Snapshot{
			ID:          "snap",
			PortfolioID: "p1",
			Timestamp:   start.Add(time.Duration(i) * step),
			TotalValue:  dec(v),
		}
	}
	return out
}

func TestValuePosition(t *testing.T) {
	c := New(nil, 0.02)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	pos := &models.Position{
		Token:  "0xabc",
		Symbol: "ABC",
		Amount: dec(10),
	}

	valued := c.ValuePosition(pos, dec(5), now)
	assert.True(t, valued.Value.Equal(dec(50)))
	assert.True(t, valued.CurrentPrice.Equal(dec(5)))
	assert.Equal(t, now, valued.LastUpdated)
	// Input must not be mutated.
	assert.True(t, pos.Value.IsZero())
}

func TestTotalPortfolioValue(t *testing.T) {
	c := New(nil, 0.02)
	positions := map[string]*models.Position{
		"0xa": {Value: dec(30)},
		"0xb": {Value: dec(20)},
	}
	total := c.TotalPortfolioValue(positions, dec(50))
	assert.True(t, total.Equal(dec(100)))
}

func TestMaxDrawdown(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snaps := snapshotSeries(start, 24*time.Hour, 100, 120, 90, 110)

	// Peak 120, trough 90: (120-90)/120 = 25%.
	assert.InDelta(t, 25.0, maxDrawdown(snaps), 1e-9)
}

func TestPerformanceDegenerate(t *testing.T) {
	c := New(nil, 0.02)
	now := time.Now().UTC()

	zero := c.Performance(nil, nil, now, 0)
	assert.Equal(t, PerformanceMetrics{TotalReturn: decimal.Zero}, zero)

	one := snapshotSeries(now, time.Hour, 100)
	zero = c.Performance(one, nil, now, 0)
	assert.Zero(t, zero.TotalReturnPercent)
	assert.Zero(t, zero.MaxDrawdown)
	assert.Zero(t, zero.Trades.TotalTrades)
}

func TestPerformanceBasic(t *testing.T) {
	c := New(nil, 0.02)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snaps := snapshotSeries(start, 24*time.Hour, 100, 105, 110)
	now := snaps[len(snaps)-1].Timestamp

	m := c.Performance(snaps, nil, now, 0)
	assert.True(t, m.TotalReturn.Equal(dec(10)))
	assert.InDelta(t, 10.0, m.TotalReturnPercent, 1e-9)
	// 2 elapsed days: 10% * 365/2.
	assert.InDelta(t, 1825.0, m.AnnualizedReturn, 1e-9)
	// 1d lookback reaches the middle snapshot: (110-105)/105.
	assert.InDelta(t, 100*5.0/105.0, m.Change1dPercent, 1e-9)
	// History does not reach back 30 days.
	assert.Zero(t, m.Change30dPercent)
	// All positive daily returns: Sortino degrades to the sentinel.
	assert.Equal(t, largeSentinel, m.SortinoRatio)
}

func TestPerformanceSharpeZeroVolatility(t *testing.T) {
	c := New(nil, 0.02)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snaps := snapshotSeries(start, 24*time.Hour, 100, 100, 100)

	m := c.Performance(snaps, nil, snaps[2].Timestamp, 0)
	assert.Zero(t, m.Volatility)
	assert.Zero(t, m.SharpeRatio)
}

func ptrDec(v float64) *decimal.Decimal {
	d := dec(v)
	return &d
}

func TestTradeMetrics(t *testing.T) {
	entry := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	exit := entry.Add(48 * time.Hour)

	trades := []*models.Trade{
		{RealizedPnL: ptrDec(10), EntryTime: &entry, ExitTime: &exit},
		{RealizedPnL: ptrDec(20)},
		{RealizedPnL: ptrDec(-5)},
		{RealizedPnL: ptrDec(-5)},
		{RealizedPnL: ptrDec(0)},
		{RealizedPnL: ptrDec(30)},
		{}, // open trade, not closed
	}

	m := tradeMetrics(trades)
	assert.Equal(t, 7, m.TotalTrades)
	assert.Equal(t, 6, m.ClosedTrades)
	assert.Equal(t, 3, m.Wins)
	assert.Equal(t, 2, m.Losses)
	assert.InDelta(t, 0.5, m.WinRate, 1e-9)
	assert.InDelta(t, 6.0, m.ProfitFactor, 1e-9) // 60 / 10
	assert.InDelta(t, 20.0, m.AvgWin, 1e-9)
	assert.InDelta(t, 5.0, m.AvgLoss, 1e-9)
	assert.Equal(t, 2, m.LongestWinStreak)
	assert.Equal(t, 2, m.LongestLossStreak)
	assert.InDelta(t, 2.0, m.AvgHoldingDays, 1e-9)
}

func TestProfitFactorSentinel(t *testing.T) {
	trades := []*models.Trade{{RealizedPnL: ptrDec(10)}}
	m := tradeMetrics(trades)
	assert.Equal(t, largeSentinel, m.ProfitFactor)

	assert.Zero(t, tradeMetrics(nil).ProfitFactor)
}

func TestHerfindahl(t *testing.T) {
	single := map[string]*models.Position{
		"0xa": {Value: dec(100)},
	}
	assert.InDelta(t, 1.0, herfindahl(single), 1e-9)

	equal := map[string]*models.Position{
		"0xa": {Value: dec(20)},
		"0xb": {Value: dec(20)},
		"0xc": {Value: dec(20)},
		"0xd": {Value: dec(20)},
		"0xe": {Value: dec(20)},
	}
	assert.InDelta(t, 0.2, herfindahl(equal), 1e-9)
}

func TestDiversificationScore(t *testing.T) {
	assert.Zero(t, diversificationScore(nil))

	// Perfectly equal weights: base 100, capped at 100 after the bonus.
	equal := map[string]*models.Position{
		"0xa": {Value: dec(50)},
		"0xb": {Value: dec(50)},
	}
	assert.InDelta(t, 100.0, diversificationScore(equal), 1e-9)
}

func TestRiskDegenerate(t *testing.T) {
	c := New(nil, 0.02)
	m := c.Risk(nil, nil)
	assert.Zero(t, m.VaR95)
	assert.Zero(t, m.CVaR95)
	assert.Zero(t, m.Concentration)
	assert.Zero(t, m.DiversificationScore)
}

func TestRiskVaR(t *testing.T) {
	c := New(nil, 0.02)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Daily returns: +10%, -5%, +2%, -1%.
	snaps := snapshotSeries(start, 24*time.Hour, 100, 110, 104.5, 106.59, 105.5241)

	m := c.Risk(nil, snaps)
	// n=4 returns, idx floor(0.05*4)=0: the worst return.
	assert.InDelta(t, -0.05, m.VaR95, 1e-9)
	// Nothing strictly below the worst return: CVaR falls back to VaR.
	assert.InDelta(t, m.VaR95, m.CVaR95, 1e-9)
}

func TestAssetAllocation(t *testing.T) {
	c := New(nil, 0.02)
	positions := map[string]*models.Position{
		"0xa": {Symbol: "AAA", Value: dec(60)},
		"0xb": {Symbol: "BBB", Value: dec(30)},
		"0xc": {Symbol: "CCC", Value: dec(10)},
	}
	targets := map[string]decimal.Decimal{
		"0xa": dec(30),
		"0xb": dec(30),
		"0xc": dec(10),
		"0xd": dec(30),
	}

	rows := c.AssetAllocation(positions, dec(100), targets)
	require.Len(t, rows, 4)

	// Largest misallocations first: 0xa is +30 over, 0xd is -30 under.
	assert.Equal(t, "0xa", rows[0].Token)
	assert.Equal(t, types.ActionSell, rows[0].Action)
	assert.Equal(t, "0xd", rows[1].Token)
	assert.Equal(t, types.ActionBuy, rows[1].Action)

	for _, row := range rows[2:] {
		assert.Equal(t, types.ActionHold, row.Action)
	}

	// Ordering is non-increasing by absolute deviation.
	for i := 1; i < len(rows); i++ {
		assert.False(t, rows[i].Deviation.Abs().GreaterThan(rows[i-1].Deviation.Abs()))
	}
}

func TestMemoryPriceCacheTTL(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryPriceCache(time.Minute)

	require.NoError(t, cache.Set(ctx, "0xa", dec(5), 20*time.Millisecond))

	price, ok, err := cache.Get(ctx, "0xa")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, price.Equal(dec(5)))

	time.Sleep(40 * time.Millisecond)

	_, ok, err = cache.Get(ctx, "0xa")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must read as a miss")
	assert.Zero(t, cache.Len(), "expired entry is lazily evicted on read")
}
