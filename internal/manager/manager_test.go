package manager

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-ledger/internal/calc"
	"github.com/portfolio-ledger/internal/clock"
	"github.com/portfolio-ledger/internal/config"
	"github.com/portfolio-ledger/internal/errors"
	"github.com/portfolio-ledger/internal/events"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/storage"
	"github.com/portfolio-ledger/internal/tracker"
	"github.com/portfolio-ledger/internal/types"
)

const (
	tokenX = "0x1111111111111111111111111111111111111111"
	tokenY = "0x2222222222222222222222222222222222222222"
	tokenZ = "0x3333333333333333333333333333333333333333"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type testEnv struct {
	manager *Manager
	tracker *tracker.Tracker
	clk     *clock.Sim
	bus     *events.Bus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clk := clock.NewSim(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	bus := events.NewBus()
	calculator := calc.New(calc.NewMemoryPriceCache(time.Minute), 0.02)
	tr := tracker.New(calculator, nil, bus, clk, nil, config.SnapshotConfig{MaxPerPortfolio: 1000})
	m := New(calculator, tr, bus, clk, nil, config.RiskDefaults{
		RebalanceThreshold: 5,
		MaxPositionSize:    25,
		MaxDrawdown:        20,
		StopLossPercent:    10,
		TakeProfitPercent:  50,
	})
	return &testEnv{manager: m, tracker: tr, clk: clk, bus: bus}
}

func (e *testEnv) createPortfolio(t *testing.T, cash string) *models.Portfolio {
	t.Helper()
	pf, err := e.manager.CreatePortfolio(context.Background(), "momentum", dec(cash), models.RiskConfig{
		Chain: types.ChainEthereum,
	})
	require.NoError(t, err)
	return pf
}

func (e *testEnv) buy(t *testing.T, portfolioID, token, amount, price string) *models.Trade {
	t.Helper()
	trade, err := e.manager.ExecuteTrade(context.Background(), portfolioID, TradeRequest{
		Token:     token,
		Symbol:    "TKN",
		Direction: types.DirectionBuy,
		Amount:    dec(amount),
		Price:     dec(price),
	})
	require.NoError(t, err)
	return trade
}

func (e *testEnv) sell(t *testing.T, portfolioID, token, amount, price string) *models.Trade {
	t.Helper()
	trade, err := e.manager.ExecuteTrade(context.Background(), portfolioID, TradeRequest{
		Token:     token,
		Symbol:    "TKN",
		Direction: types.DirectionSell,
		Amount:    dec(amount),
		Price:     dec(price),
	})
	require.NoError(t, err)
	return trade
}

func TestCreatePortfolio(t *testing.T) {
	env := newTestEnv(t)
	pf := env.createPortfolio(t, "100")

	assert.NotEmpty(t, pf.ID)
	assert.Equal(t, types.StatusActive, pf.Status)
	assert.True(t, pf.CashBalance.Equal(dec("100")))
	assert.True(t, pf.TotalValue.Equal(dec("100")))
	assert.True(t, pf.InitialBalance.Equal(dec("100")))
	assert.True(t, pf.Config.StopLossPercent.Equal(dec("10")))
	assert.True(t, pf.Config.TakeProfitPercent.Equal(dec("50")))

	// initial snapshot captured
	assert.Equal(t, 1, env.tracker.SnapshotCount(pf.ID))

	// first portfolio becomes current
	current, err := env.manager.CurrentPortfolio()
	require.NoError(t, err)
	assert.Equal(t, pf.ID, current.ID)
}

func TestCreatePortfolioValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.manager.CreatePortfolio(ctx, "momentum", dec("100"), models.RiskConfig{})
	assert.Error(t, err)

	_, err = env.manager.CreatePortfolio(ctx, "", dec("100"), models.RiskConfig{Chain: types.ChainEthereum})
	assert.Error(t, err)

	_, err = env.manager.CreatePortfolio(ctx, "momentum", dec("0"), models.RiskConfig{Chain: types.ChainEthereum})
	assert.Error(t, err)
}

// Buy 10 units at price 5 from cash 100: cash 50, amount 10, avg 5, total 100.
func TestBuyBasic(t *testing.T) {
	env := newTestEnv(t)
	pf := env.createPortfolio(t, "100")
	env.buy(t, pf.ID, tokenX, "10", "5")

	got, err := env.manager.GetPortfolio(pf.ID)
	require.NoError(t, err)
	assert.True(t, got.CashBalance.Equal(dec("50")))
	pos := got.Positions[tokenX]
	require.NotNil(t, pos)
	assert.True(t, pos.Amount.Equal(dec("10")))
	assert.True(t, pos.AvgPrice.Equal(dec("5")))
	assert.True(t, got.TotalValue.Equal(dec("100")))
	assert.Len(t, got.Trades, 1)
	assert.Equal(t, types.TradeStatusExecuted, got.Trades[0].Status)
}

// A buy larger than available cash must be rejected and leave cash/positions untouched.
func TestBuyInsufficientCashRejected(t *testing.T) {
	env := newTestEnv(t)
	pf := env.createPortfolio(t, "100")
	env.buy(t, pf.ID, tokenX, "10", "5")

	before, err := env.manager.GetPortfolio(pf.ID)
	require.NoError(t, err)

	trade, err := env.manager.ExecuteTrade(context.Background(), pf.ID, TradeRequest{
		Token:     tokenX,
		Direction: types.DirectionBuy,
		Amount:    dec("10"),
		Price:     dec("7"),
	})
	require.Error(t, err)
	assert.True(t, errors.IsTradeRejection(err))
	require.NotNil(t, trade)
	assert.Equal(t, types.TradeStatusFailed, trade.Status)
	assert.NotEmpty(t, trade.FailReason)

	after, err := env.manager.GetPortfolio(pf.ID)
	require.NoError(t, err)
	assert.True(t, after.CashBalance.Equal(before.CashBalance))
	assert.True(t, after.TotalValue.Equal(before.TotalValue))
	pos := after.Positions[tokenX]
	require.NotNil(t, pos)
	assert.True(t, pos.Amount.Equal(dec("10")))
	assert.True(t, pos.AvgPrice.Equal(dec("5")))
	// the failed trade is still recorded
	assert.Len(t, after.Trades, 2)
	assert.Equal(t, types.TradeStatusFailed, after.Trades[1].Status)
}

// Selling 4 units at 8 from the basic buy: cash 82, amount 6, avg unchanged.
func TestSellPartial(t *testing.T) {
	env := newTestEnv(t)
	pf := env.createPortfolio(t, "100")
	env.buy(t, pf.ID, tokenX, "10", "5")
	env.sell(t, pf.ID, tokenX, "4", "8")

	got, err := env.manager.GetPortfolio(pf.ID)
	require.NoError(t, err)
	assert.True(t, got.CashBalance.Equal(dec("82")))
	pos := got.Positions[tokenX]
	require.NotNil(t, pos)
	assert.True(t, pos.Amount.Equal(dec("6")))
	assert.True(t, pos.AvgPrice.Equal(dec("5")), "sell must not change the average entry price")
	// 82 + 6*8 = 130
	assert.True(t, got.TotalValue.Equal(dec("130")))
}

func TestWeightedAverageOnSecondBuy(t *testing.T) {
	env := newTestEnv(t)
	pf := env.createPortfolio(t, "1000")
	env.buy(t, pf.ID, tokenX, "10", "5")
	env.buy(t, pf.ID, tokenX, "10", "7")

	got, err := env.manager.GetPortfolio(pf.ID)
	require.NoError(t, err)
	pos := got.Positions[tokenX]
	require.NotNil(t, pos)
	assert.True(t, pos.Amount.Equal(dec("20")))
	// (10*5 + 10*7) / 20 = 6
	assert.True(t, pos.AvgPrice.Equal(dec("6")))
	assert.True(t, pos.TotalBought.Equal(dec("20")))
	assert.True(t, pos.TotalCost.Equal(dec("120")))
	assert.Equal(t, 2, pos.TradeCount)
}

func TestSellFullExitRemovesPosition(t *testing.T) {
	env := newTestEnv(t)
	pf := env.createPortfolio(t, "100")
	env.buy(t, pf.ID, tokenX, "10", "5")
	env.sell(t, pf.ID, tokenX, "10", "6")

	got, err := env.manager.GetPortfolio(pf.ID)
	require.NoError(t, err)
	assert.NotContains(t, got.Positions, tokenX)
	assert.True(t, got.CashBalance.Equal(dec("110")))
	assert.True(t, got.TotalValue.Equal(dec("110")))
}

func TestSellMoreThanHeldRejected(t *testing.T) {
	env := newTestEnv(t)
	pf := env.createPortfolio(t, "100")
	env.buy(t, pf.ID, tokenX, "10", "5")

	_, err := env.manager.ExecuteTrade(context.Background(), pf.ID, TradeRequest{
		Token:     tokenX,
		Direction: types.DirectionSell,
		Amount:    dec("11"),
		Price:     dec("5"),
	})
	require.Error(t, err)
	assert.True(t, errors.IsTradeRejection(err))

	got, err := env.manager.GetPortfolio(pf.ID)
	require.NoError(t, err)
	assert.True(t, got.Positions[tokenX].Amount.Equal(dec("10")))
	assert.True(t, got.CashBalance.Equal(dec("50")))
}

func TestTradeFees(t *testing.T) {
	env := newTestEnv(t)
	pf := env.createPortfolio(t, "1000")

	trade, err := env.manager.ExecuteTrade(context.Background(), pf.ID, TradeRequest{
		Token:     tokenX,
		Direction: types.DirectionBuy,
		Amount:    dec("10"),
		Price:     dec("10"),
		FeeRate:   dec("0.01"),
	})
	require.NoError(t, err)
	assert.True(t, trade.Fee.Equal(dec("1")))

	got, err := env.manager.GetPortfolio(pf.ID)
	require.NoError(t, err)
	// 1000 - 100 - 1
	assert.True(t, got.CashBalance.Equal(dec("899")))

	_, err = env.manager.ExecuteTrade(context.Background(), pf.ID, TradeRequest{
		Token:     tokenX,
		Direction: types.DirectionSell,
		Amount:    dec("10"),
		Price:     dec("10"),
		FeeRate:   dec("0.01"),
	})
	require.NoError(t, err)

	got, err = env.manager.GetPortfolio(pf.ID)
	require.NoError(t, err)
	// 899 + 100 - 1
	assert.True(t, got.CashBalance.Equal(dec("998")))
}

func TestTokenNormalization(t *testing.T) {
	env := newTestEnv(t)
	pf := env.createPortfolio(t, "1000")

	upper := "0x1111111111111111111111111111111111111111"
	env.buy(t, pf.ID, "0X1111111111111111111111111111111111111111", "1", "10")
	env.buy(t, pf.ID, upper, "1", "10")

	got, err := env.manager.GetPortfolio(pf.ID)
	require.NoError(t, err)
	require.Len(t, got.Positions, 1)
	assert.True(t, got.Positions[tokenX].Amount.Equal(dec("2")))
}

func TestArchivedPortfolioRejectsTrades(t *testing.T) {
	env := newTestEnv(t)
	pf := env.createPortfolio(t, "100")
	require.NoError(t, env.manager.ArchivePortfolio(context.Background(), pf.ID))

	_, err := env.manager.ExecuteTrade(context.Background(), pf.ID, TradeRequest{
		Token:     tokenX,
		Direction: types.DirectionBuy,
		Amount:    dec("1"),
		Price:     dec("1"),
	})
	assert.Error(t, err)

	got, err := env.manager.GetPortfolio(pf.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusArchived, got.Status)
	assert.Empty(t, got.Trades)
}

func TestDeletePortfolioCascades(t *testing.T) {
	env := newTestEnv(t)
	pf := env.createPortfolio(t, "100")
	env.buy(t, pf.ID, tokenX, "1", "10")
	require.Greater(t, env.tracker.SnapshotCount(pf.ID), 0)

	require.NoError(t, env.manager.DeletePortfolio(context.Background(), pf.ID))

	_, err := env.manager.GetPortfolio(pf.ID)
	assert.True(t, errors.IsNotFound(err))
	assert.Zero(t, env.tracker.SnapshotCount(pf.ID))

	_, err = env.manager.CurrentPortfolio()
	assert.True(t, errors.IsNotFound(err))
}

func TestSetInitialPositions(t *testing.T) {
	env := newTestEnv(t)
	pf := env.createPortfolio(t, "100")

	err := env.manager.SetInitialPositions(context.Background(), pf.ID, []InitialPosition{
		{Token: tokenX, Symbol: "XXX", Amount: dec("5"), Price: dec("20")},
		{Token: tokenY, Symbol: "YYY", Amount: dec("2"), Price: dec("50")},
	})
	require.NoError(t, err)

	got, err := env.manager.GetPortfolio(pf.ID)
	require.NoError(t, err)
	// cash untouched, total grows by the seeded value
	assert.True(t, got.CashBalance.Equal(dec("100")))
	assert.True(t, got.TotalValue.Equal(dec("300")))
	pos := got.Positions[tokenX]
	require.NotNil(t, pos)
	assert.True(t, pos.TotalBought.IsZero(), "seeded holdings do not count as bought")
	assert.True(t, pos.TotalCost.IsZero())
}

func TestSnapshotPerTrade(t *testing.T) {
	env := newTestEnv(t)
	pf := env.createPortfolio(t, "1000")
	env.buy(t, pf.ID, tokenX, "1", "10")
	env.clk.Advance(time.Minute)
	env.sell(t, pf.ID, tokenX, "1", "12")

	// initial + 2 trades
	snaps, err := env.manager.GetSnapshots(context.Background(), pf.ID, storage.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, snaps, 3)
}

func TestAnalyzeRebalanceNeeds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pf, err := env.manager.CreatePortfolio(ctx, "balanced", dec("1000"), models.RiskConfig{
		Chain: types.ChainEthereum,
		TargetAllocation: map[string]decimal.Decimal{
			tokenX: dec("30"),
			tokenY: dec("30"),
		},
	})
	require.NoError(t, err)

	// 600 in X (60%), nothing in Y
	env.buy(t, pf.ID, tokenX, "60", "10")

	recs, err := env.manager.AnalyzeRebalanceNeeds(ctx, pf.ID)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	// X deviates by 30 points, Y by 30 points; X sorted first only if larger,
	// so just assert actions and priorities.
	byToken := map[string]RebalanceRecommendation{}
	for _, rec := range recs {
		byToken[rec.Token] = rec
	}
	assert.Equal(t, types.ActionSell, byToken[tokenX].Action)
	assert.Equal(t, types.ActionBuy, byToken[tokenY].Action)
	assert.Equal(t, 1, recs[0].Priority)
	assert.Equal(t, 2, recs[1].Priority)
	assert.NotEmpty(t, recs[0].Reason)
	assert.True(t, recs[0].Deviation.Abs().GreaterThanOrEqual(recs[1].Deviation.Abs()))
}

func TestExecuteRebalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pf, err := env.manager.CreatePortfolio(ctx, "balanced", dec("1000"), models.RiskConfig{
		Chain: types.ChainEthereum,
		TargetAllocation: map[string]decimal.Decimal{
			tokenX: dec("30"),
			tokenY: dec("30"),
		},
	})
	require.NoError(t, err)
	env.buy(t, pf.ID, tokenX, "60", "10")
	require.NoError(t, env.manager.calculator.Prices().Set(ctx, tokenY, dec("5"), time.Minute))

	recs, err := env.manager.AnalyzeRebalanceNeeds(ctx, pf.ID)
	require.NoError(t, err)
	trades, err := env.manager.ExecuteRebalance(ctx, pf.ID, recs)
	require.NoError(t, err)
	require.NotEmpty(t, trades)

	got, err := env.manager.GetPortfolio(pf.ID)
	require.NoError(t, err)
	// rebalance trades are real ledger entries
	assert.Greater(t, len(got.Trades), 1)
	// conservation still holds
	assert.True(t, got.TotalValue.Equal(got.CashBalance.Add(got.PositionValuesSum())))
}

func TestCheckRiskLimitsPositionSize(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pf := env.createPortfolio(t, "1000")

	// 400 of 1000 = 40% > 25% cap, above 1.5x (37.5%) -> high
	env.buy(t, pf.ID, tokenX, "40", "10")

	violations, err := env.manager.CheckRiskLimits(ctx, pf.ID)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	v := violations[0]
	assert.Equal(t, types.ViolationPositionSize, v.Kind)
	assert.Equal(t, tokenX, v.Token)
	assert.Equal(t, types.SeverityHigh, v.Severity)
	assert.NotEmpty(t, v.Message)
}

func TestCheckRiskLimitsMediumSeverity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pf := env.createPortfolio(t, "1000")

	// 300 of 1000 = 30%: above the 25% cap but below 37.5% -> medium
	env.buy(t, pf.ID, tokenX, "30", "10")

	violations, err := env.manager.CheckRiskLimits(ctx, pf.ID)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, types.SeverityMedium, violations[0].Severity)
}

func TestCheckRiskLimitsDrawdown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pf := env.createPortfolio(t, "1000")
	env.buy(t, pf.ID, tokenX, "50", "10")

	// crash the price: total value 1000 -> 550, a 45% drawdown (cap 20%)
	require.NoError(t, env.manager.calculator.Prices().Set(ctx, tokenX, dec("1"), time.Minute))
	env.clk.Advance(time.Hour)
	_, err := env.manager.CreateSnapshot(ctx, pf.ID, models.SnapshotMetadata{})
	require.NoError(t, err)

	violations, err := env.manager.CheckRiskLimits(ctx, pf.ID)
	require.NoError(t, err)

	var drawdown *RiskViolation
	for i := range violations {
		if violations[i].Kind == types.ViolationMaxDrawdown {
			drawdown = &violations[i]
		}
	}
	require.NotNil(t, drawdown)
	assert.Equal(t, types.SeverityHigh, drawdown.Severity)
	assert.NotEmpty(t, drawdown.Message)
}

func TestGetPerformanceAndRisk(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pf := env.createPortfolio(t, "1000")
	env.clk.Advance(24 * time.Hour)
	env.buy(t, pf.ID, tokenX, "10", "10")
	env.clk.Advance(24 * time.Hour)
	require.NoError(t, env.manager.calculator.Prices().Set(ctx, tokenX, dec("12"), time.Minute))
	_, err := env.manager.CreateSnapshot(ctx, pf.ID, models.SnapshotMetadata{})
	require.NoError(t, err)

	perf, err := env.manager.GetPerformance(ctx, pf.ID, 0)
	require.NoError(t, err)
	// 1000 -> 1020
	assert.True(t, perf.TotalReturn.Equal(dec("20")))
	assert.InDelta(t, 2.0, perf.TotalReturnPercent, 1e-9)

	risk, err := env.manager.GetRisk(ctx, pf.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, risk.Concentration, 1e-9, "single position is fully concentrated")
}

func TestPerformanceDegenerateHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pf := env.createPortfolio(t, "1000")

	perf, err := env.manager.GetPerformance(ctx, pf.ID, 0)
	require.NoError(t, err)
	assert.True(t, perf.TotalReturn.IsZero())
	assert.Zero(t, perf.Volatility)
	assert.Zero(t, perf.SharpeRatio)
}

func TestUnknownPortfolio(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.manager.GetPortfolio("nope")
	assert.True(t, errors.IsNotFound(err))

	_, err = env.manager.ExecuteTrade(ctx, "nope", TradeRequest{
		Token: tokenX, Direction: types.DirectionBuy, Amount: dec("1"), Price: dec("1"),
	})
	assert.True(t, errors.IsNotFound(err))

	_, err = env.manager.GetPerformance(ctx, "nope", 0)
	assert.True(t, errors.IsNotFound(err))
}

func TestSnapshotTriggerCapturesAll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pf1 := env.createPortfolio(t, "1000")
	pf2 := env.createPortfolio(t, "500")
	require.NoError(t, env.manager.ArchivePortfolio(ctx, pf2.ID))

	captured := env.manager.SnapshotAll(ctx)
	assert.Equal(t, 1, captured, "archived portfolios are skipped")
	assert.Equal(t, 2, env.tracker.SnapshotCount(pf1.ID))
	assert.Equal(t, 1, env.tracker.SnapshotCount(pf2.ID))
}
