package manager

import (
	"context"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"github.com/portfolio-ledger/internal/errors"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/types"
)

var propTokens = []string{tokenX, tokenY, tokenZ}

type tradeOp struct {
	Buy      bool
	TokenIdx int
	Amount   int
	Price    int
}

func genTradeOp() gopter.Gen {
	return gen.Struct(reflect.TypeOf(tradeOp{}), map[string]gopter.Gen{
		"Buy":      gen.Bool(),
		"TokenIdx": gen.IntRange(0, len(propTokens)-1),
		"Amount":   gen.IntRange(1, 50),
		"Price":    gen.IntRange(1, 20),
	})
}

func (op tradeOp) request() TradeRequest {
	direction := types.DirectionSell
	if op.Buy {
		direction = types.DirectionBuy
	}
	return TradeRequest{
		Token:     propTokens[op.TokenIdx],
		Direction: direction,
		Amount:    decimal.NewFromInt(int64(op.Amount)),
		Price:     decimal.NewFromInt(int64(op.Price)),
	}
}

func conserved(pf *models.Portfolio) bool {
	return pf.TotalValue.Equal(pf.CashBalance.Add(pf.PositionValuesSum()))
}

// For any sequence of trades, cash plus position values reconciles to the
// total after every operation, cash never goes negative, and a rejected trade
// leaves cash and positions exactly as they were.
func TestTradeSequenceProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("conservation and no negative state", prop.ForAll(
		func(ops []tradeOp) bool {
			ctx := context.Background()
			env := newTestEnv(t)
			pf := env.createPortfolio(t, "10000")

			for _, op := range ops {
				before, err := env.manager.GetPortfolio(pf.ID)
				if err != nil {
					return false
				}
				_, tradeErr := env.manager.ExecuteTrade(ctx, pf.ID, op.request())

				after, err := env.manager.GetPortfolio(pf.ID)
				if err != nil {
					return false
				}
				if !conserved(after) {
					return false
				}
				if after.CashBalance.IsNegative() {
					return false
				}
				for _, pos := range after.Positions {
					if pos.Amount.IsNegative() {
						return false
					}
				}
				if tradeErr != nil {
					if !errors.IsTradeRejection(tradeErr) {
						return false
					}
					// rejected call: cash and positions unchanged
					if !after.CashBalance.Equal(before.CashBalance) {
						return false
					}
					if len(after.Positions) != len(before.Positions) {
						return false
					}
					for token, pos := range before.Positions {
						got, ok := after.Positions[token]
						if !ok || !got.Amount.Equal(pos.Amount) || !got.AvgPrice.Equal(pos.AvgPrice) {
							return false
						}
					}
				}
			}
			return true
		},
		gen.SliceOf(genTradeOp()),
	))

	properties.TestingRun(t)
}

// Buying a1 at p1 then a2 at p2 always yields the size-weighted average entry
// price, and a partial sell reduces only the amount.
func TestCostBasisProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("weighted-average cost basis", prop.ForAll(
		func(a1, p1, a2, p2, sellPct int) bool {
			ctx := context.Background()
			env := newTestEnv(t)
			pf := env.createPortfolio(t, "1000000")

			amt1 := decimal.NewFromInt(int64(a1))
			amt2 := decimal.NewFromInt(int64(a2))
			price1 := decimal.NewFromInt(int64(p1))
			price2 := decimal.NewFromInt(int64(p2))

			if _, err := env.manager.ExecuteTrade(ctx, pf.ID, TradeRequest{
				Token: tokenX, Direction: types.DirectionBuy, Amount: amt1, Price: price1,
			}); err != nil {
				return false
			}
			if _, err := env.manager.ExecuteTrade(ctx, pf.ID, TradeRequest{
				Token: tokenX, Direction: types.DirectionBuy, Amount: amt2, Price: price2,
			}); err != nil {
				return false
			}

			got, err := env.manager.GetPortfolio(pf.ID)
			if err != nil {
				return false
			}
			pos := got.Positions[tokenX]
			want := amt1.Mul(price1).Add(amt2.Mul(price2)).Div(amt1.Add(amt2))
			if !pos.AvgPrice.Equal(want) {
				return false
			}

			// partial sell: amount shrinks, average price untouched
			sellAmount := pos.Amount.Mul(decimal.NewFromInt(int64(sellPct))).Div(decimal.NewFromInt(100))
			if !sellAmount.IsPositive() {
				return true
			}
			if _, err := env.manager.ExecuteTrade(ctx, pf.ID, TradeRequest{
				Token: tokenX, Direction: types.DirectionSell, Amount: sellAmount, Price: price2,
			}); err != nil {
				return false
			}
			got, err = env.manager.GetPortfolio(pf.ID)
			if err != nil {
				return false
			}
			pos, held := got.Positions[tokenX]
			if !held {
				// fully exited within epsilon
				return sellPct >= 100
			}
			return pos.AvgPrice.Equal(want)
		},
		gen.IntRange(1, 1000),
		gen.IntRange(1, 100),
		gen.IntRange(1, 1000),
		gen.IntRange(1, 100),
		gen.IntRange(1, 99),
	))

	properties.TestingRun(t)
}
