package manager

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/portfolio-ledger/internal/errors"
	"github.com/portfolio-ledger/internal/events"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/types"
)

// TradeRequest describes one buy or sell to book against the ledger.
type TradeRequest struct {
	Token     string               `json:"token"`
	Symbol    string               `json:"symbol"`
	Direction types.TradeDirection `json:"direction"`
	Amount    decimal.Decimal      `json:"amount"`
	Price     decimal.Decimal      `json:"price"`
	FeeRate   decimal.Decimal      `json:"feeRate"` // fraction of notional, e.g. 0.003
}

// InitialPosition seeds a holding that predates the ledger. It does not touch
// cash and does not count toward the portfolio's lifetime bought totals.
type InitialPosition struct {
	Token  string          `json:"token"`
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"`
	Price  decimal.Decimal `json:"price"`
}

func (m *Manager) validateTradeRequest(chain types.ChainID, req *TradeRequest) error {
	if !types.IsValidToken(chain, req.Token) {
		return errors.NewValidationError("token", "malformed address for chain "+string(chain))
	}
	if req.Direction != types.DirectionBuy && req.Direction != types.DirectionSell {
		return errors.NewValidationError("direction", "must be buy or sell")
	}
	if !req.Amount.IsPositive() {
		return errors.NewValidationError("amount", "must be positive")
	}
	if !req.Price.IsPositive() {
		return errors.NewValidationError("price", "must be positive")
	}
	if req.FeeRate.IsNegative() {
		return errors.NewValidationError("feeRate", "must not be negative")
	}
	return nil
}

// ExecuteTrade books one buy or sell. The operation is all-or-nothing: a
// rejected trade leaves cash and positions exactly as they were, and only
// appends a failed trade record for audit. Every call, successful or not,
// triggers a snapshot.
func (m *Manager) ExecuteTrade(ctx context.Context, portfolioID string, req TradeRequest) (*models.Trade, error) {
	portfolio, err := m.requirePortfolio(portfolioID)
	if err != nil {
		return nil, err
	}
	if err := m.validateTradeRequest(portfolio.Config.Chain, &req); err != nil {
		return nil, err
	}

	lock := m.lockFor(portfolioID)
	lock.Lock()
	defer lock.Unlock()

	if portfolio.Status != types.StatusActive {
		return nil, errors.NewValidationError("portfolio", "is archived")
	}

	now := m.clk.Now()
	token := types.NormalizeToken(portfolio.Config.Chain, req.Token)
	notional := req.Amount.Mul(req.Price)
	fee := notional.Mul(req.FeeRate)

	trade := &models.Trade{
		ID:          uuid.New().String(),
		PortfolioID: portfolioID,
		Timestamp:   now,
		Token:       token,
		Symbol:      req.Symbol,
		Direction:   req.Direction,
		Amount:      req.Amount,
		Price:       req.Price,
		Value:       notional,
		Fee:         fee,
		Status:      types.TradeStatusExecuted,
		EntryTime:   &now,
	}

	var rejection *errors.LedgerError
	switch req.Direction {
	case types.DirectionBuy:
		rejection = m.applyBuy(portfolio, trade, token, notional, fee)
	case types.DirectionSell:
		rejection = m.applySell(portfolio, trade, token, notional, fee)
	}

	if rejection != nil {
		trade.Status = types.TradeStatusFailed
		trade.FailReason = rejection.Message
	}
	portfolio.Trades = append(portfolio.Trades, trade)
	m.refreshTotals(portfolio, now)

	m.snapshot(ctx, portfolio)
	m.publish(events.Event{
		Type:        events.PositionUpdated,
		PortfolioID: portfolioID,
		Timestamp:   now,
		Payload: map[string]interface{}{
			"tradeId":   trade.ID,
			"token":     token,
			"direction": string(req.Direction),
			"status":    string(trade.Status),
		},
	})

	if rejection != nil {
		m.log.WithFields(map[string]interface{}{
			"portfolioId": portfolioID,
			"token":       token,
			"code":        rejection.Code,
		}).Warn("trade rejected")
		return trade, rejection
	}
	return trade, nil
}

// UpdatePosition is the second, functionally equivalent entry point for
// booking a trade, kept for callers that think in position terms.
func (m *Manager) UpdatePosition(ctx context.Context, portfolioID string, req TradeRequest) (*models.Trade, error) {
	return m.ExecuteTrade(ctx, portfolioID, req)
}

// applyBuy debits cash and folds the fill into the position at the
// weighted-average entry price. Caller holds the portfolio lock.
func (m *Manager) applyBuy(portfolio *models.Portfolio, trade *models.Trade, token string, notional, fee decimal.Decimal) *errors.LedgerError {
	cost := notional.Add(fee)
	if portfolio.CashBalance.LessThan(cost) {
		return errors.NewInsufficientCashError(cost.String(), portfolio.CashBalance.String())
	}

	portfolio.CashBalance = portfolio.CashBalance.Sub(cost)

	pos, held := portfolio.Positions[token]
	if !held {
		pos = &models.Position{
			Token:    token,
			Symbol:   trade.Symbol,
			AvgPrice: trade.Price,
		}
		portfolio.Positions[token] = pos
	} else {
		// newAvg = (oldAmt*oldAvg + amt*price) / (oldAmt + amt)
		newAmount := pos.Amount.Add(trade.Amount)
		pos.AvgPrice = pos.Amount.Mul(pos.AvgPrice).Add(notional).Div(newAmount)
	}
	pos.Amount = pos.Amount.Add(trade.Amount)
	pos.CurrentPrice = trade.Price
	pos.Value = pos.Amount.Mul(trade.Price)
	pos.TotalBought = pos.TotalBought.Add(trade.Amount)
	pos.TotalCost = pos.TotalCost.Add(notional)
	pos.TradeCount++
	pos.LastUpdated = trade.Timestamp
	if trade.Symbol != "" {
		pos.Symbol = trade.Symbol
	}
	return nil
}

// applySell credits cash net of fee and reduces the amount; the average entry
// price is never changed by a sell. Caller holds the portfolio lock.
func (m *Manager) applySell(portfolio *models.Portfolio, trade *models.Trade, token string, notional, fee decimal.Decimal) *errors.LedgerError {
	pos, held := portfolio.Positions[token]
	if !held || pos.Amount.LessThan(trade.Amount) {
		heldAmount := decimal.Zero
		if held {
			heldAmount = pos.Amount
		}
		return errors.NewInsufficientPositionError(token, trade.Amount.String(), heldAmount.String())
	}

	portfolio.CashBalance = portfolio.CashBalance.Add(notional.Sub(fee))

	pos.Amount = pos.Amount.Sub(trade.Amount)
	if pos.Amount.LessThanOrEqual(positionEpsilon) {
		delete(portfolio.Positions, token)
		return nil
	}
	pos.CurrentPrice = trade.Price
	pos.Value = pos.Amount.Mul(trade.Price)
	pos.TradeCount++
	pos.LastUpdated = trade.Timestamp
	return nil
}

// SetInitialPositions seeds holdings that existed before the portfolio was
// tracked. Cash is untouched and lifetime bought totals stay zero; the
// portfolio total grows by the seeded value.
func (m *Manager) SetInitialPositions(ctx context.Context, portfolioID string, positions []InitialPosition) error {
	portfolio, err := m.requirePortfolio(portfolioID)
	if err != nil {
		return err
	}

	for _, p := range positions {
		if !types.IsValidToken(portfolio.Config.Chain, p.Token) {
			return errors.NewValidationError("token", "malformed address for chain "+string(portfolio.Config.Chain))
		}
		if !p.Amount.IsPositive() || !p.Price.IsPositive() {
			return errors.NewValidationError("position", "amount and price must be positive")
		}
	}

	lock := m.lockFor(portfolioID)
	lock.Lock()
	defer lock.Unlock()

	if portfolio.Status != types.StatusActive {
		return errors.NewValidationError("portfolio", "is archived")
	}

	now := m.clk.Now()
	for _, p := range positions {
		token := types.NormalizeToken(portfolio.Config.Chain, p.Token)
		portfolio.Positions[token] = &models.Position{
			Token:        token,
			Symbol:       p.Symbol,
			Amount:       p.Amount,
			AvgPrice:     p.Price,
			CurrentPrice: p.Price,
			Value:        p.Amount.Mul(p.Price),
			LastUpdated:  now,
		}
	}
	m.refreshTotals(portfolio, now)

	m.snapshot(ctx, portfolio)
	m.publish(events.Event{
		Type:        events.PositionUpdated,
		PortfolioID: portfolioID,
		Timestamp:   now,
		Payload: map[string]interface{}{
			"seeded": len(positions),
		},
	})
	return nil
}

// AttachPnL stores an externally computed PnL block on a position. The ledger
// forwards these numbers; it never derives them.
func (m *Manager) AttachPnL(ctx context.Context, portfolioID, token string, pnl models.PnLBlock) error {
	portfolio, err := m.requirePortfolio(portfolioID)
	if err != nil {
		return err
	}

	lock := m.lockFor(portfolioID)
	lock.Lock()
	defer lock.Unlock()

	token = types.NormalizeToken(portfolio.Config.Chain, token)
	pos, held := portfolio.Positions[token]
	if !held {
		return errors.NewNotFoundError("position", token)
	}
	block := pnl
	if block.UpdatedAt.IsZero() {
		block.UpdatedAt = m.clk.Now()
	}
	pos.PnL = &block
	return nil
}
