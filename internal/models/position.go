package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PnLBlock is the realized/unrealized profit-and-loss block attached by an
// external valuation service. The ledger stores and forwards it verbatim and
// never derives these numbers itself.
type PnLBlock struct {
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
	Source        string          `json:"source,omitempty"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Position is the current holding of one token inside a portfolio.
// Amount is never negative; positions reduced to ~0 by a sell are removed
// from the portfolio rather than kept at zero.
type Position struct {
	Token        string          `json:"token"` // normalized token address
	Symbol       string          `json:"symbol"`
	Amount       decimal.Decimal `json:"amount"`
	AvgPrice     decimal.Decimal `json:"avgPrice"` // weighted-average entry price
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	Value        decimal.Decimal `json:"value"` // Amount * CurrentPrice
	TotalBought  decimal.Decimal `json:"totalBought"`
	TotalCost    decimal.Decimal `json:"totalCost"` // lifetime bought value for this portfolio
	TradeCount   int             `json:"tradeCount"`
	PnL          *PnLBlock       `json:"pnl,omitempty"`
	LastUpdated  time.Time       `json:"lastUpdated"`
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	cp := *p
	if p.PnL != nil {
		pnl := *p.PnL
		cp.PnL = &pnl
	}
	return &cp
}
