package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-ledger/internal/types"
)

// Trade is the immutable record of one executed (or rejected) buy or sell.
// Trades are appended to the portfolio's trade log and never mutated; failed
// trades are appended too, marked failed, for audit.
type Trade struct {
	ID          string                `json:"id"`
	PortfolioID string                `json:"portfolioId"`
	Timestamp   time.Time             `json:"timestamp"`
	Token       string                `json:"token"`
	Symbol      string                `json:"symbol"`
	Direction   types.TradeDirection  `json:"direction"`
	Amount      decimal.Decimal       `json:"amount"`
	Price       decimal.Decimal       `json:"price"`
	Value       decimal.Decimal       `json:"value"` // Amount * Price
	Fee         decimal.Decimal       `json:"fee"`
	Status      types.TradeStatus     `json:"status"`
	FailReason  string                `json:"failReason,omitempty"`
	RealizedPnL *decimal.Decimal      `json:"realizedPnl,omitempty"` // set by external accounting on close
	EntryTime   *time.Time            `json:"entryTime,omitempty"`
	ExitTime    *time.Time            `json:"exitTime,omitempty"`
}

// Closed reports whether the trade carries a realized PnL and therefore
// participates in win-rate and streak statistics.
func (t *Trade) Closed() bool {
	return t.RealizedPnL != nil
}
