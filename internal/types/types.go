// Package types provides common type definitions for the portfolio ledger system.
package types

// ChainID represents supported blockchain networks
type ChainID string

const (
	// ChainEthereum represents the Ethereum mainnet
	ChainEthereum ChainID = "ethereum"
	// ChainPolygon represents the Polygon network
	ChainPolygon ChainID = "polygon"
	// ChainArbitrum represents the Arbitrum network
	ChainArbitrum ChainID = "arbitrum"
	// ChainBase represents the Base network
	ChainBase ChainID = "base"
	// ChainBNB represents the BNB Chain (BSC)
	ChainBNB ChainID = "bnb"
	// ChainSolana represents the Solana network
	ChainSolana ChainID = "solana"
)

// TradeDirection represents the side of an executed trade
type TradeDirection string

const (
	// DirectionBuy represents a buy trade
	DirectionBuy TradeDirection = "buy"
	// DirectionSell represents a sell trade
	DirectionSell TradeDirection = "sell"
)

// TradeStatus represents trade execution status
type TradeStatus string

const (
	// TradeStatusExecuted represents a successfully booked trade
	TradeStatusExecuted TradeStatus = "executed"
	// TradeStatusFailed represents a rejected trade kept for audit
	TradeStatusFailed TradeStatus = "failed"
)

// PortfolioStatus represents the lifecycle state of a portfolio
type PortfolioStatus string

const (
	// StatusActive represents a portfolio accepting mutations
	StatusActive PortfolioStatus = "active"
	// StatusArchived represents a soft-closed portfolio
	StatusArchived PortfolioStatus = "archived"
)

// RebalanceAction represents the recommended action for an allocation row
type RebalanceAction string

const (
	// ActionHold means the allocation is within the tolerance band
	ActionHold RebalanceAction = "hold"
	// ActionBuy means the token is under-allocated
	ActionBuy RebalanceAction = "buy"
	// ActionSell means the token is over-allocated
	ActionSell RebalanceAction = "sell"
)

// Severity grades a risk limit violation
type Severity string

const (
	// SeverityMedium represents a limit breach up to 1.5x the cap
	SeverityMedium Severity = "medium"
	// SeverityHigh represents a limit breach beyond 1.5x the cap
	SeverityHigh Severity = "high"
)

// ViolationKind identifies the risk limit that was breached
type ViolationKind string

const (
	// ViolationPositionSize flags a position above the per-position allocation cap
	ViolationPositionSize ViolationKind = "position_size"
	// ViolationMaxDrawdown flags a drawdown beyond the configured maximum
	ViolationMaxDrawdown ViolationKind = "max_drawdown"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
