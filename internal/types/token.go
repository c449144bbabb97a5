package types

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeToken canonicalizes a token address for use as a position key.
// EVM-style hex addresses are case-insensitive and stored lowercase; other
// chains (e.g. Solana base58 mints) are case-sensitive and kept as-is.
func NormalizeToken(chain ChainID, token string) string {
	token = strings.TrimSpace(token)
	if chain == ChainSolana {
		return token
	}
	return strings.ToLower(token)
}

// IsValidToken reports whether the token address is well formed for the chain.
func IsValidToken(chain ChainID, token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	if chain == ChainSolana {
		// Base58 mint addresses are 32-44 chars.
		return len(token) >= 32 && len(token) <= 44
	}
	return common.IsHexAddress(token)
}
