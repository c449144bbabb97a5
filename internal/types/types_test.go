package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidToken(t *testing.T) {
	evm := "0x1111111111111111111111111111111111111111"

	assert.True(t, IsValidToken(ChainEthereum, evm))
	assert.True(t, IsValidToken(ChainPolygon, evm))
	assert.False(t, IsValidToken(ChainEthereum, ""))
	assert.False(t, IsValidToken(ChainEthereum, "0x123"))
	assert.False(t, IsValidToken(ChainEthereum, "not-an-address"))

	// Solana mints are base58, length-checked only
	assert.True(t, IsValidToken(ChainSolana, "So11111111111111111111111111111111111111112"))
	assert.False(t, IsValidToken(ChainSolana, "short"))
}

func TestNormalizeToken(t *testing.T) {
	upper := "0XABCDEF1234567890ABCDEF1234567890ABCDEF12"
	lower := "0xabcdef1234567890abcdef1234567890abcdef12"

	assert.Equal(t, lower, NormalizeToken(ChainEthereum, upper))
	assert.Equal(t, lower, NormalizeToken(ChainEthereum, " "+lower+" "))

	// Solana addresses are case-sensitive
	mint := "So11111111111111111111111111111111111111112"
	assert.Equal(t, mint, NormalizeToken(ChainSolana, mint))
}
