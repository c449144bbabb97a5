package types

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func genHexAddress() gopter.Gen {
	hexDigit := gen.OneConstOf(
		'0', '1', '2', '3', '4', '5', '6', '7', '8', '9',
		'a', 'b', 'c', 'd', 'e', 'f', 'A', 'B', 'C', 'D', 'E', 'F',
	)
	return gen.SliceOfN(40, hexDigit).Map(func(digits []rune) string {
		return "0x" + string(digits)
	})
}

func TestTokenProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("every 40-hex-digit address is valid on EVM chains", prop.ForAll(
		func(addr string) bool {
			return IsValidToken(ChainEthereum, addr)
		},
		genHexAddress(),
	))

	properties.Property("normalization is idempotent", prop.ForAll(
		func(addr string) bool {
			once := NormalizeToken(ChainEthereum, addr)
			return NormalizeToken(ChainEthereum, once) == once
		},
		genHexAddress(),
	))

	properties.Property("case variants normalize to the same key", prop.ForAll(
		func(addr string) bool {
			return NormalizeToken(ChainEthereum, strings.ToUpper(addr)) ==
				NormalizeToken(ChainEthereum, strings.ToLower(addr))
		},
		genHexAddress(),
	))

	properties.TestingRun(t)
}
