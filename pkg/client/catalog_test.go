package client

import (
	"testing"

	oneclick "github.com/defuse-protocol/one-click-sdk-go"
	"github.com/zeebo/assert"

	"wallet-exchange/pkg/types"
)

func catalogEntry(chain, symbol, contract string, decimals int) oneclick.TokenResponse {
	var t oneclick.TokenResponse
	t.SetBlockchain(chain)
	t.SetSymbol(symbol)
	setNumber(&t.Decimals, int64(decimals))
	if contract != "" {
		t.SetContractAddress(contract)
	}
	return t
}

func TestCatalogRefs(t *testing.T) {
	tokens := []oneclick.TokenResponse{
		catalogEntry("eth", "ETH", "", 18),
		catalogEntry("eth", "USDC", "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", 6),
		catalogEntry("eth", "USDC", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", 6),
		catalogEntry("arb", "USDC", "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", 6),
		catalogEntry("near", "wNEAR", "wrap.near", 24),
	}

	refs := catalogRefs(tokens, 1, "eth")
	assert.Equal(t, len(refs), 2)
	assert.Equal(t, refs[0].Address, types.NativeTokenAddress)
	assert.Equal(t, refs[0].Decimals, int32(18))
	assert.Equal(t, refs[1].Symbol, "USDC")
	assert.Equal(t, refs[1].ChainID, int64(1))
	assert.Equal(t, refs[1].Decimals, int32(6))

	refs = catalogRefs(tokens, 42161, "arb")
	assert.Equal(t, len(refs), 1)
	assert.Equal(t, refs[0].Address, "0xaf88d065e77c8cC2239327C5EDb3A432268e5831")
}
