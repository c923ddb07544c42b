package wallet

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/assert"

	"wallet-exchange/pkg/types"
)

type stubCatalog map[int64][]types.TokenRef

func (c stubCatalog) CatalogTokens(_ context.Context, chainID int64) ([]types.TokenRef, error) {
	refs, ok := c[chainID]
	if !ok {
		return nil, errors.New("chain not supported")
	}
	return refs, nil
}

type stubChain struct {
	mu       sync.Mutex
	balances map[string]*big.Int
	err      error
	reads    int
}

func (s *stubChain) Balance(_ context.Context, chainID int64, token, owner string) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.err != nil {
		return nil, s.err
	}
	if b, ok := s.balances[strings.ToLower(token)]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

var (
	ethNative = types.TokenRef{ChainID: 1, Address: types.NativeTokenAddress, Symbol: "ETH", Decimals: 18}
	ethUSDC   = types.TokenRef{ChainID: 1, Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6}
	ethDAI    = types.TokenRef{ChainID: 1, Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Symbol: "DAI", Decimals: 18}
)

func TestChainSourceReadsHeldTokens(t *testing.T) {
	chain := &stubChain{balances: map[string]*big.Int{
		strings.ToLower(types.NativeTokenAddress): big.NewInt(500_000_000_000_000_000),
		strings.ToLower(ethUSDC.Address):          big.NewInt(5_000_000),
	}}
	src := NewChainSource(stubCatalog{1: {ethNative, ethUSDC, ethDAI}}, chain, zerolog.Nop())

	items, err := src.GetBalances(context.Background(), owner, 1)
	assert.NoError(t, err)
	assert.Equal(t, len(items), 2)
	assert.Equal(t, chain.reads, 3)

	book := NewBook(src, 1, time.Millisecond, zerolog.Nop())
	assert.NoError(t, book.Refresh(context.Background(), owner, 1))

	usdc, ok := book.Balance(1, strings.ToLower(ethUSDC.Address))
	assert.True(t, ok)
	assert.Equal(t, usdc.FormattedBalance.String(), "5")

	eth, ok := book.Balance(1, types.NativeTokenAddress)
	assert.True(t, ok)
	assert.Equal(t, eth.FormattedBalance.String(), "0.5")

	_, ok = book.Balance(1, ethDAI.Address)
	assert.False(t, ok)
}

func TestChainSourceFailures(t *testing.T) {
	src := NewChainSource(stubCatalog{1: {ethUSDC}}, &stubChain{err: errors.New("rpc down")}, zerolog.Nop())

	_, err := src.GetBalances(context.Background(), owner, 1)
	assert.Error(t, err)

	_, err = src.GetBalances(context.Background(), owner, 10)
	assert.Error(t, err)
}
