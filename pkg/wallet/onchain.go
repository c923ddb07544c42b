package wallet

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"wallet-exchange/pkg/types"
)

// TokenLister lists the tokens worth reading on a chain
type TokenLister interface {
	CatalogTokens(ctx context.Context, chainID int64) ([]types.TokenRef, error)
}

// BalanceReader reads one balance on chain. The native token placeholder
// reads the account balance.
type BalanceReader interface {
	Balance(ctx context.Context, chainID int64, token, owner string) (*big.Int, error)
}

// ChainSource reads balances from chain for every token the lister knows.
// It carries no prices.
type ChainSource struct {
	tokens      TokenLister
	reader      BalanceReader
	concurrency int
	log         zerolog.Logger
}

var _ BalanceSource = (*ChainSource)(nil)

// NewChainSource creates an on-chain balance source
func NewChainSource(tokens TokenLister, reader BalanceReader, log zerolog.Logger) *ChainSource {
	return &ChainSource{
		tokens:      tokens,
		reader:      reader,
		concurrency: 8,
		log:         log.With().Str("component", "chain-balances").Logger(),
	}
}

// GetBalances returns the non-zero balances of owner on chainID. Any failed
// read fails the whole chain.
func (s *ChainSource) GetBalances(ctx context.Context, owner string, chainID int64) ([]types.BalanceItem, error) {
	refs, err := s.tokens.CatalogTokens(ctx, chainID)
	if err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		items []types.BalanceItem
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, ref := range refs {
		g.Go(func() error {
			raw, err := s.reader.Balance(gctx, chainID, ref.Address, owner)
			if err != nil {
				return fmt.Errorf("%s balance: %w", ref.Symbol, err)
			}
			if raw == nil || raw.Sign() <= 0 {
				return nil
			}
			item, err := types.NewBalanceItem(ref, raw.String())
			if err != nil {
				s.log.Warn().Err(err).Str("token", ref.Address).Msg("skipping unreadable balance")
				return nil
			}
			mu.Lock()
			items = append(items, item)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.log.Debug().Int64("chain", chainID).Int("tokens", len(refs)).Int("held", len(items)).Msg("on-chain balances read")
	return items, nil
}
