package wallet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"wallet-exchange/pkg/exchange"
	"wallet-exchange/pkg/types"
)

var _ exchange.BalanceLookup = (*Book)(nil)

// BalanceSource lists the tokens an owner holds on one chain
type BalanceSource interface {
	GetBalances(ctx context.Context, owner string, chainID int64) ([]types.BalanceItem, error)
}

// Book caches wallet balances per chain. A chain's entries are replaced
// wholesale on every successful refresh of that chain.
type Book struct {
	source        BalanceSource
	retries       uint
	retryInterval time.Duration
	log           zerolog.Logger

	mu       sync.RWMutex
	owner    string
	items    map[types.TokenKey]types.BalanceItem
	loadedAt map[int64]time.Time
}

// NewBook creates a balance book reading from source. Each chain refresh is
// attempted up to retries times.
func NewBook(source BalanceSource, retries uint, retryInterval time.Duration, log zerolog.Logger) *Book {
	if retries == 0 {
		retries = 1
	}
	if retryInterval <= 0 {
		retryInterval = 500 * time.Millisecond
	}
	return &Book{
		source:        source,
		retries:       retries,
		retryInterval: retryInterval,
		log:           log.With().Str("component", "wallet").Logger(),
		items:         make(map[types.TokenKey]types.BalanceItem),
		loadedAt:      make(map[int64]time.Time),
	}
}

// Refresh reloads balances of owner on each distinct chain. Switching owner
// drops everything cached for the previous one. Chains that fail keep their
// previous entries; the joined error reports every failed chain.
func (b *Book) Refresh(ctx context.Context, owner string, chainIDs ...int64) error {
	b.mu.Lock()
	if !strings.EqualFold(b.owner, owner) {
		b.owner = owner
		b.items = make(map[types.TokenKey]types.BalanceItem)
		b.loadedAt = make(map[int64]time.Time)
	}
	b.mu.Unlock()

	seen := make(map[int64]bool, len(chainIDs))
	var errs []error
	for _, chainID := range chainIDs {
		if chainID <= 0 || seen[chainID] {
			continue
		}
		seen[chainID] = true

		items, err := b.fetch(ctx, owner, chainID)
		if err != nil {
			b.log.Warn().Err(err).Int64("chain", chainID).Msg("balance refresh failed")
			errs = append(errs, fmt.Errorf("chain %d: %w", chainID, err))
			continue
		}
		b.replace(owner, chainID, items)
		b.log.Debug().Int64("chain", chainID).Int("tokens", len(items)).Msg("balances loaded")
	}
	return errors.Join(errs...)
}

func (b *Book) fetch(ctx context.Context, owner string, chainID int64) ([]types.BalanceItem, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.retryInterval
	return backoff.Retry(ctx, func() ([]types.BalanceItem, error) {
		return b.source.GetBalances(ctx, owner, chainID)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(b.retries))
}

func (b *Book) replace(owner string, chainID int64, items []types.BalanceItem) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// a concurrent refresh switched owner
	if !strings.EqualFold(b.owner, owner) {
		return
	}
	for k := range b.items {
		if k.ChainID == chainID {
			delete(b.items, k)
		}
	}
	for _, item := range items {
		if item.ChainID != chainID {
			continue
		}
		b.items[item.Key()] = item
	}
	b.loadedAt[chainID] = time.Now()
}

// Balance returns the holding of a token, matching the address without
// regard to case.
func (b *Book) Balance(chainID int64, address string) (types.BalanceItem, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	item, ok := b.items[types.TokenKey{ChainID: chainID, Address: strings.ToLower(address)}]
	return item, ok
}

// List returns the holdings on a chain ordered by USD value, then symbol
func (b *Book) List(chainID int64) []types.BalanceItem {
	b.mu.RLock()
	out := make([]types.BalanceItem, 0)
	for k, item := range b.items {
		if k.ChainID == chainID {
			out = append(out, item)
		}
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if c := out[i].USDValue.Cmp(out[j].USDValue); c != 0 {
			return c > 0
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// FindSymbol resolves a symbol to a holding on chainID. Ties go to the
// larger USD value.
func (b *Book) FindSymbol(chainID int64, symbol string) (types.BalanceItem, bool) {
	for _, item := range b.List(chainID) {
		if strings.EqualFold(item.Symbol, symbol) {
			return item, true
		}
	}
	return types.BalanceItem{}, false
}

// Selectable wraps catalog tokens for a picker: held tokens carry their
// holding and come first, the rest are catalog-only. Both groups are ordered
// by symbol.
func (b *Book) Selectable(refs []types.TokenRef) []types.SelectableToken {
	var held, rest []types.SelectableToken
	for _, ref := range refs {
		if item, ok := b.Balance(ref.ChainID, ref.Address); ok {
			if item.Price.IsZero() && ref.Price.IsPositive() {
				item = item.WithPrice(ref.Price)
			}
			held = append(held, types.InWallet{Item: item})
			continue
		}
		rest = append(rest, types.CatalogOnly{Token: ref})
	}
	bySymbol := func(list []types.SelectableToken) {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Ref().Symbol < list[j].Ref().Symbol
		})
	}
	bySymbol(held)
	bySymbol(rest)
	return append(held, rest...)
}

// LoadedAt reports when a chain was last refreshed successfully
func (b *Book) LoadedAt(chainID int64) (time.Time, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.loadedAt[chainID]
	return t, ok
}
