package types

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"wallet-exchange/pkg/amount"
)

// NativeTokenAddress is the placeholder address used for a chain's gas token.
const NativeTokenAddress = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

// IsNative reports whether address refers to the chain's gas token.
func IsNative(address string) bool {
	return strings.EqualFold(address, NativeTokenAddress)
}

// TokenKey is the natural key of a token: chain id plus lower-cased address.
type TokenKey struct {
	ChainID int64
	Address string
}

func (k TokenKey) String() string {
	return fmt.Sprintf("%d:%s", k.ChainID, k.Address)
}

// TokenRef identifies a token on a specific chain.
type TokenRef struct {
	ChainID  int64           `json:"chain_id"`
	Address  string          `json:"address"`
	Symbol   string          `json:"symbol"`
	Name     string          `json:"name,omitempty"`
	Decimals int32           `json:"decimals"`
	Price    decimal.Decimal `json:"price"` // USD, zero when unknown
}

// Key returns the token's natural key.
func (t TokenRef) Key() TokenKey {
	return TokenKey{ChainID: t.ChainID, Address: strings.ToLower(t.Address)}
}

// Same reports whether t and o are the same token on the same chain.
func (t TokenRef) Same(o TokenRef) bool {
	return t.Key() == o.Key()
}

// WithPrice returns a copy of t carrying price.
func (t TokenRef) WithPrice(price decimal.Decimal) TokenRef {
	t.Price = price
	return t
}

// BalanceItem is a token held by the wallet.
type BalanceItem struct {
	TokenRef
	AmountRaw        string          `json:"amount_raw"`
	FormattedBalance decimal.Decimal `json:"formatted_balance"`
	USDValue         decimal.Decimal `json:"usd_value"`
}

// NewBalanceItem derives the formatted balance and USD value from the raw
// base-unit amount.
func NewBalanceItem(ref TokenRef, amountRaw string) (BalanceItem, error) {
	formatted, err := amount.FromBaseUnits(amountRaw, ref.Decimals)
	if err != nil {
		return BalanceItem{}, fmt.Errorf("balance of %s: %w", ref.Symbol, err)
	}
	if ref.Price.IsNegative() {
		ref.Price = decimal.Zero
	}
	return BalanceItem{
		TokenRef:         ref,
		AmountRaw:        amountRaw,
		FormattedBalance: formatted,
		USDValue:         formatted.Mul(ref.Price),
	}, nil
}

// WithPrice returns a copy of b repriced, keeping USDValue consistent.
func (b BalanceItem) WithPrice(price decimal.Decimal) BalanceItem {
	b.TokenRef = b.TokenRef.WithPrice(price)
	b.USDValue = b.FormattedBalance.Mul(price)
	return b
}

// FormattedUSD renders the USD value, or "" when it is zero.
func (b BalanceItem) FormattedUSD() string {
	if !b.USDValue.IsPositive() {
		return ""
	}
	return "$" + b.USDValue.StringFixed(2)
}

// SelectableToken is what a token picker hands to the exchange: either a
// token the wallet holds or a catalog entry the wallet has never held.
type SelectableToken interface {
	Ref() TokenRef
	Holding() (BalanceItem, bool)
}

// InWallet is a selectable token with a known wallet balance.
type InWallet struct{ Item BalanceItem }

func (w InWallet) Ref() TokenRef                { return w.Item.TokenRef }
func (w InWallet) Holding() (BalanceItem, bool) { return w.Item, true }

// CatalogOnly is a selectable token without a wallet balance.
type CatalogOnly struct{ Token TokenRef }

func (c CatalogOnly) Ref() TokenRef                { return c.Token }
func (c CatalogOnly) Holding() (BalanceItem, bool) { return BalanceItem{}, false }
