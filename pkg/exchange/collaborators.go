package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"wallet-exchange/pkg/types"
)

// QuoteProvider prices a route. Implementations return an error wrapping
// ErrNoRoute when no viable path exists and ErrUpstream for other failures.
type QuoteProvider interface {
	GetRoute(ctx context.Context, req types.RouteRequest) (*types.Quote, error)
}

// AllowanceChecker reports the approval needed to spend an amount.
// A nil requirement means the current allowance suffices.
type AllowanceChecker interface {
	GetApproval(ctx context.Context, req types.ApprovalRequest) (*types.ApprovalRequirement, error)
}

// TxSubmitter signs and broadcasts a payload. Confirmation is reported
// through the returned handle.
type TxSubmitter interface {
	Submit(ctx context.Context, tx types.TxPayload) (*types.TxHandle, error)
}

// BalanceLookup resolves wallet holdings.
type BalanceLookup interface {
	Balance(chainID int64, address string) (types.BalanceItem, bool)
	Refresh(ctx context.Context, owner string, chainIDs ...int64) error
}

// PriceSource returns a USD price for a token. Unknown prices are zero.
type PriceSource interface {
	GetPrice(ctx context.Context, chainID int64, address string) (decimal.Decimal, error)
}

// Recorder persists receipts of executed exchanges.
type Recorder interface {
	Record(receipt types.Receipt) error
}
