package submit

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/rs/zerolog"

	"wallet-exchange/pkg/exchange"
	"wallet-exchange/pkg/types"
)

var _ exchange.AllowanceChecker = (*AllowanceChecker)(nil)

// AllowanceReader reads an ERC-20 allowance on a chain
type AllowanceReader interface {
	Allowance(ctx context.Context, chainID int64, token, owner, spender string) (*big.Int, error)
}

// AllowanceChecker asks the routing API for the approval payload and then
// consults the chain: if the owner already granted enough, no approval is
// required. Without an RPC connection for the chain the payload is always
// returned.
type AllowanceChecker struct {
	payloads exchange.AllowanceChecker
	reader   AllowanceReader
	log      zerolog.Logger
}

// NewAllowanceChecker combines an approval payload source with an on-chain
// reader. reader may be nil.
func NewAllowanceChecker(payloads exchange.AllowanceChecker, reader AllowanceReader, log zerolog.Logger) *AllowanceChecker {
	return &AllowanceChecker{
		payloads: payloads,
		reader:   reader,
		log:      log.With().Str("component", "allowance").Logger(),
	}
}

// GetApproval returns nil when no approval is needed
func (a *AllowanceChecker) GetApproval(ctx context.Context, req types.ApprovalRequest) (*types.ApprovalRequirement, error) {
	if types.IsNative(req.Token) {
		return nil, nil
	}

	requirement, err := a.payloads.GetApproval(ctx, req)
	if err != nil || requirement == nil || a.reader == nil {
		return requirement, err
	}

	need, ok := new(big.Int).SetString(req.AmountRaw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", req.AmountRaw)
	}

	granted, err := a.reader.Allowance(ctx, req.ChainID, req.Token, req.Owner, requirement.Spender)
	if errors.Is(err, ErrNoReader) {
		return requirement, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read allowance: %v", exchange.ErrUpstream, err)
	}

	if granted.Cmp(need) >= 0 {
		a.log.Debug().Str("token", req.Token).Str("allowance", granted.String()).Msg("allowance sufficient")
		return nil, nil
	}
	return requirement, nil
}
