package exchange

import (
	"time"

	"github.com/shopspring/decimal"

	"wallet-exchange/pkg/types"
)

// Side selects one half of the exchange form.
type Side int

const (
	From Side = iota
	To
)

func (s Side) String() string {
	if s == From {
		return "from"
	}
	return "to"
}

// Phase is the user-facing stage of the exchange.
type Phase int

const (
	PhaseEditing Phase = iota
	PhaseReviewing
	PhaseApproving
	PhaseExecuting
	PhaseSuccess
)

func (p Phase) String() string {
	switch p {
	case PhaseEditing:
		return "editing"
	case PhaseReviewing:
		return "reviewing"
	case PhaseApproving:
		return "approving"
	case PhaseExecuting:
		return "executing"
	case PhaseSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// Intent is what the user asked for. FromToken and ToToken are replaced,
// never modified in place.
type Intent struct {
	FromToken     *types.TokenRef
	ToToken       *types.TokenRef
	FromAmount    string
	ToAmount      string
	SlippageBps   int64
	SourceChainID int64
	DestChainID   int64
	Sender        string
	Receiver      string
}

// SlippagePercent renders the slippage tolerance as a percentage.
func (in Intent) SlippagePercent() decimal.Decimal {
	return decimal.New(in.SlippageBps, -2)
}

// session is the single mutable state of an exchange. Only the
// Orchestrator touches it, always under its lock.
type session struct {
	intent        Intent
	walletChainID int64
	fromBalance   types.BalanceItem
	toBalance     types.BalanceItem

	quote    *types.Quote
	quoteErr error

	approving  bool
	executing  bool
	approveErr error
	submitErr  error
	receipt    *types.Receipt
	warning    string
}

// View is a read-only snapshot of the exchange.
type View struct {
	Intent      Intent
	FromBalance types.BalanceItem
	ToBalance   types.BalanceItem

	Phase      Phase
	QuoteState QuoteState
	Quote      *types.Quote
	QuoteErr   error
	Countdown  time.Duration

	NeedsApproval        bool
	ApprovalCheckPending bool
	Approval             *types.ApprovalRequirement
	ApprovalCheckErr     error
	ApproveErr           error

	SubmitErr  error
	CanExecute bool
	Warning    string
	Receipt    *types.Receipt
}
