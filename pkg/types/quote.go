package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxPayload is an unsigned transaction produced by a quote or an approval.
type TxPayload struct {
	ChainID int64  `json:"chain_id"`
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
	Data    string `json:"data"`
	Value   string `json:"value"` // wei, decimal string
	Gas     string `json:"gas,omitempty"`
}

// Hop is one step of a route, in execution order.
type Hop struct {
	Protocol string     `json:"protocol"`
	Action   string     `json:"action"`
	TokenIn  []TokenRef `json:"token_in"`
	TokenOut []TokenRef `json:"token_out"`
}

// RouteRequest is everything a quote provider needs to price an exchange.
type RouteRequest struct {
	SourceChainID int64
	DestChainID   int64
	FromToken     TokenRef
	ToToken       TokenRef
	AmountRaw     string
	SlippageBps   int64
	Sender        string
	Receiver      string
}

// Signature identifies the inputs a request was made for. Two requests
// with equal signatures would be priced identically.
type Signature struct {
	From        TokenKey
	To          TokenKey
	AmountRaw   string
	SourceChain int64
	DestChain   int64
	SlippageBps int64
	Receiver    string
}

// Signature returns the input signature of the request.
func (r RouteRequest) Signature() Signature {
	return Signature{
		From:        r.FromToken.Key(),
		To:          r.ToToken.Key(),
		AmountRaw:   r.AmountRaw,
		SourceChain: r.SourceChainID,
		DestChain:   r.DestChainID,
		SlippageBps: r.SlippageBps,
		Receiver:    lower(r.Receiver),
	}
}

// Quote is a priced route. Quotes are replaced, never mutated.
type Quote struct {
	Signature           Signature       `json:"-"`
	Route               []Hop           `json:"route"`
	Tx                  TxPayload       `json:"tx"`
	ToAmountRaw         string          `json:"to_amount_raw"`
	MinAmountOutRaw     string          `json:"min_amount_out_raw"`
	PriceImpactBps      int64           `json:"price_impact_bps"`
	GasEstimate         string          `json:"gas_estimate"`
	NativeGasPrice      string          `json:"native_gas_price"`
	NativeCurrencyPrice decimal.Decimal `json:"native_currency_price"`
	CreatedAt           time.Time       `json:"created_at"`
}

// ApprovalRequest asks whether spending amount of token needs an approval.
type ApprovalRequest struct {
	ChainID   int64
	Token     string
	Owner     string
	AmountRaw string
}

// ApprovalRequirement is the approval transaction the owner must send
// before the exchange can execute.
type ApprovalRequirement struct {
	Spender   string    `json:"spender"`
	Tx        TxPayload `json:"tx"`
	AmountRaw string    `json:"amount_raw"`
}
