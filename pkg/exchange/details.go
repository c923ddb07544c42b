package exchange

import (
	"time"

	"github.com/shopspring/decimal"

	"wallet-exchange/pkg/amount"
	"wallet-exchange/pkg/types"
)

// ImpactSeverity grades a quote's price impact.
type ImpactSeverity int

const (
	ImpactNone ImpactSeverity = iota
	ImpactWarn
	ImpactHigh
	ImpactSurplus
)

func (s ImpactSeverity) String() string {
	switch s {
	case ImpactWarn:
		return "warn"
	case ImpactHigh:
		return "high"
	case ImpactSurplus:
		return "surplus"
	default:
		return "none"
	}
}

const (
	impactWarnBps = 200
	impactHighBps = 500
)

// QuoteDetails is the human-readable breakdown of the current quote.
type QuoteDetails struct {
	Rate               decimal.Decimal
	MinReceived        decimal.Decimal
	PriceImpactPercent decimal.Decimal
	Severity           ImpactSeverity
	Route              []types.Hop
	GasEstimate        string
	Countdown          time.Duration
	Bridging           bool
}

// Details describes the quote in v, or reports false when there is none.
func (v View) Details() (QuoteDetails, bool) {
	if v.Quote == nil || v.Intent.FromToken == nil || v.Intent.ToToken == nil {
		return QuoteDetails{}, false
	}
	q := v.Quote

	d := QuoteDetails{
		PriceImpactPercent: decimal.New(q.PriceImpactBps, -2),
		Severity:           impactSeverity(q.PriceImpactBps),
		Route:              q.Route,
		GasEstimate:        q.GasEstimate,
		Countdown:          v.Countdown,
		Bridging:           v.Intent.SourceChainID != v.Intent.DestChainID,
	}

	from, _ := amount.Parse(v.Intent.FromAmount)
	to, _ := amount.Parse(v.Intent.ToAmount)
	if from.IsPositive() {
		d.Rate = to.DivRound(from, 6)
	}
	if q.MinAmountOutRaw != "" {
		if minOut, err := amount.FromBaseUnits(q.MinAmountOutRaw, v.Intent.ToToken.Decimals); err == nil {
			d.MinReceived = minOut
		}
	}
	return d, true
}

func impactSeverity(bps int64) ImpactSeverity {
	switch {
	case bps < 0:
		return ImpactSurplus
	case bps > impactHighBps:
		return ImpactHigh
	case bps > impactWarnBps:
		return ImpactWarn
	default:
		return ImpactNone
	}
}
