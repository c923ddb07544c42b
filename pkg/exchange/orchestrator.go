package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wallet-exchange/pkg/amount"
	"wallet-exchange/pkg/metrics"
	"wallet-exchange/pkg/types"
)

var (
	minSlippage     = decimal.RequireFromString("0.1")
	maxSlippage     = decimal.NewFromInt(10)
	toAmountEpsilon = decimal.New(1, -6)
)

// Config tunes the timing and retry behaviour of an Orchestrator.
type Config struct {
	DebounceDelay   time.Duration
	RefreshInterval time.Duration
	SlippagePercent decimal.Decimal
	ApprovalRetries uint
	PriceRetries    uint
	RetryInterval   time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		DebounceDelay:   800 * time.Millisecond,
		RefreshInterval: 60 * time.Second,
		SlippagePercent: decimal.RequireFromString("0.5"),
		ApprovalRetries: 5,
		PriceRetries:    2,
		RetryInterval:   500 * time.Millisecond,
	}
}

// Collaborators are the external services an Orchestrator drives.
// Prices and Recorder are optional.
type Collaborators struct {
	Quotes     QuoteProvider
	Allowances AllowanceChecker
	Submitter  TxSubmitter
	Balances   BalanceLookup
	Prices     PriceSource
	Recorder   Recorder
}

// Orchestrator owns an exchange session and exposes the user operations on
// it. All methods are safe for concurrent use; network work happens in the
// background and is folded back into the session as it completes.
type Orchestrator struct {
	mu      sync.Mutex
	cfg     Config
	deps    Collaborators
	log     zerolog.Logger
	nowFunc func() time.Time

	s        session
	debounce *Debouncer[string]
	refresh  *RefreshController
	gate     *ApprovalGate
	onUpdate func(View)

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// New creates an Orchestrator with an empty session.
func New(cfg Config, deps Collaborators, log zerolog.Logger) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		log:     log.With().Str("component", "exchange").Logger(),
		nowFunc: time.Now,
	}
	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.debounce = NewDebouncer(cfg.DebounceDelay, o.onAmountSettled)
	o.refresh = NewRefreshController(deps.Quotes, cfg.RefreshInterval, o.onQuote, log)
	o.gate = NewApprovalGate(deps.Allowances, cfg.ApprovalRetries, cfg.RetryInterval, o.onApproval, log)
	o.resetSessionLocked()
	return o
}

// OnUpdate registers fn to receive a snapshot after every state change.
func (o *Orchestrator) OnUpdate(fn func(View)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onUpdate = fn
}

// Connect starts a fresh session for sender on the wallet's chain. When
// preferredFrom is set and the wallet holds that token, it is selected as
// the source once balances are loaded.
func (o *Orchestrator) Connect(sender string, chainID int64, preferredFrom string) error {
	if !common.IsHexAddress(sender) {
		return fmt.Errorf("%w: invalid sender address %q", ErrInputRejected, sender)
	}
	if chainID <= 0 {
		return fmt.Errorf("%w: invalid chain id %d", ErrInputRejected, chainID)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	o.s.intent.Sender = sender
	o.s.walletChainID = chainID
	o.resetSessionLocked()
	o.mu.Unlock()

	o.log.Info().Str("sender", sender).Int64("chain", chainID).Msg("session connected")

	go func() {
		o.loadBalances(chainID)
		if preferredFrom != "" {
			o.preselect(chainID, preferredFrom)
		}
	}()

	o.notify()
	return nil
}

// Reset clears the form, keeping the connected wallet. This is also how a
// finished exchange returns to editing.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.resetSessionLocked()
	o.mu.Unlock()
	o.notify()
}

func (o *Orchestrator) resetSessionLocked() {
	sender := o.s.intent.Sender
	chain := o.s.walletChainID

	o.s = session{
		walletChainID: chain,
		intent: Intent{
			SlippageBps:   slippageBps(o.cfg.SlippagePercent),
			SourceChainID: chain,
			DestChainID:   chain,
			Sender:        sender,
			Receiver:      sender,
		},
	}
	o.invalidateQuoteLocked()
}

// invalidateQuoteLocked drops everything derived from the current inputs.
func (o *Orchestrator) invalidateQuoteLocked() {
	o.debounce.Cancel()
	o.refresh.Clear()
	o.gate.Reset()
	o.s.quote = nil
	o.s.quoteErr = nil
}

// SelectToken sets the token for one side. A token equal to the one on the
// opposite side clears that side. Both amounts are reset.
func (o *Orchestrator) SelectToken(side Side, tok types.SelectableToken) error {
	ref := tok.Ref()
	if ref.Address == "" || ref.ChainID <= 0 {
		return fmt.Errorf("%w: incomplete token", ErrInputRejected)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	o.s.warning = ""
	o.selectTokenLocked(side, ref, o.holdingLocked(tok))
	o.mu.Unlock()

	if ref.Price.IsZero() && o.deps.Prices != nil {
		go o.backfillPrice(side, ref)
	}
	o.notify()
	return nil
}

func (o *Orchestrator) selectTokenLocked(side Side, ref types.TokenRef, bal types.BalanceItem) {
	in := &o.s.intent
	switch side {
	case From:
		in.FromToken = &ref
		in.SourceChainID = ref.ChainID
		o.s.fromBalance = bal
		if in.ToToken != nil && in.ToToken.Same(ref) {
			in.ToToken = nil
			o.s.toBalance = types.BalanceItem{}
		}
	case To:
		in.ToToken = &ref
		in.DestChainID = ref.ChainID
		o.s.toBalance = bal
		if in.FromToken != nil && in.FromToken.Same(ref) {
			in.FromToken = nil
			o.s.fromBalance = types.BalanceItem{}
		}
	}
	in.FromAmount = ""
	in.ToAmount = ""
	o.invalidateQuoteLocked()
}

func (o *Orchestrator) holdingLocked(tok types.SelectableToken) types.BalanceItem {
	if item, ok := tok.Holding(); ok {
		return item
	}
	ref := tok.Ref()
	if o.deps.Balances != nil {
		if item, ok := o.deps.Balances.Balance(ref.ChainID, ref.Address); ok {
			return item.WithPrice(ref.Price)
		}
	}
	return types.BalanceItem{TokenRef: ref}
}

// SelectChain moves one side to another chain, clearing that side's token
// and both amounts.
func (o *Orchestrator) SelectChain(side Side, chainID int64) error {
	if chainID <= 0 {
		return fmt.Errorf("%w: invalid chain id %d", ErrInputRejected, chainID)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	in := &o.s.intent
	o.s.warning = ""
	switch side {
	case From:
		if in.SourceChainID == chainID {
			o.mu.Unlock()
			return nil
		}
		in.SourceChainID = chainID
		in.FromToken = nil
		o.s.fromBalance = types.BalanceItem{}
	case To:
		if in.DestChainID == chainID {
			o.mu.Unlock()
			return nil
		}
		in.DestChainID = chainID
		in.ToToken = nil
		o.s.toBalance = types.BalanceItem{}
	}
	in.FromAmount = ""
	in.ToAmount = ""
	o.invalidateQuoteLocked()
	connected := in.Sender != ""
	o.mu.Unlock()

	if connected {
		go o.loadBalances(chainID)
	}
	o.notify()
	return nil
}

// SetFromAmount accepts decimal text for the amount to spend. Text outside
// the decimal grammar is ignored. An amount above the balance is replaced by
// the balance and a warning is raised.
func (o *Orchestrator) SetFromAmount(text string) error {
	if !amount.IsDecimalText(text) {
		return fmt.Errorf("%w: %q is not a number", ErrInputRejected, text)
	}
	v, err := amount.Parse(text)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInputRejected, err)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	in := &o.s.intent
	o.s.warning = ""

	// without an estimate the old figure would belong to a different amount
	in.ToAmount = ""
	balance := o.s.fromBalance.FormattedBalance
	if in.FromToken != nil && v.IsPositive() && v.GreaterThan(balance) {
		in.FromAmount = balance.String()
		o.s.warning = fmt.Sprintf("Amount exceeds balance, using maximum %s %s", amount.Fixed(balance, 6), in.FromToken.Symbol)
		if balance.IsPositive() {
			if est, ok := o.estimateLocked(balance, From); ok {
				in.ToAmount = amount.Fixed(est, 6)
			}
		}
	} else {
		in.FromAmount = text
		if v.IsPositive() {
			if est, ok := o.estimateLocked(v, From); ok {
				in.ToAmount = amount.Fixed(est, 6)
			}
		}
	}
	o.debounce.Push(in.FromAmount)
	o.mu.Unlock()

	o.notify()
	return nil
}

// SetToAmount accepts decimal text for the amount to receive and derives
// the amount to spend from prices. If that would exceed the balance the
// edit is refused and nothing changes.
func (o *Orchestrator) SetToAmount(text string) error {
	if !amount.IsDecimalText(text) {
		return fmt.Errorf("%w: %q is not a number", ErrInputRejected, text)
	}
	v, err := amount.Parse(text)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInputRejected, err)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	in := &o.s.intent
	o.s.warning = ""

	if in.FromToken != nil && in.ToToken != nil && v.IsPositive() {
		if est, ok := o.estimateLocked(v, To); ok {
			if est.GreaterThan(o.s.fromBalance.FormattedBalance) {
				o.s.warning = fmt.Sprintf("Estimated input (%s) would exceed your %s balance", amount.Fixed(est, 6), in.FromToken.Symbol)
				o.mu.Unlock()
				o.notify()
				return ErrExceedsBalance
			}
			in.ToAmount = text
			in.FromAmount = amount.Fixed(est.RoundDown(6), 6)
			o.debounce.Push(in.FromAmount)
			o.mu.Unlock()
			o.notify()
			return nil
		}
	}
	in.ToAmount = text
	o.mu.Unlock()

	o.notify()
	return nil
}

// estimateLocked converts v across the pair using last known USD prices.
// dir names the side v is denominated in.
func (o *Orchestrator) estimateLocked(v decimal.Decimal, dir Side) (decimal.Decimal, bool) {
	in := o.s.intent
	if in.FromToken == nil || in.ToToken == nil {
		return decimal.Zero, false
	}
	fromPrice, toPrice := in.FromToken.Price, in.ToToken.Price
	if !fromPrice.IsPositive() || !toPrice.IsPositive() {
		return decimal.Zero, false
	}
	if dir == From {
		return v.Mul(fromPrice).Div(toPrice), true
	}
	return v.Mul(toPrice).Div(fromPrice), true
}

// SwapSides exchanges the two tokens and their chains. The destination
// token must be held by the wallet on its chain.
func (o *Orchestrator) SwapSides() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	in := &o.s.intent
	o.s.warning = ""

	if err := o.canSwapLocked(); err != nil {
		o.s.warning = err.Error()
		o.mu.Unlock()
		o.notify()
		return err
	}

	prevFrom, prevFromBalance := in.FromToken, o.s.fromBalance
	in.FromToken, o.s.fromBalance = in.ToToken, o.s.toBalance
	in.ToToken, o.s.toBalance = prevFrom, prevFromBalance
	in.SourceChainID, in.DestChainID = in.DestChainID, in.SourceChainID

	if o.deps.Balances != nil {
		if item, ok := o.deps.Balances.Balance(in.FromToken.ChainID, in.FromToken.Address); ok {
			o.s.fromBalance = item.WithPrice(in.FromToken.Price)
		}
	}

	in.FromAmount = ""
	in.ToAmount = ""
	o.invalidateQuoteLocked()
	o.mu.Unlock()

	o.notify()
	return nil
}

func (o *Orchestrator) canSwapLocked() error {
	in := o.s.intent
	if in.ToToken == nil {
		return fmt.Errorf("%w: select a destination token first", ErrInputRejected)
	}
	if !o.s.toBalance.FormattedBalance.IsPositive() {
		return ErrSwapNotAllowed
	}
	if o.deps.Balances != nil {
		item, ok := o.deps.Balances.Balance(in.DestChainID, in.ToToken.Address)
		if !ok || !item.FormattedBalance.IsPositive() {
			return ErrSwapNotAllowed
		}
	}
	return nil
}

// RequestMax spends the whole balance of the source token.
func (o *Orchestrator) RequestMax() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	in := &o.s.intent
	o.s.warning = ""

	if in.FromToken == nil {
		o.mu.Unlock()
		return fmt.Errorf("%w: select a token to spend first", ErrInputRejected)
	}
	balance := o.s.fromBalance.FormattedBalance
	if !balance.IsPositive() {
		o.s.warning = fmt.Sprintf("No balance available for %s", in.FromToken.Symbol)
		o.mu.Unlock()
		o.notify()
		return ErrZeroBalance
	}

	in.FromAmount = balance.String()
	in.ToAmount = ""
	if est, ok := o.estimateLocked(balance, From); ok {
		in.ToAmount = amount.Fixed(est, 6)
	}
	o.debounce.Push(in.FromAmount)
	o.mu.Unlock()

	o.notify()
	return nil
}

// SetSlippage sets the slippage tolerance from percent text, clamped to
// [0.1, 10].
func (o *Orchestrator) SetSlippage(percent string) error {
	v, err := decimal.NewFromString(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(percent), "%")))
	if err != nil {
		return fmt.Errorf("%w: invalid slippage %q", ErrInputRejected, percent)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	o.s.warning = ""
	switch {
	case v.LessThan(minSlippage):
		v = minSlippage
		o.s.warning = fmt.Sprintf("Slippage raised to the minimum of %s%%", minSlippage)
	case v.GreaterThan(maxSlippage):
		v = maxSlippage
		o.s.warning = fmt.Sprintf("Slippage lowered to the maximum of %s%%", maxSlippage)
	}

	bps := slippageBps(v)
	if bps != o.s.intent.SlippageBps {
		o.s.intent.SlippageBps = bps
		o.requoteLocked(TriggerInput)
	}
	o.mu.Unlock()

	o.notify()
	return nil
}

// SetReceiver overrides where the output is delivered. Empty means the sender.
func (o *Orchestrator) SetReceiver(address string) error {
	address = strings.TrimSpace(address)
	if address != "" && !common.IsHexAddress(address) {
		return fmt.Errorf("%w: invalid receiver address %q", ErrInputRejected, address)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	o.s.warning = ""
	if address == "" {
		address = o.s.intent.Sender
	}
	if !strings.EqualFold(address, o.s.intent.Receiver) {
		o.s.intent.Receiver = address
		o.requoteLocked(TriggerInput)
	}
	o.mu.Unlock()

	o.notify()
	return nil
}

// Refresh asks for a new quote immediately, restarting the countdown.
func (o *Orchestrator) Refresh() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if !o.requoteLocked(TriggerManual) {
		o.mu.Unlock()
		return fmt.Errorf("%w: nothing to quote", ErrInputRejected)
	}
	o.mu.Unlock()

	o.notify()
	return nil
}

// requoteLocked requests a quote for the current inputs if they are complete.
func (o *Orchestrator) requoteLocked(trigger string) bool {
	req, ok := o.routeRequestLocked()
	if !ok {
		return false
	}
	o.s.quoteErr = nil
	o.refresh.Request(req, trigger)
	return true
}

// routeRequestLocked builds the quote request for the current inputs.
func (o *Orchestrator) routeRequestLocked() (types.RouteRequest, bool) {
	in := o.s.intent
	if in.FromToken == nil || in.ToToken == nil || in.Sender == "" {
		return types.RouteRequest{}, false
	}
	raw, ok := positiveRaw(in.FromAmount, in.FromToken.Decimals)
	if !ok {
		return types.RouteRequest{}, false
	}
	receiver := in.Receiver
	if receiver == "" {
		receiver = in.Sender
	}
	return types.RouteRequest{
		SourceChainID: in.SourceChainID,
		DestChainID:   in.DestChainID,
		FromToken:     *in.FromToken,
		ToToken:       *in.ToToken,
		AmountRaw:     raw,
		SlippageBps:   in.SlippageBps,
		Sender:        in.Sender,
		Receiver:      receiver,
	}, true
}

func (o *Orchestrator) onAmountSettled(v string) {
	o.mu.Lock()
	if o.closed || v != o.s.intent.FromAmount {
		o.mu.Unlock()
		return
	}
	if !o.requoteLocked(TriggerInput) {
		o.refresh.Clear()
		o.s.quote = nil
		o.s.quoteErr = nil
	}
	o.mu.Unlock()

	o.notify()
}

func (o *Orchestrator) onQuote(out QuoteOutcome) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}

	current, ok := o.routeRequestLocked()
	if !o.refresh.IsCurrent(out.Seq) || !ok || current.Signature() != out.Request.Signature() {
		o.mu.Unlock()
		metrics.QuoteOutcomes.WithLabelValues("stale").Inc()
		o.log.Debug().Uint64("seq", out.Seq).Msg("dropping stale quote")
		return
	}

	err := out.Err
	if err == nil && out.Quote == nil {
		err = fmt.Errorf("%w: empty quote", ErrUpstream)
	}
	o.refresh.Resolve(out.Seq, err)
	metrics.QuoteOutcomes.WithLabelValues(classifyQuoteErr(err)).Inc()

	if err != nil {
		o.s.quote = nil
		o.s.quoteErr = err
		o.log.Warn().Err(err).Msg("quote failed")
		o.mu.Unlock()
		o.notify()
		return
	}

	q := *out.Quote
	q.Signature = out.Request.Signature()
	o.s.quote = &q
	o.s.quoteErr = nil
	o.applyQuotedAmountLocked(q)
	// timed and manual refreshes also re-read the allowance
	o.checkApprovalLocked(out.Trigger != TriggerInput)
	o.mu.Unlock()

	o.notify()
}

// applyQuotedAmountLocked shows the quoted output unless it is within
// epsilon of what is already displayed.
func (o *Orchestrator) applyQuotedAmountLocked(q types.Quote) {
	to := o.s.intent.ToToken
	quoted, err := amount.FromBaseUnits(q.ToAmountRaw, to.Decimals)
	if err != nil {
		o.log.Warn().Err(err).Str("raw", q.ToAmountRaw).Msg("unreadable quoted amount")
		return
	}
	shown, err := amount.Parse(o.s.intent.ToAmount)
	if err != nil {
		shown = decimal.Zero
	}
	if shown.Sub(quoted).Abs().GreaterThan(toAmountEpsilon) {
		o.s.intent.ToAmount = quoted.String()
	}
}

func (o *Orchestrator) checkApprovalLocked(force bool) {
	in := o.s.intent
	if in.FromToken == nil || in.Sender == "" {
		return
	}
	raw, ok := positiveRaw(in.FromAmount, in.FromToken.Decimals)
	if !ok || !amount.IsPositive(in.ToAmount) {
		return
	}
	req := types.ApprovalRequest{
		ChainID:   in.SourceChainID,
		Token:     in.FromToken.Address,
		Owner:     in.Sender,
		AmountRaw: raw,
	}
	if force {
		o.gate.Recheck(req)
		return
	}
	o.gate.Check(req)
}

func (o *Orchestrator) onApproval(out ApprovalOutcome) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	applied := o.gate.Resolve(out)
	o.mu.Unlock()

	if applied {
		o.notify()
	}
}

// Approve submits the outstanding approval transaction and clears the
// requirement once it is confirmed.
func (o *Orchestrator) Approve(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	req := o.gate.Requirement()
	if req == nil {
		o.mu.Unlock()
		return nil
	}
	if o.s.approving || o.s.executing {
		o.mu.Unlock()
		return ErrBusy
	}
	o.s.approving = true
	o.s.approveErr = nil
	o.s.warning = ""
	o.mu.Unlock()
	o.notify()

	o.log.Info().Str("spender", req.Spender).Msg("submitting approval")
	hash, err := o.submitAndWait(ctx, req.Tx)

	o.mu.Lock()
	o.s.approving = false
	if err != nil {
		o.s.approveErr = fmt.Errorf("%w: %w", ErrSubmission, err)
		o.s.warning = "Approval failed: " + err.Error()
		err = o.s.approveErr
		o.mu.Unlock()
		metrics.TxSubmissions.WithLabelValues("approve", "error").Inc()
		o.notify()
		return err
	}
	o.gate.ClearOptimistic(req)
	o.mu.Unlock()

	metrics.TxSubmissions.WithLabelValues("approve", "ok").Inc()
	o.log.Info().Str("tx", hash).Msg("approval confirmed")
	o.notify()
	return nil
}

// Execute submits the quoted transaction. It refuses unless the quote is
// current, the amount is covered by the balance and no approval is
// outstanding. On success the form is reset and the receipt is kept for
// display until Reset.
func (o *Orchestrator) Execute(ctx context.Context) (*types.Receipt, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	if o.s.approving || o.s.executing {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	if err := o.executeBlockedLocked(); err != nil {
		o.s.warning = err.Error()
		o.mu.Unlock()
		o.notify()
		return nil, err
	}

	in := o.s.intent
	quote := *o.s.quote
	o.s.executing = true
	o.s.submitErr = nil
	o.s.warning = ""
	o.mu.Unlock()
	o.notify()

	o.log.Info().
		Str("from", in.FromToken.Symbol).
		Str("to", in.ToToken.Symbol).
		Str("amount", in.FromAmount).
		Msg("submitting exchange")
	hash, err := o.submitAndWait(ctx, quote.Tx)

	o.mu.Lock()
	o.s.executing = false
	if err != nil {
		o.s.submitErr = fmt.Errorf("%w: %w", ErrSubmission, err)
		o.s.warning = "Exchange failed: " + err.Error()
		err = o.s.submitErr
		o.mu.Unlock()
		metrics.TxSubmissions.WithLabelValues("execute", "error").Inc()
		o.notify()
		return nil, err
	}

	receipt := types.Receipt{
		ID:            uuid.NewString(),
		TxHash:        hash,
		Sender:        in.Sender,
		Receiver:      in.Receiver,
		FromToken:     *in.FromToken,
		ToToken:       *in.ToToken,
		FromAmount:    in.FromAmount,
		ToAmount:      in.ToAmount,
		SourceChainID: in.SourceChainID,
		DestChainID:   in.DestChainID,
		SubmittedAt:   o.nowFunc().UTC(),
		Tx:            quote.Tx,
	}
	o.resetSessionLocked()
	o.s.receipt = &receipt
	o.mu.Unlock()

	metrics.TxSubmissions.WithLabelValues("execute", "ok").Inc()
	o.log.Info().Str("tx", hash).Bool("bridging", receipt.Bridging()).Msg("exchange confirmed")

	if o.deps.Recorder != nil {
		if err := o.deps.Recorder.Record(receipt); err != nil {
			o.log.Error().Err(err).Str("id", receipt.ID).Msg("failed to record receipt")
		}
	}
	o.notify()
	return &receipt, nil
}

func (o *Orchestrator) executeBlockedLocked() error {
	in := o.s.intent
	if in.FromToken == nil || in.ToToken == nil {
		return fmt.Errorf("%w: select both tokens", ErrExecuteBlocked)
	}
	if !amount.IsPositive(in.FromAmount) || !amount.IsPositive(in.ToAmount) {
		return fmt.Errorf("%w: enter an amount", ErrExecuteBlocked)
	}
	if o.s.quote == nil {
		return fmt.Errorf("%w: no quote", ErrExecuteBlocked)
	}
	req, ok := o.routeRequestLocked()
	if !ok || o.s.quote.Signature != req.Signature() {
		return fmt.Errorf("%w: quote is stale", ErrExecuteBlocked)
	}
	if v, _ := amount.Parse(in.FromAmount); v.GreaterThan(o.s.fromBalance.FormattedBalance) {
		return fmt.Errorf("%w: %w", ErrExecuteBlocked, ErrExceedsBalance)
	}
	if o.gate.Blocking() {
		return fmt.Errorf("%w: %w", ErrExecuteBlocked, ErrApprovalRequired)
	}
	if o.gate.Pending() {
		return fmt.Errorf("%w: %w", ErrExecuteBlocked, ErrApprovalPending)
	}
	if o.gate.Unverified() {
		return fmt.Errorf("%w: %w", ErrExecuteBlocked, ErrApprovalUnknown)
	}
	return nil
}

func (o *Orchestrator) submitAndWait(ctx context.Context, tx types.TxPayload) (string, error) {
	handle, err := o.deps.Submitter.Submit(ctx, tx)
	if err != nil {
		return "", err
	}
	if err := handle.Wait(ctx); err != nil {
		return handle.Hash, err
	}
	return handle.Hash, nil
}

// View returns a snapshot of the session.
func (o *Orchestrator) View() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.viewLocked()
}

func (o *Orchestrator) viewLocked() View {
	v := View{
		Intent:               o.s.intent,
		FromBalance:          o.s.fromBalance,
		ToBalance:            o.s.toBalance,
		QuoteState:           o.refresh.State(),
		Quote:                o.s.quote,
		QuoteErr:             o.s.quoteErr,
		Countdown:            o.refresh.Remaining(),
		Approval:             o.gate.Requirement(),
		ApprovalCheckPending: o.gate.Pending(),
		ApprovalCheckErr:     o.gate.Err(),
		ApproveErr:           o.s.approveErr,
		SubmitErr:            o.s.submitErr,
		Warning:              o.s.warning,
		Receipt:              o.s.receipt,
	}
	v.NeedsApproval = v.Approval != nil
	v.CanExecute = !o.s.approving && !o.s.executing && o.executeBlockedLocked() == nil

	switch {
	case o.s.executing:
		v.Phase = PhaseExecuting
	case o.s.receipt != nil:
		v.Phase = PhaseSuccess
	case o.s.approving || (v.Quote != nil && v.NeedsApproval):
		v.Phase = PhaseApproving
	case v.Quote != nil:
		v.Phase = PhaseReviewing
	default:
		v.Phase = PhaseEditing
	}
	return v
}

func (o *Orchestrator) notify() {
	o.mu.Lock()
	fn := o.onUpdate
	if fn == nil || o.closed {
		o.mu.Unlock()
		return
	}
	v := o.viewLocked()
	o.mu.Unlock()
	fn(v)
}

// Close stops all timers and background work. The orchestrator is unusable
// afterwards.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.debounce.Stop()
	o.refresh.Close()
	o.gate.Reset()
	o.cancel()
}

// loadBalances refreshes the balance book for the wallet, source and
// destination chains and re-reads the balances of the selected tokens.
func (o *Orchestrator) loadBalances(extra ...int64) {
	if o.deps.Balances == nil {
		return
	}
	o.mu.Lock()
	in := o.s.intent
	wallet := o.s.walletChainID
	o.mu.Unlock()
	if in.Sender == "" {
		return
	}

	chains := append([]int64{wallet, in.SourceChainID, in.DestChainID}, extra...)
	if err := o.deps.Balances.Refresh(o.ctx, in.Sender, chains...); err != nil {
		o.log.Warn().Err(err).Msg("balance refresh failed")
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if t := o.s.intent.FromToken; t != nil {
		if item, ok := o.deps.Balances.Balance(t.ChainID, t.Address); ok {
			o.s.fromBalance = item.WithPrice(t.Price)
		}
	}
	if t := o.s.intent.ToToken; t != nil {
		if item, ok := o.deps.Balances.Balance(t.ChainID, t.Address); ok {
			o.s.toBalance = item.WithPrice(t.Price)
		}
	}
	o.mu.Unlock()
	o.notify()
}

// preselect selects the wallet's holding of address as the source token if
// nothing has been selected yet.
func (o *Orchestrator) preselect(chainID int64, address string) {
	item, ok := o.deps.Balances.Balance(chainID, address)
	if !ok {
		o.log.Debug().Str("token", address).Msg("preferred token not held")
		return
	}

	o.mu.Lock()
	if o.closed || o.s.intent.FromToken != nil {
		o.mu.Unlock()
		return
	}
	o.selectTokenLocked(From, item.TokenRef, item)
	o.mu.Unlock()
	o.notify()
}

// backfillPrice looks up a missing USD price. The result is applied only if
// the same token is still selected and still unpriced.
func (o *Orchestrator) backfillPrice(side Side, ref types.TokenRef) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.RetryInterval
	tries := o.cfg.PriceRetries
	if tries == 0 {
		tries = 1
	}

	price, err := backoff.Retry(o.ctx, func() (decimal.Decimal, error) {
		return o.deps.Prices.GetPrice(o.ctx, ref.ChainID, ref.Address)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(tries))
	if err != nil {
		o.log.Warn().Err(err).Str("token", ref.Symbol).Msg("price lookup failed, treating as unknown")
		return
	}
	if !price.IsPositive() {
		return
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	in := &o.s.intent
	switch side {
	case From:
		if in.FromToken == nil || !in.FromToken.Same(ref) || !in.FromToken.Price.IsZero() {
			o.mu.Unlock()
			return
		}
		priced := in.FromToken.WithPrice(price)
		in.FromToken = &priced
		o.s.fromBalance = o.s.fromBalance.WithPrice(price)
	case To:
		if in.ToToken == nil || !in.ToToken.Same(ref) || !in.ToToken.Price.IsZero() {
			o.mu.Unlock()
			return
		}
		priced := in.ToToken.WithPrice(price)
		in.ToToken = &priced
		o.s.toBalance = o.s.toBalance.WithPrice(price)
	}
	o.mu.Unlock()

	o.log.Debug().Str("token", ref.Symbol).Str("price", price.String()).Msg("price backfilled")
	o.notify()
}

func slippageBps(percent decimal.Decimal) int64 {
	return percent.Mul(decimal.NewFromInt(100)).Floor().IntPart()
}

func positiveRaw(text string, decimals int32) (string, bool) {
	v, err := amount.Parse(text)
	if err != nil || !v.IsPositive() {
		return "", false
	}
	raw, err := amount.ToBaseUnits(v, decimals)
	if err != nil || raw.Sign() <= 0 {
		return "", false
	}
	return raw.String(), true
}
