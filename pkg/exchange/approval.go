package exchange

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"wallet-exchange/pkg/metrics"
	"wallet-exchange/pkg/types"
)

// ApprovalOutcome is an allowance check result tagged with its request.
type ApprovalOutcome struct {
	Seq         uint64
	Request     types.ApprovalRequest
	Requirement *types.ApprovalRequirement
	Err         error
}

// ApprovalGate tracks whether execution must wait for an approval
// transaction. Checks run in the background with bounded retries and
// report through deliver; the owner applies them with Resolve.
type ApprovalGate struct {
	mu       sync.Mutex
	checker  AllowanceChecker
	retries  uint
	interval time.Duration
	deliver  func(ApprovalOutcome)
	log      zerolog.Logger

	seq         uint64
	key         *types.ApprovalRequest
	pending     bool
	requirement *types.ApprovalRequirement
	verified    bool
	lastErr     error
	cancel      context.CancelFunc
}

// noApproval is used for providers whose transactions never spend an
// allowance.
type noApproval struct{}

func (noApproval) GetApproval(context.Context, types.ApprovalRequest) (*types.ApprovalRequirement, error) {
	return nil, nil
}

// NewApprovalGate creates a gate that retries a failed check up to retries
// times, starting with interval between attempts. A nil checker never
// requires approval.
func NewApprovalGate(checker AllowanceChecker, retries uint, interval time.Duration, deliver func(ApprovalOutcome), log zerolog.Logger) *ApprovalGate {
	if retries == 0 {
		retries = 1
	}
	if checker == nil {
		checker = noApproval{}
	}
	return &ApprovalGate{
		checker:  checker,
		retries:  retries,
		interval: interval,
		deliver:  deliver,
		log:      log.With().Str("component", "approval").Logger(),
	}
}

// Check starts an allowance check for req unless the same request was
// already checked. It reports whether a check was started.
func (g *ApprovalGate) Check(req types.ApprovalRequest) bool {
	return g.start(req, false)
}

// Recheck starts an allowance check for req even if the same request was
// already answered. A check for req that is still in flight is left alone.
func (g *ApprovalGate) Recheck(req types.ApprovalRequest) bool {
	return g.start(req, true)
}

func (g *ApprovalGate) start(req types.ApprovalRequest, force bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.key != nil && sameApprovalKey(*g.key, req) && (!force || g.pending) {
		return false
	}
	if g.cancel != nil {
		g.cancel()
	}

	g.seq++
	seq := g.seq
	g.key = &req
	g.pending = true
	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel

	g.log.Debug().
		Uint64("seq", seq).
		Int64("chain", req.ChainID).
		Str("token", req.Token).
		Str("amount", req.AmountRaw).
		Msg("checking allowance")

	go func() {
		defer cancel()
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = g.interval
		requirement, err := backoff.Retry(ctx, func() (*types.ApprovalRequirement, error) {
			return g.checker.GetApproval(ctx, req)
		}, backoff.WithBackOff(b), backoff.WithMaxTries(g.retries))
		g.deliver(ApprovalOutcome{Seq: seq, Request: req, Requirement: requirement, Err: err})
	}()

	return true
}

// Resolve applies a check outcome if it answers the latest check. A failed
// check leaves the previous requirement in place and forgets the key, so
// the next Check for the same inputs runs again.
func (g *ApprovalGate) Resolve(out ApprovalOutcome) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if out.Seq != g.seq || !g.pending {
		return false
	}
	g.pending = false
	g.cancel = nil

	if out.Err != nil {
		metrics.ApprovalChecks.WithLabelValues("error").Inc()
		g.lastErr = out.Err
		g.key = nil
		g.log.Warn().Err(out.Err).Msg("allowance check failed, keeping previous state")
		return true
	}

	g.lastErr = nil
	g.verified = true
	g.requirement = out.Requirement
	if out.Requirement != nil {
		metrics.ApprovalChecks.WithLabelValues("required").Inc()
	} else {
		metrics.ApprovalChecks.WithLabelValues("none").Inc()
	}
	return true
}

// ClearOptimistic drops req after its approval transaction succeeded. It
// does nothing if req is no longer the outstanding requirement. The checked
// key is forgotten so the next quote re-validates the allowance on chain.
func (g *ApprovalGate) ClearOptimistic(req *types.ApprovalRequirement) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if req == nil || g.requirement != req {
		return false
	}
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	g.seq++
	g.key = nil
	g.pending = false
	g.requirement = nil
	g.verified = true
	g.lastErr = nil
	return true
}

// Reset forgets everything, including the last checked key.
func (g *ApprovalGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	g.seq++
	g.key = nil
	g.pending = false
	g.requirement = nil
	g.verified = false
	g.lastErr = nil
}

// Requirement returns the outstanding approval, or nil.
func (g *ApprovalGate) Requirement() *types.ApprovalRequirement {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requirement
}

// Blocking reports whether execution must wait for an approval.
func (g *ApprovalGate) Blocking() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requirement != nil
}

// Pending reports whether a check is in flight.
func (g *ApprovalGate) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

// Err returns the error of the last failed check, if the latest check failed.
func (g *ApprovalGate) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastErr
}

// Unverified reports whether the allowance is unknown: the latest check
// failed and no check has ever answered since the last Reset.
func (g *ApprovalGate) Unverified() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastErr != nil && !g.verified
}

func sameApprovalKey(a, b types.ApprovalRequest) bool {
	return a.ChainID == b.ChainID &&
		strings.EqualFold(a.Token, b.Token) &&
		strings.EqualFold(a.Owner, b.Owner) &&
		a.AmountRaw == b.AmountRaw
}
