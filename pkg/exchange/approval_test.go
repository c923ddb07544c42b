package exchange_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/assert"

	"wallet-exchange/pkg/exchange"
	"wallet-exchange/pkg/types"
)

// flakyAllowances fails the first failures calls.
type flakyAllowances struct {
	mu       sync.Mutex
	calls    int
	failures int
	result   *types.ApprovalRequirement
}

func (f *flakyAllowances) GetApproval(ctx context.Context, req types.ApprovalRequest) (*types.ApprovalRequirement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("rpc timeout")
	}
	return f.result, nil
}

func (f *flakyAllowances) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type gateHarness struct {
	gate *exchange.ApprovalGate
	mu   sync.Mutex
	outs []exchange.ApprovalOutcome
}

func newGate(checker exchange.AllowanceChecker, retries uint) *gateHarness {
	h := &gateHarness{}
	h.gate = exchange.NewApprovalGate(checker, retries, time.Millisecond, func(out exchange.ApprovalOutcome) {
		h.mu.Lock()
		h.outs = append(h.outs, out)
		h.mu.Unlock()
	}, zerolog.Nop())
	return h
}

func (h *gateHarness) next(t *testing.T, n int) exchange.ApprovalOutcome {
	t.Helper()
	waitFor(t, "approval outcome", func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.outs) >= n
	})
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outs[n-1]
}

func approvalRequest(amountRaw string) types.ApprovalRequest {
	return types.ApprovalRequest{ChainID: 1, Token: usdc.Address, Owner: sender, AmountRaw: amountRaw}
}

func TestApprovalGateRetriesTransientFailures(t *testing.T) {
	req := &types.ApprovalRequirement{Spender: "0x80EbA3855878739F4710233A8a19d89Bdd2ffB8E"}
	checker := &flakyAllowances{failures: 2, result: req}
	h := newGate(checker, 5)

	assert.True(t, h.gate.Check(approvalRequest("1000000")))
	assert.True(t, h.gate.Pending())

	out := h.next(t, 1)
	assert.NoError(t, out.Err)
	assert.True(t, h.gate.Resolve(out))
	assert.Equal(t, checker.count(), 3)
	assert.True(t, h.gate.Blocking())
	assert.False(t, h.gate.Pending())
}

func TestApprovalGateKeepsPreviousStateOnExhaustion(t *testing.T) {
	req := &types.ApprovalRequirement{Spender: "0x80EbA3855878739F4710233A8a19d89Bdd2ffB8E"}
	checker := &flakyAllowances{result: req}
	h := newGate(checker, 2)

	h.gate.Check(approvalRequest("1000000"))
	assert.True(t, h.gate.Resolve(h.next(t, 1)))
	assert.True(t, h.gate.Blocking())

	checker.mu.Lock()
	checker.failures = 100
	checker.mu.Unlock()

	h.gate.Check(approvalRequest("2000000"))
	out := h.next(t, 2)
	assert.Error(t, out.Err)
	assert.True(t, h.gate.Resolve(out))
	assert.True(t, h.gate.Blocking())
	assert.Error(t, h.gate.Err())
	assert.Equal(t, checker.count(), 3)
	assert.False(t, h.gate.Unverified())
}

func TestApprovalGateSkipsSameKey(t *testing.T) {
	checker := &flakyAllowances{}
	h := newGate(checker, 1)

	assert.True(t, h.gate.Check(approvalRequest("1000000")))
	h.gate.Resolve(h.next(t, 1))

	same := approvalRequest("1000000")
	same.Token = strings.ToLower(same.Token)
	same.Owner = strings.ToUpper(same.Owner[2:])
	same.Owner = "0x" + same.Owner
	assert.False(t, h.gate.Check(same))
	assert.True(t, h.gate.Check(approvalRequest("1000001")))
}

func TestApprovalGateOptimisticClear(t *testing.T) {
	req := &types.ApprovalRequirement{Spender: "0x80EbA3855878739F4710233A8a19d89Bdd2ffB8E"}
	checker := &flakyAllowances{result: req}
	h := newGate(checker, 1)

	h.gate.Check(approvalRequest("1000000"))
	h.gate.Resolve(h.next(t, 1))

	assert.False(t, h.gate.ClearOptimistic(&types.ApprovalRequirement{}))
	assert.True(t, h.gate.Blocking())

	assert.True(t, h.gate.ClearOptimistic(h.gate.Requirement()))
	assert.False(t, h.gate.Blocking())

	// the same inputs are checked again once the approval is in
	assert.True(t, h.gate.Check(approvalRequest("1000000")))
	assert.True(t, h.gate.Resolve(h.next(t, 2)))
	assert.True(t, h.gate.Blocking())
	assert.Equal(t, checker.count(), 2)
}

func TestApprovalGateRecheck(t *testing.T) {
	checker := &flakyAllowances{}
	h := newGate(checker, 1)

	assert.True(t, h.gate.Check(approvalRequest("1000000")))
	assert.False(t, h.gate.Recheck(approvalRequest("1000000")))
	h.gate.Resolve(h.next(t, 1))

	assert.False(t, h.gate.Check(approvalRequest("1000000")))
	assert.True(t, h.gate.Recheck(approvalRequest("1000000")))
	assert.True(t, h.gate.Resolve(h.next(t, 2)))
	assert.Equal(t, checker.count(), 2)
}

func TestApprovalGateRetriesAfterExhaustion(t *testing.T) {
	checker := &flakyAllowances{failures: 100}
	h := newGate(checker, 2)

	h.gate.Check(approvalRequest("1000000"))
	assert.True(t, h.gate.Resolve(h.next(t, 1)))
	assert.Error(t, h.gate.Err())
	assert.True(t, h.gate.Unverified())
	assert.False(t, h.gate.Blocking())

	checker.mu.Lock()
	checker.failures = 0
	checker.mu.Unlock()

	assert.True(t, h.gate.Check(approvalRequest("1000000")))
	assert.True(t, h.gate.Resolve(h.next(t, 2)))
	assert.NoError(t, h.gate.Err())
	assert.False(t, h.gate.Unverified())
}

func TestApprovalGateDropsSupersededOutcome(t *testing.T) {
	checker := &flakyAllowances{}
	h := newGate(checker, 1)

	h.gate.Check(approvalRequest("1"))
	h.gate.Reset()
	assert.False(t, h.gate.Resolve(h.next(t, 1)))
	assert.False(t, h.gate.Pending())
}

func TestApprovalGateWithoutChecker(t *testing.T) {
	h := newGate(nil, 3)

	assert.True(t, h.gate.Check(approvalRequest("1")))
	out := h.next(t, 1)
	assert.NoError(t, out.Err)
	assert.True(t, h.gate.Resolve(out))
	assert.False(t, h.gate.Blocking())
}
