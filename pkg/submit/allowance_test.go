package submit

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"github.com/zeebo/assert"

	"wallet-exchange/pkg/exchange"
	"wallet-exchange/pkg/types"
	"wallet-exchange/pkg/wallet"
)

type stubPayloads struct {
	err   error
	calls int
}

func (s *stubPayloads) GetApproval(_ context.Context, req types.ApprovalRequest) (*types.ApprovalRequirement, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &types.ApprovalRequirement{
		Spender:   router,
		AmountRaw: req.AmountRaw,
		Tx:        types.TxPayload{ChainID: req.ChainID, To: req.Token, Data: "0x095ea7b3"},
	}, nil
}

type stubReader struct {
	granted *big.Int
	err     error
}

func (s stubReader) Allowance(context.Context, int64, string, string, string) (*big.Int, error) {
	return s.granted, s.err
}

func approvalReq(amount string) types.ApprovalRequest {
	return types.ApprovalRequest{
		ChainID:   1,
		Token:     "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		Owner:     "0x1111111111111111111111111111111111111111",
		AmountRaw: amount,
	}
}

func TestAllowanceCheckerSufficient(t *testing.T) {
	c := NewAllowanceChecker(&stubPayloads{}, stubReader{granted: big.NewInt(5_000_000)}, zerolog.Nop())

	req, err := c.GetApproval(context.Background(), approvalReq("5000000"))
	assert.NoError(t, err)
	assert.True(t, req == nil)

	req, err = c.GetApproval(context.Background(), approvalReq("5000001"))
	assert.NoError(t, err)
	assert.Equal(t, req.Spender, router)
}

func TestAllowanceCheckerNative(t *testing.T) {
	payloads := &stubPayloads{}
	c := NewAllowanceChecker(payloads, nil, zerolog.Nop())

	r := approvalReq("1")
	r.Token = types.NativeTokenAddress
	req, err := c.GetApproval(context.Background(), r)
	assert.NoError(t, err)
	assert.True(t, req == nil)
	assert.Equal(t, payloads.calls, 0)
}

func TestAllowanceCheckerWithoutReader(t *testing.T) {
	c := NewAllowanceChecker(&stubPayloads{}, stubReader{err: ErrNoReader}, zerolog.Nop())
	req, err := c.GetApproval(context.Background(), approvalReq("1"))
	assert.NoError(t, err)
	assert.True(t, req != nil)

	c = NewAllowanceChecker(&stubPayloads{}, nil, zerolog.Nop())
	req, err = c.GetApproval(context.Background(), approvalReq("1"))
	assert.NoError(t, err)
	assert.True(t, req != nil)
}

func TestAllowanceCheckerErrors(t *testing.T) {
	c := NewAllowanceChecker(&stubPayloads{}, stubReader{err: errors.New("rpc down")}, zerolog.Nop())
	_, err := c.GetApproval(context.Background(), approvalReq("1"))
	assert.True(t, errors.Is(err, exchange.ErrUpstream))

	c = NewAllowanceChecker(&stubPayloads{err: exchange.ErrUpstream}, stubReader{granted: big.NewInt(0)}, zerolog.Nop())
	_, err = c.GetApproval(context.Background(), approvalReq("1"))
	assert.True(t, errors.Is(err, exchange.ErrUpstream))
}

func TestManagerRoutesByChain(t *testing.T) {
	backend := &fakeBackend{status: 1}
	s := newSigner(t, backend, nil)
	m := NewManager(zerolog.Nop(), s)

	assert.DeepEqual(t, m.Chains(), []int64{1})
	addr, ok := m.Address(1)
	assert.True(t, ok)
	assert.Equal(t, addr, s.Address())

	_, err := m.Submit(context.Background(), types.TxPayload{ChainID: 10, To: router})
	assert.Error(t, err)

	_, err = m.Allowance(context.Background(), 10, router, addr, router)
	assert.True(t, errors.Is(err, ErrNoReader))

	_, err = m.Balance(context.Background(), 10, router, addr)
	assert.True(t, errors.Is(err, ErrNoReader))

	h, err := m.Submit(context.Background(), types.TxPayload{ChainID: 1, To: router, Gas: "21000"})
	assert.NoError(t, err)
	assert.NoError(t, h.Wait(context.Background()))
}

func TestManagerBalance(t *testing.T) {
	backend := &fakeBackend{
		native:     big.NewInt(42),
		callResult: common.LeftPadBytes(big.NewInt(7_000_000).Bytes(), 32),
	}
	s := newSigner(t, backend, nil)
	m := NewManager(zerolog.Nop(), s)
	var _ wallet.BalanceReader = m

	native, err := m.Balance(context.Background(), 1, types.NativeTokenAddress, s.Address())
	assert.NoError(t, err)
	assert.Equal(t, native.Int64(), int64(42))

	token, err := m.Balance(context.Background(), 1, "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", s.Address())
	assert.NoError(t, err)
	assert.Equal(t, token.Int64(), int64(7_000_000))
	// balanceOf(address)
	assert.Equal(t, hexutil.Encode(backend.lastCall.Data[:4]), "0x70a08231")

	_, err = m.Balance(context.Background(), 1, types.NativeTokenAddress, "nope")
	assert.Error(t, err)
}
