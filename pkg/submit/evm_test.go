package submit

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/zeebo/assert"

	"wallet-exchange/config"
	"wallet-exchange/pkg/types"
)

const router = "0x80EbA3855878739F4710233A8a19d89Bdd2ffB8E"

type fakeBackend struct {
	mu          sync.Mutex
	sent        []*ethtypes.Transaction
	pendingPoll int
	status      uint64
	estimate    uint64
	callResult  []byte
	lastCall    ethereum.CallMsg
	native      *big.Int
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.estimate, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *ethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*ethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pendingPoll > 0 {
		f.pendingPoll--
		return nil, ethereum.NotFound
	}
	return &ethtypes.Receipt{Status: f.status, GasUsed: 21000}, nil
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCall = msg
	return f.callResult, nil
}

func (f *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	if f.native == nil {
		return big.NewInt(0), nil
	}
	return f.native, nil
}

func newSigner(t *testing.T, backend Backend, gasPrice *int64) *EVMSigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	assert.NoError(t, err)

	s, err := NewEVMSigner("ethereum", config.EVMNetwork{
		PrivateKey: hexutil.Encode(crypto.FromECDSA(key)),
		ChainID:    1,
		GasPrice:   gasPrice,
	}, backend, zerolog.Nop())
	assert.NoError(t, err)
	s.SetPollInterval(time.Millisecond)
	return s
}

func TestSubmitSignsAndConfirms(t *testing.T) {
	backend := &fakeBackend{pendingPoll: 2, status: ethtypes.ReceiptStatusSuccessful}
	price := int64(5_000_000_000)
	s := newSigner(t, backend, &price)

	handle, err := s.Submit(context.Background(), types.TxPayload{
		ChainID: 1,
		From:    s.Address(),
		To:      router,
		Data:    "0xb35d7e73",
		Value:   "1000",
		Gas:     "100000",
	})
	assert.NoError(t, err)
	assert.NoError(t, handle.Wait(context.Background()))

	assert.Equal(t, len(backend.sent), 1)
	tx := backend.sent[0]
	assert.Equal(t, tx.Nonce(), uint64(7))
	assert.Equal(t, tx.Gas(), uint64(120000))
	assert.Equal(t, tx.GasPrice().Int64(), price)
	assert.Equal(t, tx.Value().Int64(), int64(1000))
	assert.Equal(t, tx.To().Hex(), router)
	assert.Equal(t, hexutil.Encode(tx.Data()), "0xb35d7e73")
	assert.Equal(t, handle.Hash, tx.Hash().Hex())

	from, err := ethtypes.Sender(ethtypes.NewEIP155Signer(big.NewInt(1)), tx)
	assert.NoError(t, err)
	assert.Equal(t, from.Hex(), s.Address())
}

func TestSubmitEstimatesGas(t *testing.T) {
	backend := &fakeBackend{status: ethtypes.ReceiptStatusSuccessful, estimate: 50000}
	s := newSigner(t, backend, nil)

	handle, err := s.Submit(context.Background(), types.TxPayload{ChainID: 1, To: router, Data: "0x"})
	assert.NoError(t, err)
	assert.NoError(t, handle.Wait(context.Background()))

	tx := backend.sent[0]
	assert.Equal(t, tx.Gas(), uint64(60000))
	assert.Equal(t, tx.GasPrice().Int64(), int64(2_000_000_000))
	assert.Equal(t, len(tx.Data()), 0)
}

func TestSubmitReverted(t *testing.T) {
	backend := &fakeBackend{status: ethtypes.ReceiptStatusFailed}
	s := newSigner(t, backend, nil)

	handle, err := s.Submit(context.Background(), types.TxPayload{ChainID: 1, To: router, Gas: "21000"})
	assert.NoError(t, err)
	assert.True(t, errors.Is(handle.Wait(context.Background()), ErrReverted))
}

func TestSubmitRejectsBadPayload(t *testing.T) {
	s := newSigner(t, &fakeBackend{}, nil)

	cases := []types.TxPayload{
		{ChainID: 10, To: router},
		{ChainID: 1, To: "not-an-address"},
		{ChainID: 1, To: router, Data: "zz"},
		{ChainID: 1, To: router, Value: "lots"},
		{ChainID: 1, To: router, From: "0x2222222222222222222222222222222222222222"},
	}
	for _, p := range cases {
		_, err := s.Submit(context.Background(), p)
		assert.Error(t, err)
	}
}

func TestAllowanceCall(t *testing.T) {
	backend := &fakeBackend{callResult: common.LeftPadBytes(big.NewInt(5_000_000).Bytes(), 32)}
	s := newSigner(t, backend, nil)

	token := "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	got, err := s.Allowance(context.Background(), token, s.Address(), router)
	assert.NoError(t, err)
	assert.Equal(t, got.Int64(), int64(5_000_000))
	assert.Equal(t, backend.lastCall.To.Hex(), token)
	// allowance(address,address) selector
	assert.Equal(t, hexutil.Encode(backend.lastCall.Data[:4]), "0xdd62ed3e")

	_, err = s.Allowance(context.Background(), "bogus", s.Address(), router)
	assert.Error(t, err)
}
