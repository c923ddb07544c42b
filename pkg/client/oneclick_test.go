package client_test

import (
	"errors"
	"testing"

	"github.com/zeebo/assert"

	"wallet-exchange/pkg/client"
	"wallet-exchange/pkg/exchange"
	"wallet-exchange/pkg/types"
)

const depositAddr = "0x9999999999999999999999999999999999999999"

func TestDepositPayloadERC20(t *testing.T) {
	tx, err := client.DepositPayload(1, owner, usdc, depositAddr, "100000000")
	assert.NoError(t, err)
	assert.Equal(t, tx.To, usdc.Address)
	assert.Equal(t, tx.Value, "0")
	assert.Equal(t, tx.From, owner)
	// transfer(address,uint256) selector
	assert.Equal(t, tx.Data[:10], "0xa9059cbb")

	addr, err := client.DepositAddressOf(usdc, tx)
	assert.NoError(t, err)
	assert.Equal(t, addr, depositAddr)
}

func TestDepositPayloadNative(t *testing.T) {
	eth := types.TokenRef{ChainID: 1, Address: types.NativeTokenAddress, Symbol: "ETH", Decimals: 18}
	tx, err := client.DepositPayload(1, owner, eth, depositAddr, "1500000000000000000")
	assert.NoError(t, err)
	assert.Equal(t, tx.To, depositAddr)
	assert.Equal(t, tx.Value, "1500000000000000000")
	assert.Equal(t, tx.Data, "0x")

	addr, err := client.DepositAddressOf(eth, tx)
	assert.NoError(t, err)
	assert.Equal(t, addr, depositAddr)
}

func TestDepositPayloadRejects(t *testing.T) {
	_, err := client.DepositPayload(1, owner, usdc, "near.account", "1")
	assert.True(t, errors.Is(err, exchange.ErrNoRoute))

	_, err = client.DepositPayload(1, owner, usdc, depositAddr, "1.5")
	assert.Error(t, err)

	_, err = client.DepositAddressOf(usdc, types.TxPayload{Data: "0x1234"})
	assert.True(t, errors.Is(err, client.ErrNotDeposit))
}

func TestReceiptDepositAddress(t *testing.T) {
	tx, err := client.DepositPayload(1, owner, usdc, depositAddr, "100000000")
	assert.NoError(t, err)
	r := types.Receipt{
		ID:            "r1",
		FromToken:     usdc,
		SourceChainID: 1,
		DestChainID:   42161,
		Tx:            tx,
	}

	addr, err := client.ReceiptDepositAddress(r)
	assert.NoError(t, err)
	assert.Equal(t, addr, depositAddr)

	r.DestChainID = 1
	_, err = client.ReceiptDepositAddress(r)
	assert.True(t, errors.Is(err, client.ErrNotDeposit))

	// routed through a DEX router rather than a deposit transfer
	r.DestChainID = 42161
	r.Tx = types.TxPayload{ChainID: 1, To: "0x80EbA3855878739F4710233A8a19d89Bdd2ffB8E", Data: "0x01"}
	_, err = client.ReceiptDepositAddress(r)
	assert.True(t, errors.Is(err, client.ErrNotDeposit))
}

func TestSettled(t *testing.T) {
	for _, s := range []string{"SUCCESS", "refunded", "FAILED"} {
		assert.True(t, client.Settled(s))
	}
	for _, s := range []string{"PENDING_DEPOSIT", "PROCESSING", "INCOMPLETE_DEPOSIT", ""} {
		assert.False(t, client.Settled(s))
	}
}

func TestMinAmountOut(t *testing.T) {
	assert.Equal(t, client.MinAmountOut("50000000000000000", 50), "49750000000000000")
	assert.Equal(t, client.MinAmountOut("999", 100), "989")
	assert.Equal(t, client.MinAmountOut("junk", 50), "")
}

func TestBlockchainName(t *testing.T) {
	name, ok := client.BlockchainName(42161)
	assert.True(t, ok)
	assert.Equal(t, name, "arb")

	_, ok = client.BlockchainName(99999)
	assert.False(t, ok)
}
