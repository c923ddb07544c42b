package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeebo/assert"

	"wallet-exchange/pkg/types"
)

func receipt(id string, at time.Time) types.Receipt {
	return types.Receipt{
		ID:            id,
		TxHash:        "0xabc" + id,
		Sender:        "0x1111111111111111111111111111111111111111",
		Receiver:      "0x1111111111111111111111111111111111111111",
		FromToken:     types.TokenRef{ChainID: 1, Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6, Price: decimal.NewFromInt(1)},
		ToToken:       types.TokenRef{ChainID: 42161, Address: types.NativeTokenAddress, Symbol: "ETH", Decimals: 18},
		FromAmount:    "100",
		ToAmount:      "0.05",
		SourceChainID: 1,
		DestChainID:   42161,
		SubmittedAt:   at,
		Tx:            types.TxPayload{ChainID: 1, To: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Data: "0xa9059cbb", Value: "0"},
	}
}

func TestRecordAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.json")

	s, err := NewStorage(path)
	assert.NoError(t, err)
	assert.Equal(t, s.Count(), 0)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.NoError(t, s.Record(receipt("a", base)))
	assert.NoError(t, s.Record(receipt("b", base.Add(time.Minute))))

	reloaded, err := NewStorage(path)
	assert.NoError(t, err)
	assert.Equal(t, reloaded.Count(), 2)

	list := reloaded.List()
	assert.Equal(t, list[0].ID, "b")
	assert.Equal(t, list[1].ID, "a")

	got, err := reloaded.Get("a")
	assert.NoError(t, err)
	assert.Equal(t, got.FromToken.Symbol, "USDC")
	assert.Equal(t, got.FromToken.Price.String(), "1")
	assert.True(t, got.Bridging())
	assert.True(t, got.SubmittedAt.Equal(base))
	assert.Equal(t, got.Tx.Data, "0xa9059cbb")
}

func TestRecordRejectsDuplicates(t *testing.T) {
	s, err := NewStorage(filepath.Join(t.TempDir(), "history.json"))
	assert.NoError(t, err)

	now := time.Now()
	assert.NoError(t, s.Record(receipt("a", now)))
	assert.Error(t, s.Record(receipt("a", now)))
	assert.Error(t, s.Record(types.Receipt{}))
	assert.Equal(t, s.Count(), 1)
}

func TestGetMissing(t *testing.T) {
	s, err := NewStorage(filepath.Join(t.TempDir(), "history.json"))
	assert.NoError(t, err)

	_, err = s.Get("nope")
	assert.Error(t, err)
}
