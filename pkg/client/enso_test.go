package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/zeebo/assert"

	"wallet-exchange/pkg/client"
	"wallet-exchange/pkg/exchange"
	"wallet-exchange/pkg/types"
)

const owner = "0x1111111111111111111111111111111111111111"

var (
	usdc = types.TokenRef{ChainID: 1, Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6, Price: decimal.NewFromInt(1)}
	weth = types.TokenRef{ChainID: 1, Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Symbol: "WETH", Decimals: 18, Price: decimal.NewFromInt(2000)}
)

func newEnso(t *testing.T, handler http.HandlerFunc) *client.EnsoClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return client.NewEnsoClient(srv.URL, "test-key", zerolog.Nop())
}

func TestEnsoGetRoute(t *testing.T) {
	c := newEnso(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Path, "/api/v1/shortcuts/route")
		assert.Equal(t, r.Header.Get("Authorization"), "Bearer test-key")
		q := r.URL.Query()
		assert.Equal(t, q.Get("chainId"), "1")
		assert.Equal(t, q.Get("amountIn"), "100000000")
		assert.Equal(t, q.Get("tokenIn"), usdc.Address)
		assert.Equal(t, q.Get("tokenOut"), weth.Address)
		assert.Equal(t, q.Get("slippage"), "50")
		assert.Equal(t, q.Get("receiver"), owner)
		assert.Equal(t, q.Get("destinationChainId"), "")

		_, _ = w.Write([]byte(`{
			"route": [
				{"action": "swap", "protocol": "uniswap-v3", "tokenIn": ["0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"], "tokenOut": ["0xdAC17F958D2ee523a2206206994597C13D831ec7"]},
				{"action": "swap", "protocol": "curve", "tokenIn": ["0xdAC17F958D2ee523a2206206994597C13D831ec7"], "tokenOut": ["0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"]}
			],
			"amountOut": "50000000000000000",
			"minAmountOut": "49750000000000000",
			"priceImpact": 12.4,
			"gas": 210000,
			"createdAt": 21000000,
			"tx": {"to": "0x80EbA3855878739F4710233A8a19d89Bdd2ffB8E", "from": "0x1111111111111111111111111111111111111111", "data": "0xb35d7e73", "value": "0"}
		}`))
	})

	q, err := c.GetRoute(context.Background(), types.RouteRequest{
		SourceChainID: 1,
		DestChainID:   1,
		FromToken:     usdc,
		ToToken:       weth,
		AmountRaw:     "100000000",
		SlippageBps:   50,
		Sender:        owner,
		Receiver:      owner,
	})
	assert.NoError(t, err)
	assert.Equal(t, q.ToAmountRaw, "50000000000000000")
	assert.Equal(t, q.MinAmountOutRaw, "49750000000000000")
	assert.Equal(t, q.PriceImpactBps, int64(12))
	assert.Equal(t, q.GasEstimate, "210000")
	assert.Equal(t, q.Tx.To, "0x80EbA3855878739F4710233A8a19d89Bdd2ffB8E")
	assert.Equal(t, q.Tx.ChainID, int64(1))
	assert.Equal(t, len(q.Route), 2)
	assert.Equal(t, q.Route[0].Protocol, "uniswap-v3")
	assert.Equal(t, q.Route[0].TokenIn[0].Symbol, "USDC")
	assert.Equal(t, q.Route[1].Protocol, "curve")
	assert.Equal(t, q.Route[1].TokenOut[0].Symbol, "WETH")
}

func TestEnsoGetRouteCrossChain(t *testing.T) {
	c := newEnso(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Query().Get("destinationChainId"), "42161")
		_, _ = w.Write([]byte(`{"route": [], "amountOut": "1", "minAmountOut": "1", "priceImpact": null, "gas": "1", "tx": {"to": "0x80EbA3855878739F4710233A8a19d89Bdd2ffB8E", "data": "0x"}}`))
	})

	dest := weth
	dest.ChainID = 42161
	q, err := c.GetRoute(context.Background(), types.RouteRequest{
		SourceChainID: 1, DestChainID: 42161, FromToken: usdc, ToToken: dest,
		AmountRaw: "1", SlippageBps: 50, Sender: owner, Receiver: owner,
	})
	assert.NoError(t, err)
	assert.Equal(t, q.PriceImpactBps, int64(0))
	assert.Equal(t, q.Tx.Value, "0")
}

func TestEnsoGetRouteErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"no route", http.StatusBadRequest, `{"statusCode":400,"message":"Could not find a route","error":"Bad Request"}`, exchange.ErrNoRoute},
		{"server error", http.StatusInternalServerError, `oops`, exchange.ErrUpstream},
		{"empty route", http.StatusOK, `{"route": []}`, exchange.ErrNoRoute},
		{"bad json", http.StatusOK, `{`, exchange.ErrUpstream},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newEnso(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := c.GetRoute(context.Background(), types.RouteRequest{FromToken: usdc, ToToken: weth, AmountRaw: "1"})
			assert.True(t, errors.Is(err, tc.want))
		})
	}
}

func TestEnsoGetApproval(t *testing.T) {
	c := newEnso(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Path, "/api/v1/wallet/approve")
		assert.Equal(t, r.URL.Query().Get("tokenAddress"), usdc.Address)
		assert.Equal(t, r.URL.Query().Get("amount"), "5000000")
		_, _ = w.Write([]byte(`{
			"tx": {"to": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "from": "0x1111111111111111111111111111111111111111", "data": "0x095ea7b3"},
			"gas": "46000",
			"token": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
			"amount": "5000000",
			"spender": "0x80EbA3855878739F4710233A8a19d89Bdd2ffB8E"
		}`))
	})

	req, err := c.GetApproval(context.Background(), types.ApprovalRequest{ChainID: 1, Token: usdc.Address, Owner: owner, AmountRaw: "5000000"})
	assert.NoError(t, err)
	assert.Equal(t, req.Spender, "0x80EbA3855878739F4710233A8a19d89Bdd2ffB8E")
	assert.Equal(t, req.Tx.Data, "0x095ea7b3")
	assert.Equal(t, req.Tx.Gas, "46000")

	native, err := c.GetApproval(context.Background(), types.ApprovalRequest{ChainID: 1, Token: types.NativeTokenAddress, Owner: owner, AmountRaw: "1"})
	assert.NoError(t, err)
	assert.True(t, native == nil)
}

func TestEnsoGetBalances(t *testing.T) {
	c := newEnso(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Query().Get("useEoa"), "true")
		assert.Equal(t, r.URL.Query().Get("eoaAddress"), owner)
		_, _ = w.Write([]byte(`[
			{"token": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "amount": "2500000", "chainId": 1, "decimals": 6, "price": 1.0, "name": "USD Coin", "symbol": "USDC", "logoUri": null},
			{"token": "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE", "amount": "1500000000000000000", "chainId": 1, "decimals": 18, "price": "2000.5", "name": "Ether", "symbol": "ETH"},
			{"token": "0xbad", "amount": "not-a-number", "chainId": 1, "decimals": 18, "price": 0, "name": "Broken", "symbol": "BRK"}
		]`))
	})

	items, err := c.GetBalances(context.Background(), owner, 1)
	assert.NoError(t, err)
	assert.Equal(t, len(items), 2)
	assert.Equal(t, items[0].FormattedBalance.String(), "2.5")
	assert.Equal(t, items[0].USDValue.String(), "2.5")
	assert.Equal(t, items[1].FormattedBalance.String(), "1.5")
	assert.Equal(t, items[1].USDValue.String(), "3000.75")
}

func TestEnsoGetPrice(t *testing.T) {
	c := newEnso(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Path, "/api/v1/prices/1/0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
		_, _ = w.Write([]byte(`{"price": 1999.25, "decimals": 18, "symbol": "WETH"}`))
	})

	price, err := c.GetPrice(context.Background(), 1, weth.Address)
	assert.NoError(t, err)
	assert.Equal(t, price.String(), "1999.25")
}
