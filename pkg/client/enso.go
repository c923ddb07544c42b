package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wallet-exchange/pkg/exchange"
	"wallet-exchange/pkg/metrics"
	"wallet-exchange/pkg/types"
)

// DefaultEnsoURL is the public Enso API.
const DefaultEnsoURL = "https://api.enso.finance"

var (
	_ exchange.QuoteProvider    = (*EnsoClient)(nil)
	_ exchange.AllowanceChecker = (*EnsoClient)(nil)
	_ exchange.PriceSource      = (*EnsoClient)(nil)
)

// EnsoClient talks to the Enso routing API. It prices same-chain swaps and
// cross-chain routes, builds approval payloads and reads wallet balances
// and token prices.
type EnsoClient struct {
	http    *http.Client
	baseURL string
	apiKey  string
	log     zerolog.Logger
}

// NewEnsoClient creates a client for baseURL authenticated with apiKey.
func NewEnsoClient(baseURL, apiKey string, log zerolog.Logger) *EnsoClient {
	if baseURL == "" {
		baseURL = DefaultEnsoURL
	}
	return &EnsoClient{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		log:     log.With().Str("component", "enso").Logger(),
	}
}

// flexNumber accepts a JSON string, number or null.
type flexNumber string

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*f = flexNumber(s)
		return nil
	}
	*f = flexNumber(b)
	return nil
}

func (f flexNumber) decimal() decimal.Decimal {
	d, err := decimal.NewFromString(string(f))
	if err != nil {
		return decimal.Zero
	}
	return d
}

type ensoTx struct {
	To    string     `json:"to"`
	From  string     `json:"from"`
	Data  string     `json:"data"`
	Value flexNumber `json:"value"`
}

type ensoHop struct {
	Action   string   `json:"action"`
	Protocol string   `json:"protocol"`
	TokenIn  []string `json:"tokenIn"`
	TokenOut []string `json:"tokenOut"`
	ChainID  int64    `json:"chainId"`
}

type ensoRoute struct {
	Route        []ensoHop  `json:"route"`
	AmountOut    flexNumber `json:"amountOut"`
	MinAmountOut flexNumber `json:"minAmountOut"`
	PriceImpact  flexNumber `json:"priceImpact"`
	Gas          flexNumber `json:"gas"`
	Tx           ensoTx     `json:"tx"`
}

type ensoApproval struct {
	Tx      ensoTx     `json:"tx"`
	Gas     flexNumber `json:"gas"`
	Token   string     `json:"token"`
	Amount  flexNumber `json:"amount"`
	Spender string     `json:"spender"`
}

type ensoBalance struct {
	Token    string     `json:"token"`
	Amount   flexNumber `json:"amount"`
	ChainID  int64      `json:"chainId"`
	Decimals int32      `json:"decimals"`
	Price    flexNumber `json:"price"`
	Name     string     `json:"name"`
	Symbol   string     `json:"symbol"`
}

type ensoPrice struct {
	Price    flexNumber `json:"price"`
	Decimals int32      `json:"decimals"`
	Symbol   string     `json:"symbol"`
}

type ensoToken struct {
	Address  string `json:"address"`
	ChainID  int64  `json:"chainId"`
	Decimals int32  `json:"decimals"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
}

type ensoError struct {
	Message    any    `json:"message"`
	Error      string `json:"error"`
	StatusCode int    `json:"statusCode"`
}

// GetRoute prices an exchange and returns the transaction that executes it.
func (c *EnsoClient) GetRoute(ctx context.Context, req types.RouteRequest) (*types.Quote, error) {
	q := url.Values{}
	q.Set("chainId", strconv.FormatInt(req.SourceChainID, 10))
	q.Set("fromAddress", req.Sender)
	q.Set("receiver", req.Receiver)
	q.Set("spender", req.Sender)
	q.Set("amountIn", req.AmountRaw)
	q.Set("tokenIn", req.FromToken.Address)
	q.Set("tokenOut", req.ToToken.Address)
	q.Set("slippage", strconv.FormatInt(req.SlippageBps, 10))
	q.Set("routingStrategy", "router")
	if req.DestChainID != req.SourceChainID {
		q.Set("destinationChainId", strconv.FormatInt(req.DestChainID, 10))
	}

	var resp ensoRoute
	if err := c.get(ctx, "/api/v1/shortcuts/route", q, "route", &resp); err != nil {
		return nil, err
	}
	if resp.AmountOut == "" || resp.Tx.To == "" {
		return nil, fmt.Errorf("%w: empty route", exchange.ErrNoRoute)
	}

	known := map[string]types.TokenRef{
		strings.ToLower(req.FromToken.Address): req.FromToken,
		strings.ToLower(req.ToToken.Address):   req.ToToken,
	}
	hops := make([]types.Hop, 0, len(resp.Route))
	for _, h := range resp.Route {
		chain := h.ChainID
		if chain == 0 {
			chain = req.SourceChainID
		}
		hops = append(hops, types.Hop{
			Protocol: h.Protocol,
			Action:   h.Action,
			TokenIn:  tokenRefs(known, chain, h.TokenIn),
			TokenOut: tokenRefs(known, chain, h.TokenOut),
		})
	}

	value := string(resp.Tx.Value)
	if value == "" {
		value = "0"
	}
	return &types.Quote{
		Route: hops,
		Tx: types.TxPayload{
			ChainID: req.SourceChainID,
			From:    resp.Tx.From,
			To:      resp.Tx.To,
			Data:    resp.Tx.Data,
			Value:   value,
			Gas:     string(resp.Gas),
		},
		ToAmountRaw:     string(resp.AmountOut),
		MinAmountOutRaw: string(resp.MinAmountOut),
		PriceImpactBps:  resp.PriceImpact.decimal().Round(0).IntPart(),
		GasEstimate:     string(resp.Gas),
		CreatedAt:       time.Now().UTC(),
	}, nil
}

func tokenRefs(known map[string]types.TokenRef, chainID int64, addrs []string) []types.TokenRef {
	refs := make([]types.TokenRef, 0, len(addrs))
	for _, a := range addrs {
		if ref, ok := known[strings.ToLower(a)]; ok {
			refs = append(refs, ref)
			continue
		}
		refs = append(refs, types.TokenRef{ChainID: chainID, Address: a})
	}
	return refs
}

// GetApproval returns the approval payload that lets the Enso router spend
// the amount. It does not read the current allowance, so a payload is
// returned for every ERC-20; native tokens never need one.
func (c *EnsoClient) GetApproval(ctx context.Context, req types.ApprovalRequest) (*types.ApprovalRequirement, error) {
	if types.IsNative(req.Token) {
		return nil, nil
	}

	q := url.Values{}
	q.Set("chainId", strconv.FormatInt(req.ChainID, 10))
	q.Set("fromAddress", req.Owner)
	q.Set("tokenAddress", req.Token)
	q.Set("amount", req.AmountRaw)
	q.Set("routingStrategy", "router")

	var resp ensoApproval
	if err := c.get(ctx, "/api/v1/wallet/approve", q, "approve", &resp); err != nil {
		return nil, err
	}
	if resp.Spender == "" || resp.Tx.To == "" {
		return nil, fmt.Errorf("%w: approval response without spender", exchange.ErrUpstream)
	}
	return &types.ApprovalRequirement{
		Spender:   resp.Spender,
		AmountRaw: req.AmountRaw,
		Tx: types.TxPayload{
			ChainID: req.ChainID,
			From:    resp.Tx.From,
			To:      resp.Tx.To,
			Data:    resp.Tx.Data,
			Value:   "0",
			Gas:     string(resp.Gas),
		},
	}, nil
}

// GetBalances lists the tokens owner holds on chainID.
func (c *EnsoClient) GetBalances(ctx context.Context, owner string, chainID int64) ([]types.BalanceItem, error) {
	q := url.Values{}
	q.Set("chainId", strconv.FormatInt(chainID, 10))
	q.Set("eoaAddress", owner)
	q.Set("useEoa", "true")

	var resp []ensoBalance
	if err := c.get(ctx, "/api/v1/wallet/balances", q, "balances", &resp); err != nil {
		return nil, err
	}

	items := make([]types.BalanceItem, 0, len(resp))
	for _, b := range resp {
		chain := b.ChainID
		if chain == 0 {
			chain = chainID
		}
		price := b.Price.decimal()
		if price.IsNegative() {
			price = decimal.Zero
		}
		item, err := types.NewBalanceItem(types.TokenRef{
			ChainID:  chain,
			Address:  b.Token,
			Symbol:   b.Symbol,
			Name:     b.Name,
			Decimals: b.Decimals,
			Price:    price,
		}, string(b.Amount))
		if err != nil {
			c.log.Debug().Err(err).Str("token", b.Token).Msg("skipping unreadable balance")
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// GetPrice returns the USD price of a token, zero when unknown.
func (c *EnsoClient) GetPrice(ctx context.Context, chainID int64, address string) (decimal.Decimal, error) {
	path := fmt.Sprintf("/api/v1/prices/%d/%s", chainID, url.PathEscape(address))

	var resp ensoPrice
	if err := c.get(ctx, path, nil, "price", &resp); err != nil {
		return decimal.Zero, err
	}
	price := resp.Price.decimal()
	if price.IsNegative() {
		return decimal.Zero, nil
	}
	return price, nil
}

// GetToken looks up token metadata by address.
func (c *EnsoClient) GetToken(ctx context.Context, chainID int64, address string) (types.TokenRef, error) {
	q := url.Values{}
	q.Set("chainId", strconv.FormatInt(chainID, 10))
	q.Set("address", address)
	q.Set("includeMetadata", "true")

	var resp struct {
		Data []ensoToken `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/tokens", q, "tokens", &resp); err != nil {
		return types.TokenRef{}, err
	}
	for _, t := range resp.Data {
		if strings.EqualFold(t.Address, address) {
			return types.TokenRef{
				ChainID:  chainID,
				Address:  t.Address,
				Symbol:   t.Symbol,
				Name:     t.Name,
				Decimals: t.Decimals,
			}, nil
		}
	}
	return types.TokenRef{}, fmt.Errorf("token %s not found on chain %d", address, chainID)
}

func (c *EnsoClient) get(ctx context.Context, path string, q url.Values, endpoint string, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(endpoint, "transport").Inc()
		return fmt.Errorf("%w: %s: %v", exchange.ErrUpstream, endpoint, err)
	}
	defer resp.Body.Close()
	metrics.UpstreamRequests.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s response: %v", exchange.ErrUpstream, endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := errorMessage(body)
		c.log.Debug().Str("endpoint", endpoint).Int("status", resp.StatusCode).Str("message", msg).Msg("upstream error")
		if endpoint == "route" && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest) {
			return fmt.Errorf("%w: %s", exchange.ErrNoRoute, msg)
		}
		return fmt.Errorf("%w: %s returned status %d: %s", exchange.ErrUpstream, endpoint, resp.StatusCode, msg)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", exchange.ErrUpstream, endpoint, err)
	}
	return nil
}

// errorMessage extracts a readable message from an error body.
func errorMessage(body []byte) string {
	var e ensoError
	if err := json.Unmarshal(body, &e); err == nil {
		switch m := e.Message.(type) {
		case string:
			if m != "" {
				return m
			}
		case []any:
			parts := make([]string, 0, len(m))
			for _, p := range m {
				parts = append(parts, fmt.Sprint(p))
			}
			return strings.Join(parts, "; ")
		}
		if e.Error != "" {
			return e.Error
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
