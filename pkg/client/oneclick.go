package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	oneclick "github.com/defuse-protocol/one-click-sdk-go"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wallet-exchange/pkg/amount"
	"wallet-exchange/pkg/exchange"
	"wallet-exchange/pkg/metrics"
	"wallet-exchange/pkg/types"
)

var _ exchange.QuoteProvider = (*IntentsClient)(nil)

// ERC20 transfer function ABI
const erc20TransferABI = `[{"constant":false,"inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}]`

// blockchains maps EVM chain ids to 1Click blockchain names
var blockchains = map[int64]string{
	1:     "eth",
	10:    "op",
	56:    "bsc",
	137:   "pol",
	8453:  "base",
	42161: "arb",
	43114: "avax",
}

// BlockchainName returns the 1Click name of an EVM chain
func BlockchainName(chainID int64) (string, bool) {
	name, ok := blockchains[chainID]
	return name, ok
}

// IntentsClient quotes exchanges through NEAR Intents 1Click. A quote's
// transaction is a plain deposit to the quote's deposit address, so no
// allowance is ever required.
type IntentsClient struct {
	client *oneclick.APIClient
	ctx    context.Context
	log    zerolog.Logger

	mu       sync.Mutex
	tokens   []oneclick.TokenResponse
	loadedAt time.Time
	cacheTTL time.Duration
}

// NewIntentsClient creates a new 1Click API client
func NewIntentsClient(baseURL, jwtToken string, log zerolog.Logger) *IntentsClient {
	config := oneclick.NewConfiguration()
	if baseURL != "" {
		config.Servers = oneclick.ServerConfigurations{{URL: strings.TrimSuffix(baseURL, "/")}}
	}

	// Create authenticated context
	ctx := context.WithValue(context.Background(), oneclick.ContextAccessToken, jwtToken)

	return &IntentsClient{
		client:   oneclick.NewAPIClient(config),
		ctx:      ctx,
		log:      log.With().Str("component", "intents").Logger(),
		cacheTTL: 10 * time.Minute,
	}
}

// authed carries the access token over a caller's context
func (c *IntentsClient) authed(ctx context.Context) context.Context {
	return context.WithValue(ctx, oneclick.ContextAccessToken, c.ctx.Value(oneclick.ContextAccessToken))
}

// GetSupportedTokens retrieves all supported tokens, cached for a while
func (c *IntentsClient) GetSupportedTokens(ctx context.Context) ([]oneclick.TokenResponse, error) {
	c.mu.Lock()
	if c.tokens != nil && time.Since(c.loadedAt) < c.cacheTTL {
		tokens := c.tokens
		c.mu.Unlock()
		return tokens, nil
	}
	c.mu.Unlock()

	resp, httpResp, err := c.client.OneClickAPI.GetTokens(c.authed(ctx)).Execute()
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("intents_tokens", "transport").Inc()
		return nil, fmt.Errorf("%w: failed to get tokens: %v", exchange.ErrUpstream, err)
	}
	defer httpResp.Body.Close()
	metrics.UpstreamRequests.WithLabelValues("intents_tokens", fmt.Sprint(httpResp.StatusCode)).Inc()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: API returned status code %d", exchange.ErrUpstream, httpResp.StatusCode)
	}

	c.mu.Lock()
	c.tokens = resp
	c.loadedAt = time.Now()
	c.mu.Unlock()
	return resp, nil
}

// FindToken resolves a token by chain and contract address. Native
// tokens match the chain's entry without a contract address.
func (c *IntentsClient) FindToken(ctx context.Context, ref types.TokenRef) (*oneclick.TokenResponse, error) {
	chain, ok := BlockchainName(ref.ChainID)
	if !ok {
		return nil, fmt.Errorf("%w: chain %d not supported by intents", exchange.ErrNoRoute, ref.ChainID)
	}

	tokens, err := c.GetSupportedTokens(ctx)
	if err != nil {
		return nil, err
	}
	if t := matchToken(tokens, chain, ref); t != nil {
		return t, nil
	}
	return nil, fmt.Errorf("%w: token %s not supported on %s", exchange.ErrNoRoute, ref.Symbol, chain)
}

func matchToken(tokens []oneclick.TokenResponse, chain string, ref types.TokenRef) *oneclick.TokenResponse {
	for i := range tokens {
		t := &tokens[i]
		if !strings.EqualFold(t.GetBlockchain(), chain) {
			continue
		}
		addr := t.GetContractAddress()
		if types.IsNative(ref.Address) {
			if addr == "" || types.IsNative(addr) {
				return t
			}
			continue
		}
		if strings.EqualFold(addr, ref.Address) {
			return t
		}
	}
	return nil
}

// CatalogToken resolves a symbol on an EVM chain from the 1Click catalog
func (c *IntentsClient) CatalogToken(ctx context.Context, chainID int64, symbol string) (types.TokenRef, error) {
	refs, err := c.CatalogTokens(ctx, chainID)
	if err != nil {
		return types.TokenRef{}, err
	}
	for _, ref := range refs {
		if strings.EqualFold(ref.Symbol, symbol) {
			return ref, nil
		}
	}
	return types.TokenRef{}, fmt.Errorf("token '%s' not found on chain %d", symbol, chainID)
}

// CatalogTokens lists every 1Click token on an EVM chain. The chain's native
// coin uses the native token placeholder address.
func (c *IntentsClient) CatalogTokens(ctx context.Context, chainID int64) ([]types.TokenRef, error) {
	chain, ok := BlockchainName(chainID)
	if !ok {
		return nil, fmt.Errorf("chain %d not supported by intents", chainID)
	}

	tokens, err := c.GetSupportedTokens(ctx)
	if err != nil {
		return nil, err
	}
	return catalogRefs(tokens, chainID, chain), nil
}

func catalogRefs(tokens []oneclick.TokenResponse, chainID int64, chain string) []types.TokenRef {
	seen := make(map[string]bool)
	var refs []types.TokenRef
	for _, t := range tokens {
		if !strings.EqualFold(t.GetBlockchain(), chain) {
			continue
		}
		addr := t.GetContractAddress()
		if addr == "" {
			addr = types.NativeTokenAddress
		}
		if seen[strings.ToLower(addr)] {
			continue
		}
		seen[strings.ToLower(addr)] = true
		refs = append(refs, types.TokenRef{
			ChainID:  chainID,
			Address:  addr,
			Symbol:   t.GetSymbol(),
			Decimals: int32(t.GetDecimals()),
		})
	}
	return refs
}

// GetRoute requests a 1Click quote and turns it into a deposit transaction
func (c *IntentsClient) GetRoute(ctx context.Context, req types.RouteRequest) (*types.Quote, error) {
	sourceToken, err := c.FindToken(ctx, req.FromToken)
	if err != nil {
		return nil, fmt.Errorf("source token: %w", err)
	}
	destToken, err := c.FindToken(ctx, req.ToToken)
	if err != nil {
		return nil, fmt.Errorf("destination token: %w", err)
	}

	recipient := req.Receiver
	if recipient == "" {
		recipient = req.Sender
	}

	// Calculate deadline (24 hours from now)
	deadline := time.Now().Add(24 * time.Hour)

	quoteReq := oneclick.NewQuoteRequest(
		false,                    // dry - false to get a real deposit address
		"EXACT_INPUT",            // swapType
		100,                      // slippageTolerance, replaced below
		sourceToken.GetAssetId(), // originAsset
		"ORIGIN_CHAIN",           // depositType
		destToken.GetAssetId(),   // destinationAsset
		req.AmountRaw,            // amount in smallest unit
		req.Sender,               // refundTo
		"ORIGIN_CHAIN",           // refundType
		recipient,                // recipient
		"DESTINATION_CHAIN",      // recipientType
		deadline,                 // deadline
	)
	setNumber(&quoteReq.SlippageTolerance, req.SlippageBps)

	start := time.Now()
	resp, httpResp, err := c.client.OneClickAPI.GetQuote(c.authed(ctx)).QuoteRequest(*quoteReq).Execute()
	if err != nil {
		return nil, quoteError(httpResp, err)
	}
	defer httpResp.Body.Close()
	metrics.UpstreamRequests.WithLabelValues("intents_quote", fmt.Sprint(httpResp.StatusCode)).Inc()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: API returned status code %d", exchange.ErrUpstream, httpResp.StatusCode)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty quote response", exchange.ErrUpstream)
	}

	details := resp.GetQuote()
	depositAddress := details.GetDepositAddress()
	if depositAddress == "" {
		return nil, fmt.Errorf("%w: quote without deposit address", exchange.ErrNoRoute)
	}

	toRaw, err := amount.ParseUnits(details.GetAmountOutFormatted(), req.ToToken.Decimals)
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable amount out %q", exchange.ErrUpstream, details.GetAmountOutFormatted())
	}

	tx, err := DepositPayload(req.SourceChainID, req.Sender, req.FromToken, depositAddress, req.AmountRaw)
	if err != nil {
		return nil, err
	}

	c.log.Debug().
		Str("deposit", depositAddress).
		Str("out", details.GetAmountOutFormatted()).
		Dur("took", time.Since(start)).
		Msg("intents quote")

	return &types.Quote{
		Route: []types.Hop{{
			Protocol: "near-intents",
			Action:   "bridge",
			TokenIn:  []types.TokenRef{req.FromToken},
			TokenOut: []types.TokenRef{req.ToToken},
		}},
		Tx:              tx,
		ToAmountRaw:     toRaw,
		MinAmountOutRaw: MinAmountOut(toRaw, req.SlippageBps),
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// quoteError maps a failed quote call to ErrNoRoute or ErrUpstream
func quoteError(httpResp *http.Response, err error) error {
	if httpResp == nil {
		metrics.UpstreamRequests.WithLabelValues("intents_quote", "transport").Inc()
		return fmt.Errorf("%w: failed to get quote from API: %v", exchange.ErrUpstream, err)
	}
	defer httpResp.Body.Close()
	metrics.UpstreamRequests.WithLabelValues("intents_quote", fmt.Sprint(httpResp.StatusCode)).Inc()

	msg := err.Error()
	if bodyBytes, readErr := io.ReadAll(httpResp.Body); readErr == nil && len(bodyBytes) > 0 {
		var errorResp map[string]interface{}
		if jsonErr := json.Unmarshal(bodyBytes, &errorResp); jsonErr == nil {
			if message, ok := errorResp["message"].(string); ok {
				msg = message
			}
		} else {
			msg = string(bodyBytes)
		}
	}

	if httpResp.StatusCode == http.StatusBadRequest || httpResp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", exchange.ErrNoRoute, msg)
	}
	return fmt.Errorf("%w: API error (status %d): %s", exchange.ErrUpstream, httpResp.StatusCode, msg)
}

// setNumber stores bps in a numeric field of whatever width the SDK uses
func setNumber[T ~float32 | ~float64 | ~int32 | ~int64 | ~int](dst *T, bps int64) {
	*dst = T(bps)
}

// DepositPayload builds the transaction that funds a 1Click deposit
// address: a value transfer for native tokens, an ERC-20 transfer otherwise.
func DepositPayload(chainID int64, sender string, token types.TokenRef, depositAddress, amountRaw string) (types.TxPayload, error) {
	if !common.IsHexAddress(depositAddress) {
		return types.TxPayload{}, fmt.Errorf("%w: deposit address %s is not an EVM address", exchange.ErrNoRoute, depositAddress)
	}
	value, ok := new(big.Int).SetString(amountRaw, 10)
	if !ok {
		return types.TxPayload{}, fmt.Errorf("invalid amount %q", amountRaw)
	}

	if types.IsNative(token.Address) {
		return types.TxPayload{
			ChainID: chainID,
			From:    sender,
			To:      common.HexToAddress(depositAddress).Hex(),
			Data:    "0x",
			Value:   value.String(),
		}, nil
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc20TransferABI))
	if err != nil {
		return types.TxPayload{}, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}
	data, err := parsedABI.Pack("transfer", common.HexToAddress(depositAddress), value)
	if err != nil {
		return types.TxPayload{}, fmt.Errorf("failed to pack transfer data: %w", err)
	}
	return types.TxPayload{
		ChainID: chainID,
		From:    sender,
		To:      token.Address,
		Data:    hexutil.Encode(data),
		Value:   "0",
	}, nil
}

// MinAmountOut applies slippage to a raw amount, rounding down
func MinAmountOut(raw string, slippageBps int64) string {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return ""
	}
	factor := decimal.NewFromInt(10000 - slippageBps).Div(decimal.NewFromInt(10000))
	return d.Mul(factor).Floor().String()
}

// GetSwapStatus checks the execution status of a swap
func (c *IntentsClient) GetSwapStatus(ctx context.Context, depositAddress string) (*oneclick.GetExecutionStatusResponse, error) {
	resp, httpResp, err := c.client.OneClickAPI.GetExecutionStatus(c.authed(ctx)).DepositAddress(depositAddress).Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status code %d", httpResp.StatusCode)
	}
	return resp, nil
}

// SubmitDepositTx notifies 1Click of the deposit transaction hash so the
// swap starts without waiting for chain indexing.
func (c *IntentsClient) SubmitDepositTx(ctx context.Context, depositAddress, txHash string) error {
	req := oneclick.NewSubmitDepositTxRequest(depositAddress, txHash)

	_, httpResp, err := c.client.OneClickAPI.SubmitDepositTx(c.authed(ctx)).SubmitDepositTxRequest(*req).Execute()
	if err != nil {
		return fmt.Errorf("failed to submit deposit: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusCreated {
		return fmt.Errorf("API returned status code %d", httpResp.StatusCode)
	}
	return nil
}

// ErrNotDeposit is returned when a payload is not a 1Click deposit
var ErrNotDeposit = errors.New("not a deposit transaction")

// ReceiptDepositAddress returns the deposit address a bridged exchange
// paid into. Same-chain receipts never touch 1Click.
func ReceiptDepositAddress(r types.Receipt) (string, error) {
	if !r.Bridging() {
		return "", ErrNotDeposit
	}
	return DepositAddressOf(r.FromToken, r.Tx)
}

// Settled reports whether a 1Click execution status is final.
func Settled(status string) bool {
	switch strings.ToUpper(status) {
	case "SUCCESS", "REFUNDED", "FAILED":
		return true
	}
	return false
}

// DepositAddressOf recovers the deposit address from a payload built by
// DepositPayload.
func DepositAddressOf(token types.TokenRef, tx types.TxPayload) (string, error) {
	if types.IsNative(token.Address) {
		if !common.IsHexAddress(tx.To) {
			return "", ErrNotDeposit
		}
		return common.HexToAddress(tx.To).Hex(), nil
	}

	data, err := hexutil.Decode(tx.Data)
	if err != nil || len(data) < 4+32 {
		return "", ErrNotDeposit
	}
	parsedABI, err := abi.JSON(strings.NewReader(erc20TransferABI))
	if err != nil {
		return "", err
	}
	method, err := parsedABI.MethodById(data[:4])
	if err != nil || method.Name != "transfer" {
		return "", ErrNotDeposit
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil || len(args) != 2 {
		return "", ErrNotDeposit
	}
	to, ok := args[0].(common.Address)
	if !ok {
		return "", ErrNotDeposit
	}
	return to.Hex(), nil
}
