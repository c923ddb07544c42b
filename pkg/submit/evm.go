package submit

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"wallet-exchange/config"
	"wallet-exchange/pkg/types"
)

// ERC20 allowance/balanceOf ABI
const erc20ReadABI = `[
{"constant":true,"inputs":[{"name":"_owner","type":"address"},{"name":"_spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"}
]`

// ErrReverted is returned through a TxHandle when the transaction was
// mined with a failed status.
var ErrReverted = errors.New("transaction reverted")

// Backend is the part of an Ethereum RPC client the signer needs
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// EVMSigner signs and broadcasts transactions on one EVM network
type EVMSigner struct {
	networkName  string
	network      config.EVMNetwork
	backend      Backend
	closer       func()
	privateKey   *ecdsa.PrivateKey
	from         common.Address
	erc20        abi.ABI
	pollInterval time.Duration
	log          zerolog.Logger
}

// DialEVMSigner connects to the network's RPC endpoint
func DialEVMSigner(networkName string, network config.EVMNetwork, log zerolog.Logger) (*EVMSigner, error) {
	if network.RPCUrl == "" {
		return nil, fmt.Errorf("RPC URL not configured for network %s", networkName)
	}

	client, err := ethclient.Dial(network.RPCUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	s, err := NewEVMSigner(networkName, network, client, log)
	if err != nil {
		client.Close()
		return nil, err
	}
	s.closer = client.Close
	return s, nil
}

// NewEVMSigner creates a signer over an existing backend
func NewEVMSigner(networkName string, network config.EVMNetwork, backend Backend, log zerolog.Logger) (*EVMSigner, error) {
	if network.PrivateKey == "" {
		return nil, fmt.Errorf("private key not configured for network %s", networkName)
	}
	if network.ChainID <= 0 {
		return nil, fmt.Errorf("chain id not configured for network %s", networkName)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(network.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc20ReadABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}

	return &EVMSigner{
		networkName:  networkName,
		network:      network,
		backend:      backend,
		privateKey:   privateKey,
		from:         crypto.PubkeyToAddress(privateKey.PublicKey),
		erc20:        parsedABI,
		pollInterval: 3 * time.Second,
		log:          log.With().Str("network", networkName).Int64("chain", network.ChainID).Logger(),
	}, nil
}

// ChainID returns the network's chain id
func (e *EVMSigner) ChainID() int64 {
	return e.network.ChainID
}

// Address returns the account derived from the configured key
func (e *EVMSigner) Address() string {
	return e.from.Hex()
}

// SetPollInterval changes how often receipts are polled
func (e *EVMSigner) SetPollInterval(d time.Duration) {
	if d > 0 {
		e.pollInterval = d
	}
}

// Submit signs the payload and broadcasts it. The returned handle resolves
// once the transaction is mined.
func (e *EVMSigner) Submit(ctx context.Context, payload types.TxPayload) (*types.TxHandle, error) {
	if payload.ChainID != e.network.ChainID {
		return nil, fmt.Errorf("payload for chain %d sent to %s (chain %d)", payload.ChainID, e.networkName, e.network.ChainID)
	}
	if !common.IsHexAddress(payload.To) {
		return nil, fmt.Errorf("invalid destination address: %s", payload.To)
	}
	if payload.From != "" && !strings.EqualFold(payload.From, e.from.Hex()) {
		return nil, fmt.Errorf("payload built for %s but signer is %s", payload.From, e.from.Hex())
	}

	to := common.HexToAddress(payload.To)

	var data []byte
	if payload.Data != "" && payload.Data != "0x" {
		b, err := hexutil.Decode(payload.Data)
		if err != nil {
			return nil, fmt.Errorf("invalid calldata: %w", err)
		}
		data = b
	}

	value := big.NewInt(0)
	if payload.Value != "" {
		if _, ok := value.SetString(payload.Value, 0); !ok {
			return nil, fmt.Errorf("invalid value: %s", payload.Value)
		}
	}

	nonce, err := e.backend.PendingNonceAt(ctx, e.from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := e.getGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	gasLimit, err := e.gasLimit(ctx, payload, to, value, data)
	if err != nil {
		return nil, err
	}

	tx := ethtypes.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)

	chainID := big.NewInt(e.network.ChainID)
	signedTx, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(chainID), e.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := e.backend.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	hash := signedTx.Hash()
	e.log.Info().Str("tx", hash.Hex()).Uint64("nonce", nonce).Uint64("gas", gasLimit).Msg("transaction sent")

	done := make(chan error, 1)
	go e.watch(ctx, hash, done)
	return types.NewTxHandle(hash.Hex(), done), nil
}

// gasLimit picks the payload's gas, then the configured limit, then an
// estimate with a 20% buffer.
func (e *EVMSigner) gasLimit(ctx context.Context, payload types.TxPayload, to common.Address, value *big.Int, data []byte) (uint64, error) {
	if payload.Gas != "" {
		if g, ok := new(big.Int).SetString(payload.Gas, 0); ok && g.IsUint64() && g.Uint64() > 0 {
			return g.Uint64() * 120 / 100, nil
		}
	}
	if e.network.GasLimit != nil {
		return *e.network.GasLimit, nil
	}

	estimated, err := e.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  e.from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to estimate gas: %w", err)
	}
	return estimated * 120 / 100, nil
}

// getGasPrice returns the gas price to use for transactions
func (e *EVMSigner) getGasPrice(ctx context.Context) (*big.Int, error) {
	if e.network.GasPrice != nil {
		return big.NewInt(*e.network.GasPrice), nil
	}

	gasPrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	return gasPrice, nil
}

// watch polls for the receipt until it is mined or ctx ends
func (e *EVMSigner) watch(ctx context.Context, hash common.Hash, done chan<- error) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := e.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status == ethtypes.ReceiptStatusFailed {
				e.log.Warn().Str("tx", hash.Hex()).Msg("transaction reverted")
				done <- fmt.Errorf("%w: %s", ErrReverted, hash.Hex())
				return
			}
			e.log.Info().Str("tx", hash.Hex()).Uint64("gas_used", receipt.GasUsed).Msg("transaction confirmed")
			done <- nil
			return
		case err != nil && !errors.Is(err, ethereum.NotFound):
			e.log.Debug().Err(err).Str("tx", hash.Hex()).Msg("receipt lookup failed, retrying")
		}

		select {
		case <-ctx.Done():
			done <- ctx.Err()
			return
		case <-ticker.C:
		}
	}
}

// Allowance reads the ERC-20 allowance owner granted to spender
func (e *EVMSigner) Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	return e.callUint(ctx, token, "allowance", common.HexToAddress(owner), common.HexToAddress(spender))
}

// TokenBalance reads the ERC-20 balance of account
func (e *EVMSigner) TokenBalance(ctx context.Context, token, account string) (*big.Int, error) {
	return e.callUint(ctx, token, "balanceOf", common.HexToAddress(account))
}

// NativeBalance reads the native coin balance of account
func (e *EVMSigner) NativeBalance(ctx context.Context, account string) (*big.Int, error) {
	if !common.IsHexAddress(account) {
		return nil, fmt.Errorf("invalid account address: %s", account)
	}
	balance, err := e.backend.BalanceAt(ctx, common.HexToAddress(account), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

func (e *EVMSigner) callUint(ctx context.Context, token, method string, args ...any) (*big.Int, error) {
	if !common.IsHexAddress(token) {
		return nil, fmt.Errorf("invalid token contract address: %s", token)
	}
	tokenAddress := common.HexToAddress(token)

	data, err := e.erc20.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s data: %w", method, err)
	}

	result, err := e.backend.CallContract(ctx, ethereum.CallMsg{To: &tokenAddress, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	return new(big.Int).SetBytes(result), nil
}

// Close closes the client connection
func (e *EVMSigner) Close() {
	if e.closer != nil {
		e.closer()
	}
}
