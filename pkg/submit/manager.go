package submit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/rs/zerolog"

	"wallet-exchange/config"
	"wallet-exchange/pkg/exchange"
	"wallet-exchange/pkg/types"
)

var _ exchange.TxSubmitter = (*Manager)(nil)

// Signer sends transactions on a single chain
type Signer interface {
	ChainID() int64
	Address() string
	Submit(ctx context.Context, payload types.TxPayload) (*types.TxHandle, error)
	Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error)
	TokenBalance(ctx context.Context, token, account string) (*big.Int, error)
	NativeBalance(ctx context.Context, account string) (*big.Int, error)
	Close()
}

// Manager routes payloads to the signer configured for their chain
type Manager struct {
	signers map[int64]Signer
	log     zerolog.Logger
}

// NewManager creates a manager over already connected signers
func NewManager(log zerolog.Logger, signers ...Signer) *Manager {
	m := &Manager{
		signers: make(map[int64]Signer, len(signers)),
		log:     log.With().Str("component", "submit").Logger(),
	}
	for _, s := range signers {
		m.signers[s.ChainID()] = s
	}
	return m
}

// DialManager connects a signer for every configured network. Networks
// without a private key are skipped.
func DialManager(cfg config.EVMConfig, log zerolog.Logger) (*Manager, error) {
	names := make([]string, 0, len(cfg.Networks))
	for name := range cfg.Networks {
		names = append(names, name)
	}
	sort.Strings(names)

	var signers []Signer
	for _, name := range names {
		network := cfg.Networks[name]
		if network.PrivateKey == "" {
			log.Debug().Str("network", name).Msg("no private key, network is read-only")
			continue
		}
		s, err := DialEVMSigner(name, network, log)
		if err != nil {
			for _, opened := range signers {
				opened.Close()
			}
			return nil, fmt.Errorf("network %s: %w", name, err)
		}
		signers = append(signers, s)
	}
	return NewManager(log, signers...), nil
}

// Submit sends the payload with the signer for its chain
func (m *Manager) Submit(ctx context.Context, payload types.TxPayload) (*types.TxHandle, error) {
	s, ok := m.signers[payload.ChainID]
	if !ok {
		return nil, fmt.Errorf("no signer configured for chain %d", payload.ChainID)
	}

	handle, err := s.Submit(ctx, payload)
	if err != nil {
		m.log.Error().Err(err).Int64("chain", payload.ChainID).Msg("submission failed")
		return nil, err
	}
	return handle, nil
}

// Signer returns the signer for a chain
func (m *Manager) Signer(chainID int64) (Signer, bool) {
	s, ok := m.signers[chainID]
	return s, ok
}

// Address returns the account that signs on chainID
func (m *Manager) Address(chainID int64) (string, bool) {
	s, ok := m.signers[chainID]
	if !ok {
		return "", false
	}
	return s.Address(), true
}

// Chains lists the chains that have a signer
func (m *Manager) Chains() []int64 {
	out := make([]int64, 0, len(m.signers))
	for id := range m.signers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Allowance reads an on-chain allowance through the chain's signer
func (m *Manager) Allowance(ctx context.Context, chainID int64, token, owner, spender string) (*big.Int, error) {
	s, ok := m.signers[chainID]
	if !ok {
		return nil, ErrNoReader
	}
	return s.Allowance(ctx, token, owner, spender)
}

// Balance reads owner's balance of token on chainID. The native token
// placeholder reads the account balance.
func (m *Manager) Balance(ctx context.Context, chainID int64, token, owner string) (*big.Int, error) {
	s, ok := m.signers[chainID]
	if !ok {
		return nil, ErrNoReader
	}
	if types.IsNative(token) {
		return s.NativeBalance(ctx, owner)
	}
	return s.TokenBalance(ctx, token, owner)
}

// ErrNoReader means no RPC connection exists for the chain
var ErrNoReader = errors.New("no rpc connection for chain")

// Close closes every signer
func (m *Manager) Close() {
	for _, s := range m.signers {
		s.Close()
	}
}
