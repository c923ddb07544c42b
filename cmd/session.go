package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"wallet-exchange/config"
	"wallet-exchange/pkg/client"
	"wallet-exchange/pkg/exchange"
	"wallet-exchange/pkg/journal"
	"wallet-exchange/pkg/metrics"
	"wallet-exchange/pkg/parser"
	"wallet-exchange/pkg/submit"
	"wallet-exchange/pkg/types"
	"wallet-exchange/pkg/wallet"
)

// app holds everything a command needs to run an exchange session
type app struct {
	cfg     *config.Config
	enso    *client.EnsoClient
	intents *client.IntentsClient
	book    *wallet.Book
	signers *submit.Manager
	journal *journal.Storage
	orch    *exchange.Orchestrator
	sender  string
	chainID int64

	stop context.CancelFunc
}

// newApp loads the configuration and connects every collaborator. The
// orchestrator is created but not connected.
func newApp(cmd *cobra.Command) (*app, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFile(cfgPath)
	if err != nil {
		return nil, err
	}
	applyLogLevel(cmd, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	a := &app{cfg: cfg, chainID: cfg.Exchange.DefaultChainID, stop: cancel}

	metricsAddr, _ := cmd.Flags().GetString("metrics")
	if metricsAddr == "" {
		metricsAddr = cfg.MetricsAddr
	}
	if metricsAddr != "" {
		metrics.Serve(ctx, metricsAddr, logger)
	}

	if cfg.Enso.APIKey != "" {
		a.enso = client.NewEnsoClient(cfg.Enso.BaseURL, cfg.Enso.APIKey, logger)
	}
	if cfg.OneClick.JWTToken != "" {
		a.intents = client.NewIntentsClient(cfg.OneClick.BaseURL, cfg.OneClick.JWTToken, logger)
	}

	a.signers, err = submit.DialManager(cfg.EVM, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.book = newBook(cfg, a.enso, a.intents, a.signers)

	a.journal, err = journal.NewStorage(cfg.JournalPath)
	if err != nil {
		a.Close()
		return nil, err
	}

	deps := exchange.Collaborators{
		Submitter: a.signers,
		Recorder:  a.journal,
	}
	if a.book != nil {
		deps.Balances = a.book
	}
	if a.enso != nil {
		deps.Prices = a.enso
	}
	switch cfg.Provider {
	case config.ProviderIntents:
		deps.Quotes = a.intents
	default:
		deps.Quotes = a.enso
		deps.Allowances = submit.NewAllowanceChecker(a.enso, a.signers, logger)
	}

	a.orch = exchange.New(cfg.ExchangeSettings(), deps, logger)
	return a, nil
}

// newBook picks the balance source: Enso when it is configured, otherwise
// on-chain reads of the 1Click catalog through the configured RPCs.
func newBook(cfg *config.Config, enso *client.EnsoClient, intents *client.IntentsClient, signers *submit.Manager) *wallet.Book {
	retries := uint(cfg.Exchange.BalanceRetries)
	switch {
	case enso != nil:
		return wallet.NewBook(enso, retries, 500*time.Millisecond, logger)
	case intents != nil && signers != nil:
		return wallet.NewBook(wallet.NewChainSource(intents, signers, logger), retries, 500*time.Millisecond, logger)
	}
	return nil
}

// connect picks the wallet address and starts the session on chainID
func (a *app) connect(walletFlag string, chainID int64, preferredFrom string) error {
	if chainID > 0 {
		a.chainID = chainID
	}

	sender := walletFlag
	if sender == "" {
		if addr, ok := a.signers.Address(a.chainID); ok {
			sender = addr
		} else if chains := a.signers.Chains(); len(chains) > 0 {
			sender, _ = a.signers.Address(chains[0])
		}
	}
	if sender == "" {
		return fmt.Errorf("no wallet address: configure a network with a private key or pass --wallet")
	}
	if !common.IsHexAddress(sender) {
		return fmt.Errorf("invalid wallet address %q", sender)
	}
	a.sender = sender

	return a.orch.Connect(sender, a.chainID, preferredFrom)
}

// resolveToken turns a symbol or contract address into a selectable token
// on chainID. Wallet holdings take precedence over catalog lookups.
func (a *app) resolveToken(ctx context.Context, chainID int64, symbolOrAddress string) (types.SelectableToken, error) {
	if a.book != nil {
		if common.IsHexAddress(symbolOrAddress) || types.IsNative(symbolOrAddress) {
			if item, ok := a.book.Balance(chainID, symbolOrAddress); ok {
				return types.InWallet{Item: item}, nil
			}
		} else if item, ok := a.book.FindSymbol(chainID, symbolOrAddress); ok {
			return types.InWallet{Item: item}, nil
		}
	}

	if common.IsHexAddress(symbolOrAddress) || types.IsNative(symbolOrAddress) {
		if a.enso != nil {
			ref, err := a.enso.GetToken(ctx, chainID, symbolOrAddress)
			if err != nil {
				return nil, err
			}
			return types.CatalogOnly{Token: ref}, nil
		}
	}

	if a.intents != nil {
		refs, err := a.intents.CatalogTokens(ctx, chainID)
		if err == nil {
			for _, ref := range refs {
				if strings.EqualFold(ref.Address, symbolOrAddress) || strings.EqualFold(ref.Symbol, symbolOrAddress) {
					return types.CatalogOnly{Token: ref}, nil
				}
			}
		}
	}

	return nil, fmt.Errorf("token %q not found on %s", symbolOrAddress, parser.ChainName(chainID))
}

// waitForBalances blocks until the book has loaded the chain or timeout
func (a *app) waitForBalances(chainID int64, timeout time.Duration) {
	if a.book == nil {
		return
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, ok := a.book.LoadedAt(chainID); ok {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// waitForQuote blocks until the current quote settles
func (a *app) waitForQuote(ctx context.Context) exchange.View {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		v := a.orch.View()
		switch v.QuoteState {
		case exchange.QuoteQuoted, exchange.QuoteFailed:
			if !v.ApprovalCheckPending {
				return v
			}
		}
		select {
		case <-ctx.Done():
			return a.orch.View()
		case <-ticker.C:
		}
	}
}

// notifyIntents tells 1Click about the deposit so the swap starts promptly
func (a *app) notifyIntents(ctx context.Context, from types.TokenRef, tx types.TxPayload, txHash string) string {
	if a.intents == nil || a.cfg.Provider != config.ProviderIntents {
		return ""
	}
	depositAddress, err := client.DepositAddressOf(from, tx)
	if err != nil {
		logger.Warn().Err(err).Msg("could not recover deposit address")
		return ""
	}
	if err := a.intents.SubmitDepositTx(ctx, depositAddress, txHash); err != nil {
		logger.Warn().Err(err).Str("deposit", depositAddress).Msg("deposit notification failed")
	}
	return depositAddress
}

// Close stops the session and releases connections
func (a *app) Close() {
	if a.orch != nil {
		a.orch.Close()
	}
	if a.signers != nil {
		a.signers.Close()
	}
	if a.stop != nil {
		a.stop()
	}
}

func chainLabel(id int64) string {
	return strings.ToUpper(parser.ChainName(id))
}
