package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"wallet-exchange/pkg/exchange"
	"wallet-exchange/pkg/parser"
	"wallet-exchange/pkg/types"
)

var (
	walletAddr   string
	chainFlag    string
	receiverAddr string
	slippageFlag string
	noConfirm    bool
	quoteTimeout time.Duration
)

var swapCmd = &cobra.Command{
	Use:   "swap <amount> <token>[@chain] to <token>[@chain] [for <address>]",
	Short: "Quote and execute a token exchange",
	Long: `Quote an exchange, approve the token if needed and submit the transaction.

Tokens are resolved from your wallet first, then from the provider's
catalog. Append @chain to pick a chain; the destination defaults to the
source chain. A different destination chain makes the exchange a bridge.

Examples:
  # Same-chain swap
  wallet-exchange swap 100 USDC to WETH

  # Bridge ETH on Arbitrum to USDC on Base
  wallet-exchange swap 0.5 ETH@arb to USDC@base

  # Send the output to another address with 1% slippage
  wallet-exchange swap 25 DAI to USDT for 0xAbC... --slippage 1

  # Skip all confirmations
  wallet-exchange swap 100 USDC to WETH --yes`,
	Args: cobra.MinimumNArgs(1),
	Run:  runSwap,
}

func init() {
	rootCmd.AddCommand(swapCmd)

	swapCmd.Flags().StringVar(&walletAddr, "wallet", "", "Wallet address (default: the configured signer)")
	swapCmd.Flags().StringVar(&chainFlag, "chain", "", "Default chain for tokens without @chain")
	swapCmd.Flags().StringVar(&receiverAddr, "receiver", "", "Address receiving the output (default: the wallet)")
	swapCmd.Flags().StringVar(&slippageFlag, "slippage", "", "Slippage tolerance in percent (0.1 to 10)")
	swapCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompts")
	swapCmd.Flags().DurationVar(&quoteTimeout, "timeout", 30*time.Second, "How long to wait for a quote")
}

func runSwap(cmd *cobra.Command, args []string) {
	req, err := parser.ParseExchangeCommand(strings.Join(args, " "))
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := newApp(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	err = swap(cmd.Context(), a, req, jsonOutput)
	a.Close()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
}

func swap(ctx context.Context, a *app, req *parser.ExchangeCommand, jsonOutput bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	fromChain := a.cfg.Exchange.DefaultChainID
	if chainFlag != "" {
		id, err := parser.ParseChain(chainFlag)
		if err != nil {
			return err
		}
		fromChain = id
	}
	if req.FromChain != 0 {
		fromChain = req.FromChain
	}
	toChain := fromChain
	if req.ToChain != 0 {
		toChain = req.ToChain
	}

	if err := a.connect(walletAddr, fromChain, ""); err != nil {
		return err
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Loading wallet balances..."
		s.Start()
	}
	a.waitForBalances(fromChain, 10*time.Second)
	if toChain != fromChain && a.book != nil {
		if err := a.book.Refresh(ctx, a.sender, toChain); err != nil {
			logger.Warn().Err(err).Msg("destination balances unavailable")
		}
	}

	from, err := a.resolveToken(ctx, fromChain, req.FromSymbol)
	if err == nil {
		var to types.SelectableToken
		to, err = a.resolveToken(ctx, toChain, req.ToSymbol)
		if err == nil {
			err = selectPair(a.orch, from, to)
		}
	}
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		return err
	}

	if slippageFlag != "" {
		if err := a.orch.SetSlippage(slippageFlag); err != nil {
			return err
		}
	}
	receiver := receiverAddr
	if req.Receiver != "" {
		receiver = req.Receiver
	}
	if receiver != "" {
		if err := a.orch.SetReceiver(receiver); err != nil {
			return err
		}
	}
	if err := a.orch.SetFromAmount(req.Amount); err != nil {
		return err
	}
	if v := a.orch.View(); v.Intent.FromAmount != req.Amount {
		return fmt.Errorf("%s %s exceeds your balance of %s", req.Amount, req.FromSymbol, v.FromBalance.FormattedBalance)
	}

	v, err := fetchQuote(ctx, a, jsonOutput)
	if err != nil {
		return err
	}

	if jsonOutput {
		printViewJSON(v)
	} else {
		displayView(v)
	}

	if v.NeedsApproval {
		if !noConfirm && !jsonOutput && !confirm(fmt.Sprintf("Approve %s for spending?", v.Intent.FromToken.Symbol)) {
			fmt.Println("\nExchange cancelled.")
			return nil
		}
		if err := withSpinner(jsonOutput, " Waiting for approval to confirm...", func() error {
			return a.orch.Approve(ctx)
		}); err != nil {
			return err
		}
		if !jsonOutput {
			color.Green("\n✓ Approval confirmed")
		}
	}

	if !noConfirm && !jsonOutput && !confirm("Proceed with exchange?") {
		fmt.Println("\nExchange cancelled.")
		return nil
	}

	return execute(ctx, a, jsonOutput)
}

func selectPair(orch *exchange.Orchestrator, from, to types.SelectableToken) error {
	if err := orch.SelectToken(exchange.From, from); err != nil {
		return err
	}
	return orch.SelectToken(exchange.To, to)
}

func fetchQuote(ctx context.Context, a *app, jsonOutput bool) (exchange.View, error) {
	qctx, cancel := context.WithTimeout(ctx, quoteTimeout)
	defer cancel()

	var v exchange.View
	err := withSpinner(jsonOutput, " Fetching quote...", func() error {
		v = a.waitForQuote(qctx)
		if v.Quote == nil && v.QuoteErr == nil {
			return qctx.Err()
		}
		return nil
	})

	if v.QuoteErr != nil {
		if errors.Is(v.QuoteErr, exchange.ErrNoRoute) {
			return v, fmt.Errorf("no route found for %s to %s", v.Intent.FromToken.Symbol, v.Intent.ToToken.Symbol)
		}
		return v, v.QuoteErr
	}
	if v.Quote == nil {
		if v.Warning != "" {
			return v, errors.New(v.Warning)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return v, fmt.Errorf("no quote received within %s", quoteTimeout)
		}
		if err != nil {
			return v, err
		}
		return v, errors.New("no quote available for this pair and amount")
	}
	return v, nil
}

func execute(ctx context.Context, a *app, jsonOutput bool) error {
	var receipt *types.Receipt
	err := withSpinner(jsonOutput, " Submitting exchange...", func() error {
		var err error
		receipt, err = a.orch.Execute(ctx)
		return err
	})
	if err != nil {
		return err
	}

	depositAddress := a.notifyIntents(ctx, receipt.FromToken, receipt.Tx, receipt.TxHash)

	if jsonOutput {
		output := map[string]interface{}{
			"receipt": receipt,
			"status":  "submitted",
		}
		if depositAddress != "" {
			output["deposit_address"] = depositAddress
		}
		jsonData, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(jsonData))
		return nil
	}

	displayReceipt(receipt)
	if depositAddress != "" {
		fmt.Println("You can monitor the bridge using:")
		color.Cyan("  wallet-exchange status %s\n", depositAddress)
	}
	return nil
}

func printViewJSON(v exchange.View) {
	in := v.Intent
	output := map[string]interface{}{
		"from_amount":    in.FromAmount,
		"to_amount":      in.ToAmount,
		"slippage":       in.SlippagePercent().String(),
		"receiver":       in.Receiver,
		"phase":          v.Phase.String(),
		"quote_state":    v.QuoteState.String(),
		"needs_approval": v.NeedsApproval,
	}
	if in.FromToken != nil {
		output["from_token"] = in.FromToken
	}
	if in.ToToken != nil {
		output["to_token"] = in.ToToken
	}
	if d, ok := v.Details(); ok {
		output["rate"] = d.Rate.String()
		output["min_received"] = d.MinReceived.String()
		output["price_impact_percent"] = d.PriceImpactPercent.String()
		output["bridging"] = d.Bridging
	}
	if v.Warning != "" {
		output["warning"] = v.Warning
	}
	jsonData, _ := json.MarshalIndent(output, "", "  ")
	fmt.Println(string(jsonData))
}

func withSpinner(jsonOutput bool, suffix string, fn func() error) error {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = suffix
		s.Start()
	}
	err := fn()
	if !jsonOutput {
		s.Stop()
	}
	return err
}
