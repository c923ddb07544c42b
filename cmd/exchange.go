package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"wallet-exchange/pkg/exchange"
	"wallet-exchange/pkg/parser"
)

var preferredToken string

var exchangeCmd = &cobra.Command{
	Use:     "exchange",
	Aliases: []string{"x", "repl"},
	Short:   "Interactive exchange session",
	Long: `Open an interactive exchange form. Quotes refresh in the background while
you edit the form; amounts settle after a short pause in typing.

Commands:
  from <token>[@chain]      select the token to spend
  to <token>[@chain]        select the token to receive
  chain from|to <chain>     move one side to another chain
  amount <n>                set the amount to spend
  receive <n>               set the amount to receive
  max                       spend the whole balance
  flip                      swap the two sides
  slippage <percent>        set the slippage tolerance
  receiver [address]        send the output elsewhere (empty resets)
  refresh                   request a new quote now
  approve                   send the approval transaction
  execute                   submit the exchange
  show                      print the form
  reset                     clear the form
  quit                      leave

Example:
  wallet-exchange exchange --chain base --from USDC`,
	Run: runExchange,
}

func init() {
	rootCmd.AddCommand(exchangeCmd)

	exchangeCmd.Flags().StringVar(&walletAddr, "wallet", "", "Wallet address (default: the configured signer)")
	exchangeCmd.Flags().StringVar(&chainFlag, "chain", "", "Wallet chain (default: exchange.default_chain_id)")
	exchangeCmd.Flags().StringVar(&preferredToken, "from", "", "Token to preselect as the source once balances load")
}

func runExchange(cmd *cobra.Command, args []string) {
	a, err := newApp(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.Close()

	chainID := a.cfg.Exchange.DefaultChainID
	if chainFlag != "" {
		if chainID, err = parser.ParseChain(chainFlag); err != nil {
			printError(err)
			return
		}
	}

	// a contract address is preselected by the session itself once
	// balances load; a symbol needs resolving first
	preferredAddress := ""
	if common.IsHexAddress(preferredToken) {
		preferredAddress, preferredToken = preferredToken, ""
	}
	if err := a.connect(walletAddr, chainID, preferredAddress); err != nil {
		printError(err)
		return
	}

	w := &quoteWatcher{}
	a.orch.OnUpdate(w.observe)

	color.Green("\nConnected %s on %s", a.sender, chainLabel(chainID))
	fmt.Println("Type 'help' for commands.")

	if preferredToken != "" {
		a.waitForBalances(chainID, 10*time.Second)
		if err := selectSide(context.Background(), a, exchange.From, preferredToken); err != nil {
			color.Yellow("  %v", err)
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if quit := handleLine(a, line); quit {
			return
		}
	}
}

// quoteWatcher prints a line whenever a new quote lands or fails
type quoteWatcher struct {
	mu   sync.Mutex
	last string
}

func (w *quoteWatcher) observe(v exchange.View) {
	var line string
	switch {
	case v.QuoteState == exchange.QuoteQuoted && v.Quote != nil && v.Intent.ToToken != nil:
		line = fmt.Sprintf("quote: ~%s %s", v.Intent.ToAmount, v.Intent.ToToken.Symbol)
		if v.NeedsApproval {
			line += " (approval required)"
		}
	case v.QuoteState == exchange.QuoteFailed && v.QuoteErr != nil:
		line = "quote failed: " + v.QuoteErr.Error()
	default:
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if line == w.last {
		return
	}
	w.last = line
	fmt.Printf("\n  %s\n> ", color.HiBlackString(line))
}

func handleLine(a *app, line string) bool {
	ctx := context.Background()
	fields := strings.Fields(line)
	verb, rest := strings.ToLower(fields[0]), fields[1:]
	arg := strings.Join(rest, " ")

	var err error
	switch verb {
	case "quit", "exit", "q":
		return true
	case "help", "?":
		fmt.Println(exchangeCmd.Long)
	case "from":
		err = selectSide(ctx, a, exchange.From, arg)
	case "to":
		err = selectSide(ctx, a, exchange.To, arg)
	case "chain":
		err = selectChain(a, rest)
	case "amount", "a":
		err = a.orch.SetFromAmount(arg)
	case "receive":
		err = a.orch.SetToAmount(arg)
	case "max":
		err = a.orch.RequestMax()
	case "flip":
		err = a.orch.SwapSides()
	case "slippage":
		err = a.orch.SetSlippage(arg)
	case "receiver":
		err = a.orch.SetReceiver(arg)
	case "refresh", "r":
		err = a.orch.Refresh()
	case "approve":
		err = withSpinner(false, " Waiting for approval to confirm...", func() error {
			return a.orch.Approve(ctx)
		})
		if err == nil {
			color.Green("  ✓ Approval confirmed")
		}
	case "execute", "exec":
		err = execute(ctx, a, false)
	case "show", "s":
		displayView(a.orch.View())
		return false
	case "reset":
		a.orch.Reset()
	default:
		err = fmt.Errorf("unknown command %q, type 'help'", verb)
	}

	if err != nil {
		reportError(err)
		return false
	}
	if w := a.orch.View().Warning; w != "" {
		color.Yellow("  %s", w)
	}
	return false
}

func selectSide(ctx context.Context, a *app, side exchange.Side, arg string) error {
	symbol, chainName, _ := strings.Cut(arg, "@")
	if symbol == "" {
		return fmt.Errorf("usage: %s <token>[@chain]", side)
	}

	v := a.orch.View()
	chainID := v.Intent.SourceChainID
	if side == exchange.To {
		chainID = v.Intent.DestChainID
	}
	if chainName != "" {
		id, err := parser.ParseChain(chainName)
		if err != nil {
			return err
		}
		chainID = id
	}
	if chainID <= 0 {
		chainID = a.chainID
	}

	if a.book != nil {
		if _, loaded := a.book.LoadedAt(chainID); !loaded {
			if err := a.book.Refresh(ctx, a.sender, chainID); err != nil {
				logger.Warn().Err(err).Msg("balance refresh failed")
			}
		}
	}

	tok, err := a.resolveToken(ctx, chainID, symbol)
	if err != nil {
		return err
	}
	return a.orch.SelectToken(side, tok)
}

func selectChain(a *app, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: chain from|to <chain>")
	}
	id, err := parser.ParseChain(args[1])
	if err != nil {
		return err
	}
	switch strings.ToLower(args[0]) {
	case "from":
		return a.orch.SelectChain(exchange.From, id)
	case "to":
		return a.orch.SelectChain(exchange.To, id)
	}
	return errors.New("usage: chain from|to <chain>")
}

func reportError(err error) {
	switch {
	case errors.Is(err, exchange.ErrApprovalRequired):
		color.Yellow("  Approval required first. Run 'approve'.")
	case errors.Is(err, exchange.ErrApprovalPending):
		color.Yellow("  Still checking the allowance, try again in a moment.")
	case errors.Is(err, exchange.ErrSwapNotAllowed):
		color.Yellow("  You hold none of the destination token on its chain, so the sides cannot be flipped.")
	case errors.Is(err, exchange.ErrExceedsBalance):
		color.Yellow("  That would spend more than your balance.")
	default:
		color.Red("  %v", err)
	}
}
