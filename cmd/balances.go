package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"wallet-exchange/config"
	"wallet-exchange/pkg/client"
	"wallet-exchange/pkg/parser"
	"wallet-exchange/pkg/submit"
	"wallet-exchange/pkg/types"
)

var balanceChains []string

var balancesCmd = &cobra.Command{
	Use:     "balances",
	Aliases: []string{"bal"},
	Short:   "Show wallet balances",
	Long: `Show the tokens your wallet holds, valued in USD.

Examples:
  wallet-exchange balances
  wallet-exchange balances --chain arbitrum --chain base
  wallet-exchange balances --wallet 0x1234...abcd`,
	Run: runBalances,
}

func init() {
	rootCmd.AddCommand(balancesCmd)

	balancesCmd.Flags().StringSliceVar(&balanceChains, "chain", nil, "Chains to show (default: exchange.default_chain_id)")
	balancesCmd.Flags().StringVar(&walletAddr, "wallet", "", "Wallet address (default: the configured signer)")
}

func runBalances(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFile(cfgPath)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	applyLogLevel(cmd, cfg.LogLevel)
	if cfg.Enso.APIKey == "" && cfg.OneClick.JWTToken == "" {
		printError(fmt.Errorf("balances need enso.api_key or oneclick.jwt_token"))
		os.Exit(1)
	}

	chains := []int64{cfg.Exchange.DefaultChainID}
	if len(balanceChains) > 0 {
		chains = chains[:0]
		for _, c := range balanceChains {
			id, err := parser.ParseChain(c)
			if err != nil {
				printError(err)
				os.Exit(1)
			}
			chains = append(chains, id)
		}
	}

	signers, err := submit.DialManager(cfg.EVM, logger)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer signers.Close()

	owner := walletAddr
	if owner == "" {
		if addr, ok := signers.Address(chains[0]); ok {
			owner = addr
		} else if all := signers.Chains(); len(all) > 0 {
			owner, _ = signers.Address(all[0])
		}
	}
	if owner == "" {
		printError(fmt.Errorf("no wallet address: configure a network with a private key or pass --wallet"))
		os.Exit(1)
	}

	var (
		enso    *client.EnsoClient
		intents *client.IntentsClient
	)
	if cfg.Enso.APIKey != "" {
		enso = client.NewEnsoClient(cfg.Enso.BaseURL, cfg.Enso.APIKey, logger)
	} else {
		intents = client.NewIntentsClient(cfg.OneClick.BaseURL, cfg.OneClick.JWTToken, logger)
	}
	book := newBook(cfg, enso, intents, signers)

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching balances..."
		s.Start()
	}
	err = book.Refresh(cmd.Context(), owner, chains...)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		color.Yellow("\nSome chains could not be loaded: %v", err)
	}

	byChain := make(map[int64][]types.BalanceItem, len(chains))
	for _, id := range chains {
		byChain[id] = book.List(id)
	}

	if jsonOutput {
		output := make(map[string][]types.BalanceItem, len(byChain))
		for id, items := range byChain {
			output[parser.ChainName(id)] = items
		}
		jsonData, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(jsonData))
		return
	}

	displayBalances(owner, chains, byChain)
}

func displayBalances(owner string, chains []int64, byChain map[int64][]types.BalanceItem) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                          WALLET BALANCES")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("\n  Wallet: %s\n", color.CyanString(owner))

	total := decimal.Zero
	for _, id := range chains {
		items := byChain[id]
		color.Cyan("\n%s", chainLabel(id))
		fmt.Println(strings.Repeat("-", 70))
		if len(items) == 0 {
			fmt.Println(color.HiBlackString("  no tokens"))
			continue
		}
		for _, item := range items {
			fmt.Printf("  %-10s  %24s  %12s\n",
				color.YellowString(item.Symbol),
				item.FormattedBalance.String(),
				item.FormattedUSD())
			total = total.Add(item.USDValue)
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	fmt.Printf("\nTotal: $%s\n\n", total.StringFixed(2))
}
