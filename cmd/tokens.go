package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"wallet-exchange/config"
	"wallet-exchange/pkg/client"
	"wallet-exchange/pkg/parser"
	"wallet-exchange/pkg/submit"
	"wallet-exchange/pkg/types"
	"wallet-exchange/pkg/wallet"
)

var (
	tokenChains  []string
	filterSymbol string
)

var tokensCmd = &cobra.Command{
	Use:     "list-tokens",
	Aliases: []string{"tokens", "ls"},
	Short:   "List the tokens you can exchange into",
	Long: `List the 1Click catalog per chain with decimals and contract address.
Tokens your wallet already holds are marked with their balance.

Examples:
  wallet-exchange list-tokens
  wallet-exchange list-tokens --chain arbitrum --chain base
  wallet-exchange list-tokens --chain 8453 --symbol USDC --wallet 0x1234...abcd`,
	Run: runListTokens,
}

func init() {
	rootCmd.AddCommand(tokensCmd)

	tokensCmd.Flags().StringSliceVar(&tokenChains, "chain", nil, "Chains to list (default: exchange.default_chain_id)")
	tokensCmd.Flags().StringVar(&filterSymbol, "symbol", "", "Only symbols containing this text")
	tokensCmd.Flags().StringVar(&walletAddr, "wallet", "", "Wallet whose holdings are marked (default: the configured signer)")
}

type tokenRow struct {
	ChainID  int64  `json:"chain_id"`
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals int32  `json:"decimals"`
	Held     bool   `json:"held"`
	Balance  string `json:"balance,omitempty"`
}

func runListTokens(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFile(cfgPath)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	applyLogLevel(cmd, cfg.LogLevel)
	if cfg.OneClick.JWTToken == "" {
		printError(fmt.Errorf("the token catalog needs oneclick.jwt_token"))
		os.Exit(1)
	}

	chains := []int64{cfg.Exchange.DefaultChainID}
	if len(tokenChains) > 0 {
		chains = chains[:0]
		for _, c := range tokenChains {
			id, err := parser.ParseChain(c)
			if err != nil {
				printError(err)
				os.Exit(1)
			}
			chains = append(chains, id)
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	intents := client.NewIntentsClient(cfg.OneClick.BaseURL, cfg.OneClick.JWTToken, logger)

	catalog := make(map[int64][]types.TokenRef, len(chains))
	err = withSpinner(jsonOutput, " Fetching token catalog...", func() error {
		for _, id := range chains {
			refs, err := intents.CatalogTokens(ctx, id)
			if err != nil {
				return fmt.Errorf("%s: %w", parser.ChainName(id), err)
			}
			catalog[id] = filterCatalog(refs, filterSymbol)
		}
		return nil
	})
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	book, owner := holdingsBook(ctx, cfg, intents, chains)

	var rows []tokenRow
	for _, id := range chains {
		for _, tok := range book.Selectable(catalog[id]) {
			rows = append(rows, rowOf(tok))
		}
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(rows, "", "  ")
		fmt.Println(string(jsonData))
		return
	}
	displayTokens(owner, chains, rows)
}

func filterCatalog(refs []types.TokenRef, symbol string) []types.TokenRef {
	if symbol == "" {
		return refs
	}
	var out []types.TokenRef
	for _, ref := range refs {
		if strings.Contains(strings.ToUpper(ref.Symbol), strings.ToUpper(symbol)) {
			out = append(out, ref)
		}
	}
	return out
}

// holdingsBook loads the wallet's balances when a wallet is known. Without
// one, or when balances cannot be read, an empty book marks nothing.
func holdingsBook(ctx context.Context, cfg *config.Config, intents *client.IntentsClient, chains []int64) (*wallet.Book, string) {
	empty := wallet.NewBook(nil, 1, 0, logger)

	signers, err := submit.DialManager(cfg.EVM, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("holdings not marked")
		return empty, ""
	}
	defer signers.Close()

	owner := walletAddr
	if owner == "" {
		if addr, ok := signers.Address(chains[0]); ok {
			owner = addr
		}
	}
	if owner == "" {
		return empty, ""
	}

	var enso *client.EnsoClient
	if cfg.Enso.APIKey != "" {
		enso = client.NewEnsoClient(cfg.Enso.BaseURL, cfg.Enso.APIKey, logger)
	}
	book := newBook(cfg, enso, intents, signers)
	if book == nil {
		return empty, owner
	}
	if err := book.Refresh(ctx, owner, chains...); err != nil {
		color.Yellow("Holdings on some chains could not be loaded: %v", err)
	}
	return book, owner
}

func rowOf(tok types.SelectableToken) tokenRow {
	ref := tok.Ref()
	row := tokenRow{
		ChainID:  ref.ChainID,
		Symbol:   ref.Symbol,
		Address:  ref.Address,
		Decimals: ref.Decimals,
	}
	if item, ok := tok.Holding(); ok {
		row.Held = true
		row.Balance = item.FormattedBalance.String()
	}
	return row
}

func displayTokens(owner string, chains []int64, rows []tokenRow) {
	if len(rows) == 0 {
		fmt.Println("\nNo tokens found matching the criteria.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 96))
	color.Green("                                 EXCHANGEABLE TOKENS")
	fmt.Println(strings.Repeat("=", 96))
	if owner != "" {
		fmt.Printf("\n  Holdings of %s marked with %s\n", color.CyanString(owner), color.GreenString("*"))
	}

	held := 0
	for _, id := range chains {
		color.Cyan("\n%s (chain %d)", chainLabel(id), id)
		fmt.Println(strings.Repeat("-", 96))
		for _, row := range rows {
			if row.ChainID != id {
				continue
			}
			mark, balance := " ", ""
			if row.Held {
				held++
				mark = color.GreenString("*")
				balance = row.Balance
			}
			fmt.Printf("  %s %-10s  %2d dp  %-44s  %s\n",
				mark,
				color.YellowString(row.Symbol),
				row.Decimals,
				color.HiBlackString(row.Address),
				balance)
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 96))
	fmt.Printf("\n%d tokens across %d chains, %d held\n\n", len(rows), len(chains), held)
}
