package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	oneclick "github.com/defuse-protocol/one-click-sdk-go"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"wallet-exchange/config"
	"wallet-exchange/pkg/client"
	"wallet-exchange/pkg/journal"
	"wallet-exchange/pkg/types"
)

var (
	watchStatus   bool
	watchInterval int
)

var statusCmd = &cobra.Command{
	Use:   "status <receipt-id | deposit-address>",
	Short: "Track the settlement of a bridged exchange",
	Long: `Track the destination leg of a cross-chain exchange.

Pass a receipt id from 'history' to compare the settlement against what was
submitted, or a raw 1Click deposit address.

Examples:
  wallet-exchange status 2f1c9e0a-...
  wallet-exchange status 2f1c9e0a-... --watch
  wallet-exchange status 0x1234...abcd --watch --interval 10`,
	Args: cobra.ExactArgs(1),
	Run:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Poll until the exchange settles")
	statusCmd.Flags().IntVar(&watchInterval, "interval", 5, "Polling interval in seconds (when watching)")
}

// settlement pairs what was submitted with what 1Click reports.
type settlement struct {
	DepositAddress string                               `json:"deposit_address"`
	Receipt        *types.Receipt                       `json:"receipt,omitempty"`
	Status         *oneclick.GetExecutionStatusResponse `json:"status,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFile(cfgPath)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	applyLogLevel(cmd, cfg.LogLevel)

	st, err := resolveSettlement(cfg, args[0])
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	if st.DepositAddress == "" {
		// same-chain exchanges are final once the transaction confirms
		if jsonOutput {
			jsonData, _ := json.MarshalIndent(st, "", "  ")
			fmt.Println(string(jsonData))
			return
		}
		displayLegs(st)
		return
	}

	if cfg.OneClick.JWTToken == "" {
		printError(fmt.Errorf("settlement lookups need oneclick.jwt_token"))
		os.Exit(1)
	}
	intents := client.NewIntentsClient(cfg.OneClick.BaseURL, cfg.OneClick.JWTToken, logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if watchStatus {
		if jsonOutput {
			printError(errors.New("--watch cannot be combined with --json"))
			os.Exit(1)
		}
		watchSettlement(ctx, intents, st)
		return
	}

	err = withSpinner(jsonOutput, " Checking settlement...", func() error {
		var err error
		st.Status, err = intents.GetSwapStatus(ctx, st.DepositAddress)
		return err
	})
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	if jsonOutput {
		jsonData, _ := json.MarshalIndent(st, "", "  ")
		fmt.Println(string(jsonData))
		return
	}
	displayLegs(st)
}

// resolveSettlement accepts either a journal receipt id or a deposit
// address.
func resolveSettlement(cfg *config.Config, arg string) (settlement, error) {
	if common.IsHexAddress(arg) {
		return settlement{DepositAddress: common.HexToAddress(arg).Hex()}, nil
	}

	storage, err := journal.NewStorage(cfg.JournalPath)
	if err != nil {
		return settlement{}, err
	}
	r, err := storage.Get(arg)
	if err != nil {
		return settlement{}, err
	}
	st := settlement{Receipt: &r}
	if !r.Bridging() {
		return st, nil
	}
	addr, err := client.ReceiptDepositAddress(r)
	if err != nil {
		return settlement{}, fmt.Errorf("receipt %s was not paid into a 1Click deposit: %w", r.ID, err)
	}
	st.DepositAddress = addr
	return st, nil
}

func watchSettlement(ctx context.Context, intents *client.IntentsClient, st settlement) {
	fmt.Printf("\nWatching %s every %ds. Press Ctrl+C to stop.\n", color.CyanString(st.DepositAddress), watchInterval)

	ticker := time.NewTicker(time.Duration(watchInterval) * time.Second)
	defer ticker.Stop()

	var last string
	for {
		status, err := intents.GetSwapStatus(ctx, st.DepositAddress)
		if err != nil {
			color.Red("Error: %v", err)
		} else if current := status.GetStatus(); current != last {
			last = current
			st.Status = status
			displayLegs(st)
			if client.Settled(current) {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func displayLegs(st settlement) {
	fmt.Println("\n" + strings.Repeat("=", 78))
	color.Green("                              SETTLEMENT")
	fmt.Println(strings.Repeat("=", 78))

	r := st.Receipt
	if r != nil {
		fmt.Printf("\n  Receipt:   %s  (%s)\n", r.ID, r.SubmittedAt.Local().Format("2006-01-02 15:04"))
	}
	if st.DepositAddress != "" {
		fmt.Printf("  Deposit:   %s\n", color.CyanString(st.DepositAddress))
	}

	rep := reportOf(st.Status)

	color.Cyan("\n  Source leg")
	fmt.Println("  " + strings.Repeat("-", 74))
	if r != nil {
		fmt.Printf("  %-12s %s\n", "Chain:", chainLabel(r.SourceChainID))
		fmt.Printf("  %-12s %s %s\n", "Sent:", r.FromAmount, color.YellowString(r.FromToken.Symbol))
		fmt.Printf("  %-12s %s\n", "Tx:", color.HiBlackString(r.TxHash))
	}
	if rep.amountIn != "" {
		fmt.Printf("  %-12s %s\n", "Received:", rep.amountIn)
	}
	for _, h := range rep.deposits {
		if r == nil || !strings.EqualFold(h, r.TxHash) {
			fmt.Printf("  %-12s %s\n", "Deposit tx:", color.HiBlackString(h))
		}
	}

	color.Cyan("\n  Destination leg")
	fmt.Println("  " + strings.Repeat("-", 74))
	if r != nil {
		fmt.Printf("  %-12s %s\n", "Chain:", chainLabel(r.DestChainID))
		fmt.Printf("  %-12s %s\n", "Receiver:", r.Receiver)
		fmt.Printf("  %-12s ~%s %s\n", "Expected:", r.ToAmount, color.YellowString(r.ToToken.Symbol))
	}
	if rep.amountOut != "" {
		fmt.Printf("  %-12s %s\n", "Delivered:", color.GreenString(rep.amountOut))
	}
	for _, h := range rep.payouts {
		fmt.Printf("  %-12s %s\n", "Payout tx:", color.HiBlackString(h))
	}

	switch {
	case st.Status != nil:
		fmt.Printf("\n  Status:    %s  (updated %s)\n",
			coloredSettlement(st.Status.GetStatus()),
			st.Status.GetUpdatedAt().Local().Format("15:04:05"))
	case r != nil && !r.Bridging():
		fmt.Printf("\n  Status:    %s\n", color.GreenString("same-chain, final once the transaction confirmed"))
	}

	fmt.Println("\n" + strings.Repeat("=", 78) + "\n")
}

type legReport struct {
	amountIn, amountOut string
	deposits, payouts   []string
}

func reportOf(status *oneclick.GetExecutionStatusResponse) legReport {
	var rep legReport
	if status == nil {
		return rep
	}
	d := status.GetSwapDetails()
	if d.HasAmountInFormatted() {
		rep.amountIn = d.GetAmountInFormatted()
	}
	if d.HasAmountOutFormatted() {
		rep.amountOut = d.GetAmountOutFormatted()
	}
	for _, tx := range d.GetOriginChainTxHashes() {
		if h := tx.GetHash(); h != "" {
			rep.deposits = append(rep.deposits, h)
		}
	}
	for _, tx := range d.GetDestinationChainTxHashes() {
		if h := tx.GetHash(); h != "" {
			rep.payouts = append(rep.payouts, h)
		}
	}
	return rep
}

func coloredSettlement(status string) string {
	status = strings.ToUpper(status)
	switch {
	case status == "SUCCESS":
		return color.GreenString(status)
	case client.Settled(status):
		return color.RedString(status)
	case status == "INCOMPLETE_DEPOSIT":
		return color.MagentaString(status)
	default:
		return color.YellowString(status)
	}
}
