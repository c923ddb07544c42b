package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"wallet-exchange/config"
	"wallet-exchange/pkg/journal"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [receipt-id]",
	Short: "List submitted exchanges",
	Long: `List the exchanges submitted from this machine, newest first, or show a
single receipt.

Examples:
  wallet-exchange history
  wallet-exchange history --limit 5
  wallet-exchange history 2f1c9e0a-...`,
	Args: cobra.MaximumNArgs(1),
	Run:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of receipts to show")
}

func runHistory(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFile(cfgPath)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	storage, err := journal.NewStorage(cfg.JournalPath)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if len(args) == 1 {
		r, err := storage.Get(args[0])
		if err != nil {
			printError(err)
			os.Exit(1)
		}
		if jsonOutput {
			jsonData, _ := json.MarshalIndent(r, "", "  ")
			fmt.Println(string(jsonData))
			return
		}
		displayReceipt(&r)
		return
	}

	receipts := storage.List()
	if historyLimit > 0 && len(receipts) > historyLimit {
		receipts = receipts[:historyLimit]
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(receipts, "", "  ")
		fmt.Println(string(jsonData))
		return
	}

	if len(receipts) == 0 {
		fmt.Println("\nNo exchanges recorded yet.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                                  EXCHANGE HISTORY")
	fmt.Println(strings.Repeat("=", 90))
	for _, r := range receipts {
		route := chainLabel(r.SourceChainID)
		if r.Bridging() {
			route += " -> " + chainLabel(r.DestChainID)
		}
		fmt.Printf("\n  %s  %s %s -> ~%s %s  %s\n",
			r.SubmittedAt.Local().Format("2006-01-02 15:04"),
			r.FromAmount, color.YellowString(r.FromToken.Symbol),
			r.ToAmount, color.YellowString(r.ToToken.Symbol),
			color.HiBlackString(route))
		fmt.Printf("    %s  %s\n", color.HiBlackString(r.ID), color.CyanString(r.TxHash))
	}
	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Printf("\nShowing %d of %d exchanges (%s)\n\n", len(receipts), storage.Count(), storage.FilePath())
}
