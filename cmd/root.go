package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "wallet-exchange",
	Short: "Quote, approve and execute token exchanges from an EVM wallet",
	Long: `wallet-exchange prices token exchanges between the tokens your wallet holds,
keeps the quote fresh while you edit it, handles ERC-20 approvals and submits
the exchange transaction. Same-chain swaps and cross-chain bridges are routed
through Enso or NEAR Intents 1Click.

Examples:
  wallet-exchange swap 100 USDC to WETH
  wallet-exchange swap 0.5 ETH@arb to USDC@base --yes
  wallet-exchange exchange
  wallet-exchange balances --chain base
  wallet-exchange history`,
	Version: "0.1.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogger(cmd)
	},
}

var logger = zerolog.Nop()

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Config file (default $HOME/.wallet-exchange.yaml)")
	rootCmd.PersistentFlags().String("metrics", "", "Serve Prometheus metrics on this address (e.g. :9090)")
}

// setupLogger writes human-readable logs to stderr at warn level, or debug
// with --verbose. The configured log_level replaces the default once the
// config is loaded.
func setupLogger(cmd *cobra.Command) {
	verbose, _ := cmd.Flags().GetBool("verbose")

	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func applyLogLevel(cmd *cobra.Command, configured string) {
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		return
	}
	if parsed, err := zerolog.ParseLevel(configured); err == nil && configured != "" {
		logger = logger.Level(parsed)
	}
}

func printError(err error) {
	fmt.Printf("\nError: %v\n\n", err)
}
