package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"wallet-exchange/pkg/exchange"
	"wallet-exchange/pkg/types"
)

func tokenLabel(t *types.TokenRef) string {
	if t == nil {
		return color.HiBlackString("(none)")
	}
	return fmt.Sprintf("%s on %s", color.YellowString(t.Symbol), chainLabel(t.ChainID))
}

func displayView(v exchange.View) {
	in := v.Intent

	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                    EXCHANGE")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  From:              %s %s\n", orDash(in.FromAmount), tokenLabel(in.FromToken))
	if in.FromToken != nil {
		fmt.Printf("  Balance:           %s %s\n", v.FromBalance.FormattedBalance.String(), v.FromBalance.FormattedUSD())
	}
	fmt.Printf("  To:                ~%s %s\n", orDash(in.ToAmount), tokenLabel(in.ToToken))
	if in.ToToken != nil && v.ToBalance.FormattedBalance.IsPositive() {
		fmt.Printf("  Balance:           %s %s\n", v.ToBalance.FormattedBalance.String(), v.ToBalance.FormattedUSD())
	}
	fmt.Printf("  Slippage:          %s%%\n", in.SlippagePercent().String())
	if !strings.EqualFold(in.Receiver, in.Sender) {
		fmt.Printf("  Receiver:          %s\n", color.CyanString(in.Receiver))
	}
	fmt.Printf("  Status:            %s (quote %s)\n", v.Phase, v.QuoteState)

	if d, ok := v.Details(); ok {
		displayDetails(d, in)
	}

	if v.QuoteErr != nil {
		color.Red("\n  Quote failed: %v", v.QuoteErr)
	}
	switch {
	case v.ApprovalCheckPending:
		color.Yellow("\n  Checking allowance...")
	case v.NeedsApproval && v.Approval != nil:
		color.Yellow("\n  Approval required for %s (spender %s)", in.FromToken.Symbol, v.Approval.Spender)
	}
	if v.ApprovalCheckErr != nil {
		color.Red("  Allowance check failed: %v", v.ApprovalCheckErr)
	}
	if v.ApproveErr != nil {
		color.Red("  Approval failed: %v", v.ApproveErr)
	}
	if v.SubmitErr != nil {
		color.Red("  Exchange failed: %v", v.SubmitErr)
	}
	if v.Warning != "" {
		color.Yellow("  %s", v.Warning)
	}

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func displayDetails(d exchange.QuoteDetails, in exchange.Intent) {
	fmt.Printf("\n  Rate:              1 %s = %s %s\n", in.FromToken.Symbol, d.Rate.String(), in.ToToken.Symbol)
	fmt.Printf("  Minimum Received:  %s %s\n", d.MinReceived.String(), in.ToToken.Symbol)

	impact := d.PriceImpactPercent.String() + "%"
	switch d.Severity {
	case exchange.ImpactHigh:
		impact = color.RedString(impact)
	case exchange.ImpactWarn:
		impact = color.YellowString(impact)
	case exchange.ImpactSurplus:
		impact = color.GreenString(impact)
	}
	fmt.Printf("  Price Impact:      %s\n", impact)

	if d.GasEstimate != "" {
		fmt.Printf("  Gas Estimate:      %s\n", d.GasEstimate)
	}
	if len(d.Route) > 0 {
		steps := make([]string, 0, len(d.Route))
		for _, h := range d.Route {
			steps = append(steps, h.Protocol)
		}
		fmt.Printf("  Route:             %s\n", strings.Join(steps, " -> "))
	}
	if d.Bridging {
		fmt.Printf("  Bridge:            %s -> %s\n", chainLabel(in.SourceChainID), chainLabel(in.DestChainID))
	}
	if d.Countdown > 0 {
		fmt.Printf("  Refreshes In:      %.0fs\n", d.Countdown.Seconds())
	}
}

func displayReceipt(r *types.Receipt) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                 EXCHANGE SUBMITTED")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Receipt:           %s\n", r.ID)
	fmt.Printf("  Transaction:       %s\n", color.CyanString(r.TxHash))
	fmt.Printf("  Sent:              %s %s\n", r.FromAmount, color.YellowString(r.FromToken.Symbol))
	fmt.Printf("  Expected:          ~%s %s\n", r.ToAmount, color.YellowString(r.ToToken.Symbol))
	if r.Bridging() {
		color.Yellow("\n  Bridging from %s to %s. Funds arrive once the bridge settles.",
			chainLabel(r.SourceChainID), chainLabel(r.DestChainID))
	}

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func confirm(prompt string) bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("\n%s (y/N): ", prompt)

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
