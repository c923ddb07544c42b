package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"wallet-exchange/pkg/amount"
)

// ExchangeCommand is a parsed one-line exchange instruction
type ExchangeCommand struct {
	Amount     string
	FromSymbol string
	ToSymbol   string
	FromChain  int64 // zero when not given
	ToChain    int64 // zero when not given
	Receiver   string
}

// Pattern: <amount> <token>[@chain] TO <token>[@chain] [FOR <address>]
var commandPattern = regexp.MustCompile(`(?i)^(\S+)\s+([A-Z0-9.]+)(?:@([A-Z0-9]+))?\s+TO\s+([A-Z0-9.]+)(?:@([A-Z0-9]+))?(?:\s+FOR\s+(0x[0-9A-F]{40}))?$`)

var chainAliases = map[string]int64{
	"eth":       1,
	"ethereum":  1,
	"mainnet":   1,
	"op":        10,
	"optimism":  10,
	"bsc":       56,
	"bnb":       56,
	"pol":       137,
	"polygon":   137,
	"matic":     137,
	"base":      8453,
	"arb":       42161,
	"arbitrum":  42161,
	"avax":      43114,
	"avalanche": 43114,
}

// ParseExchangeCommand parses a natural language exchange command
// Examples:
//   - "swap 100 USDC to WETH"
//   - "0.5 ETH@arb to USDC@base"
//   - "25 DAI to USDT for 0x1111111111111111111111111111111111111111"
func ParseExchangeCommand(command string) (*ExchangeCommand, error) {
	command = strings.Join(strings.Fields(command), " ")

	// Remove the word "SWAP" if present at the beginning
	if len(command) > 5 && strings.EqualFold(command[:5], "swap ") {
		command = command[5:]
	}

	matches := commandPattern.FindStringSubmatch(command)
	if matches == nil {
		return nil, fmt.Errorf("invalid exchange command format. Expected: '<amount> <token>[@chain] to <token>[@chain] [for <address>]' (e.g., '100 USDC to WETH')")
	}

	if !amount.IsPositive(matches[1]) {
		return nil, fmt.Errorf("invalid amount %q", matches[1])
	}

	cmd := &ExchangeCommand{
		Amount:     matches[1],
		FromSymbol: NormalizeTokenSymbol(matches[2]),
		ToSymbol:   NormalizeTokenSymbol(matches[4]),
		Receiver:   matches[6],
	}

	var err error
	if matches[3] != "" {
		if cmd.FromChain, err = ParseChain(matches[3]); err != nil {
			return nil, err
		}
	}
	if matches[5] != "" {
		if cmd.ToChain, err = ParseChain(matches[5]); err != nil {
			return nil, err
		}
	}
	return cmd, nil
}

// ParseChain accepts a chain id or a well-known chain name
func ParseChain(s string) (int64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if id, ok := chainAliases[s]; ok {
		return id, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("unknown chain %q", s)
	}
	return id, nil
}

// ChainName returns the short name of a chain id, or the id itself
func ChainName(id int64) string {
	switch id {
	case 1:
		return "ethereum"
	case 10:
		return "optimism"
	case 56:
		return "bsc"
	case 137:
		return "polygon"
	case 8453:
		return "base"
	case 42161:
		return "arbitrum"
	case 43114:
		return "avalanche"
	}
	return strconv.FormatInt(id, 10)
}

// NormalizeTokenSymbol normalizes token symbols to standard format
func NormalizeTokenSymbol(symbol string) string {
	return strings.TrimSpace(strings.ToUpper(symbol))
}
