package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"wallet-exchange/pkg/exchange"
)

const (
	ProviderEnso    = "enso"
	ProviderIntents = "intents"
)

// Config holds the application configuration
type Config struct {
	Provider    string
	Enso        EnsoConfig
	OneClick    OneClickConfig
	Exchange    ExchangeConfig
	EVM         EVMConfig
	JournalPath string
	MetricsAddr string
	LogLevel    string
}

// EnsoConfig configures the Enso routing API
type EnsoConfig struct {
	APIKey  string
	BaseURL string
}

// OneClickConfig configures the NEAR Intents 1Click API
type OneClickConfig struct {
	JWTToken string
	BaseURL  string
}

// ExchangeConfig tunes the exchange session
type ExchangeConfig struct {
	DebounceMS      int
	RefreshSeconds  int
	SlippagePercent string
	ApprovalRetries int
	BalanceRetries  int
	DefaultChainID  int64
}

// EVMConfig lists the EVM networks transactions can be sent on
type EVMConfig struct {
	Networks map[string]EVMNetwork
}

// EVMNetwork is a single EVM chain with its signer
type EVMNetwork struct {
	RPCUrl     string  `mapstructure:"rpc_url"`
	PrivateKey string  `mapstructure:"private_key"`
	ChainID    int64   `mapstructure:"chain_id"`
	GasLimit   *uint64 `mapstructure:"gas_limit"`
	GasPrice   *int64  `mapstructure:"gas_price"`
}

var globalConfig *Config

// Load reads configuration from environment variables and config file
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches
// $HOME and the working directory for .wallet-exchange.yaml.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(".wallet-exchange")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME")
		v.AddConfigPath(".")
	}

	// Set default values
	v.SetDefault("provider", ProviderEnso)
	v.SetDefault("enso.base_url", "https://api.enso.finance")
	v.SetDefault("oneclick.base_url", "https://1click.chaindefuser.com")
	v.SetDefault("exchange.debounce_ms", 800)
	v.SetDefault("exchange.refresh_seconds", 60)
	v.SetDefault("exchange.slippage_percent", "0.5")
	v.SetDefault("exchange.approval_retries", 5)
	v.SetDefault("exchange.balance_retries", 2)
	v.SetDefault("exchange.default_chain_id", 1)
	v.SetDefault("journal_path", defaultJournalPath())
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_level", "warn")

	// Read from environment variables
	v.SetEnvPrefix("WALLET_EXCHANGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || path != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		Provider: strings.ToLower(v.GetString("provider")),
		Enso: EnsoConfig{
			APIKey:  v.GetString("enso.api_key"),
			BaseURL: v.GetString("enso.base_url"),
		},
		OneClick: OneClickConfig{
			JWTToken: v.GetString("oneclick.jwt_token"),
			BaseURL:  v.GetString("oneclick.base_url"),
		},
		Exchange: ExchangeConfig{
			DebounceMS:      v.GetInt("exchange.debounce_ms"),
			RefreshSeconds:  v.GetInt("exchange.refresh_seconds"),
			SlippagePercent: v.GetString("exchange.slippage_percent"),
			ApprovalRetries: v.GetInt("exchange.approval_retries"),
			BalanceRetries:  v.GetInt("exchange.balance_retries"),
			DefaultChainID:  v.GetInt64("exchange.default_chain_id"),
		},
		JournalPath: v.GetString("journal_path"),
		MetricsAddr: v.GetString("metrics_addr"),
		LogLevel:    v.GetString("log_level"),
	}

	if err := v.UnmarshalKey("evm.networks", &cfg.EVM.Networks); err != nil {
		return nil, fmt.Errorf("invalid evm.networks: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

// Validate checks that the selected provider can be used
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderEnso:
		if c.Enso.APIKey == "" {
			return fmt.Errorf("Enso API key not found. Please set WALLET_EXCHANGE_ENSO_API_KEY environment variable or enso.api_key in .wallet-exchange.yaml")
		}
	case ProviderIntents:
		if c.OneClick.JWTToken == "" {
			return fmt.Errorf("JWT token not found. Please set WALLET_EXCHANGE_ONECLICK_JWT_TOKEN environment variable or oneclick.jwt_token in .wallet-exchange.yaml")
		}
	default:
		return fmt.Errorf("unknown provider %q (expected %q or %q)", c.Provider, ProviderEnso, ProviderIntents)
	}

	slippage, err := decimal.NewFromString(c.Exchange.SlippagePercent)
	if err != nil {
		return fmt.Errorf("invalid exchange.slippage_percent %q", c.Exchange.SlippagePercent)
	}
	if slippage.LessThan(decimal.RequireFromString("0.1")) || slippage.GreaterThan(decimal.NewFromInt(10)) {
		return fmt.Errorf("exchange.slippage_percent must be between 0.1 and 10, got %s", slippage)
	}
	if c.Exchange.DefaultChainID <= 0 {
		return fmt.Errorf("exchange.default_chain_id must be positive")
	}

	for name, n := range c.EVM.Networks {
		if n.ChainID <= 0 {
			return fmt.Errorf("network %s: chain_id is required", name)
		}
	}
	return nil
}

// ExchangeSettings converts the exchange section into session settings
func (c *Config) ExchangeSettings() exchange.Config {
	s := exchange.DefaultConfig()
	if c.Exchange.DebounceMS > 0 {
		s.DebounceDelay = time.Duration(c.Exchange.DebounceMS) * time.Millisecond
	}
	if c.Exchange.RefreshSeconds > 0 {
		s.RefreshInterval = time.Duration(c.Exchange.RefreshSeconds) * time.Second
	}
	if d, err := decimal.NewFromString(c.Exchange.SlippagePercent); err == nil {
		s.SlippagePercent = d
	}
	if c.Exchange.ApprovalRetries > 0 {
		s.ApprovalRetries = uint(c.Exchange.ApprovalRetries)
	}
	return s
}

// NetworkForChain finds the configured network for a chain id
func (c *Config) NetworkForChain(chainID int64) (string, EVMNetwork, bool) {
	names := make([]string, 0, len(c.EVM.Networks))
	for name := range c.EVM.Networks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if n := c.EVM.Networks[name]; n.ChainID == chainID {
			return name, n, true
		}
	}
	return "", EVMNetwork{}, false
}

func defaultJournalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wallet-exchange-history.json"
	}
	return filepath.Join(home, ".wallet-exchange", "history.json")
}

// Get returns the global configuration
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		return cfg
	}
	return globalConfig
}
