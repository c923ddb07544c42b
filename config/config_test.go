package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zeebo/assert"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	path := writeConfig(t, `
enso:
  api_key: secret
`)
	cfg, err := LoadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, cfg.Provider, ProviderEnso)
	assert.Equal(t, cfg.Enso.BaseURL, "https://api.enso.finance")
	assert.Equal(t, cfg.Exchange.DebounceMS, 800)
	assert.Equal(t, cfg.Exchange.DefaultChainID, int64(1))

	s := cfg.ExchangeSettings()
	assert.Equal(t, s.DebounceDelay, 800*time.Millisecond)
	assert.Equal(t, s.RefreshInterval, 60*time.Second)
	assert.Equal(t, s.SlippagePercent.String(), "0.5")
	assert.Equal(t, s.ApprovalRetries, uint(5))
}

func TestLoadFileNetworks(t *testing.T) {
	path := writeConfig(t, `
provider: intents
oneclick:
  jwt_token: jwt
exchange:
  debounce_ms: 300
  slippage_percent: "1.5"
evm:
  networks:
    arbitrum:
      rpc_url: https://arb1.example
      chain_id: 42161
    ethereum:
      rpc_url: https://eth.example
      private_key: "0xabc"
      chain_id: 1
      gas_limit: 300000
`)
	cfg, err := LoadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, cfg.Provider, ProviderIntents)
	assert.Equal(t, len(cfg.EVM.Networks), 2)

	name, n, ok := cfg.NetworkForChain(1)
	assert.True(t, ok)
	assert.Equal(t, name, "ethereum")
	assert.Equal(t, n.PrivateKey, "0xabc")
	assert.Equal(t, *n.GasLimit, uint64(300000))
	assert.True(t, n.GasPrice == nil)

	_, _, ok = cfg.NetworkForChain(10)
	assert.False(t, ok)

	s := cfg.ExchangeSettings()
	assert.Equal(t, s.DebounceDelay, 300*time.Millisecond)
	assert.Equal(t, s.SlippagePercent.String(), "1.5")
}

func TestLoadFileEnvOverride(t *testing.T) {
	path := writeConfig(t, `
enso:
  api_key: from-file
`)
	t.Setenv("WALLET_EXCHANGE_ENSO_API_KEY", "from-env")
	t.Setenv("WALLET_EXCHANGE_EXCHANGE_REFRESH_SECONDS", "15")

	cfg, err := LoadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, cfg.Enso.APIKey, "from-env")
	assert.Equal(t, cfg.ExchangeSettings().RefreshInterval, 15*time.Second)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Provider: ProviderEnso,
			Enso:     EnsoConfig{APIKey: "k"},
			Exchange: ExchangeConfig{SlippagePercent: "0.5", DefaultChainID: 1},
		}
	}
	assert.NoError(t, valid().Validate())

	cases := map[string]func(c *Config){
		"missing key":       func(c *Config) { c.Enso.APIKey = "" },
		"missing jwt":       func(c *Config) { c.Provider = ProviderIntents },
		"unknown provider":  func(c *Config) { c.Provider = "uniswap" },
		"slippage too high": func(c *Config) { c.Exchange.SlippagePercent = "11" },
		"slippage too low":  func(c *Config) { c.Exchange.SlippagePercent = "0.01" },
		"slippage garbage":  func(c *Config) { c.Exchange.SlippagePercent = "lots" },
		"no chain":          func(c *Config) { c.Exchange.DefaultChainID = 0 },
		"network chain": func(c *Config) {
			c.EVM.Networks = map[string]EVMNetwork{"x": {RPCUrl: "http://x"}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
