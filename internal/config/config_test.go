package config

import (
	"os"
	"path/filepath"
	"testing"
)

const testConfigJSON = `{
  "dry_run": true,
  "key_store": {"directory": "/tmp/keys", "signer_tag": "arb"},
  "dex": {
    "rpc_http_url": "https://rpc.example.com",
    "rpc_ws_url": "wss://rpc.example.com",
    "program_id": "11111111111111111111111111111111",
    "margin_account": "11111111111111111111111111111111",
    "margin_group": "11111111111111111111111111111111"
  },
  "cex": {"rest_base_url": "https://cex.example.com"},
  "pairs": [{"base": "SOL", "quote": "USDC", "cex_market_name": "SOL/USDC", "dex_market_address": "11111111111111111111111111111111"}],
  "strategy": {"max_usd_trade_size": 1000, "min_usd_trade_profit": 1}
}`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(testConfigJSON), 0o600); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return path
}

func TestLoadAndValidate(t *testing.T) {
	t.Parallel()
	path := writeTestConfig(t)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !cfg.DryRun {
		t.Error("expected dry_run true")
	}
	if len(cfg.Pairs) != 1 || cfg.Pairs[0].Base != "SOL" {
		t.Errorf("unexpected pairs: %+v", cfg.Pairs)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeTestConfig(t)
	t.Setenv("ARB_CEX_API_KEY", "env-key")
	t.Setenv("ARB_CEX_SECRET", "env-secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CEX.APIKey != "env-key" || cfg.CEX.Secret != "env-secret" {
		t.Errorf("env overrides not applied: %+v", cfg.CEX)
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"no key store dir", func(c *Config) { c.KeyStore.Directory = "" }},
		{"no rpc urls", func(c *Config) { c.DEX.RPCHTTPURL = "" }},
		{"no pairs", func(c *Config) { c.Pairs = nil }},
		{"zero trade size", func(c *Config) { c.Strategy.MaxUSDTradeSize = 0 }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mut(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		KeyStore: KeyStoreConfig{Directory: "/tmp/keys", SignerTag: "arb"},
		DEX: DEXConfig{
			RPCHTTPURL:    "https://rpc.example.com",
			RPCWSURL:      "wss://rpc.example.com",
			MarginAccount: "11111111111111111111111111111111",
			MarginGroup:   "11111111111111111111111111111111",
		},
		CEX:      CEXConfig{RESTBaseURL: "https://cex.example.com"},
		Pairs:    []PairConfig{{Base: "SOL", Quote: "USDC"}},
		Strategy: StrategyConfig{MaxUSDTradeSize: 1000, MinUSDTradeProfit: 1},
		DryRun:   true,
	}
}
