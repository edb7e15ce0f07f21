// Package config defines all configuration for the arbitrage engine.
// Config is loaded from a JSON file (per §6.8 of the design spec) with
// sensitive fields overridable via ARB_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the JSON file
// structure the launcher passes on the command line.
type Config struct {
	DryRun      bool              `mapstructure:"dry_run"`
	KeyStore    KeyStoreConfig    `mapstructure:"key_store"`
	DEX         DEXConfig         `mapstructure:"dex"`
	CEX         CEXConfig         `mapstructure:"cex"`
	Currencies  []CurrencyConfig  `mapstructure:"currencies"`
	Pairs       []PairConfig      `mapstructure:"pairs"`
	Strategy    StrategyConfig    `mapstructure:"strategy"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
}

// KeyStoreConfig points at the on-disk ed25519 key store (§4.8) and names
// the tag of the keypair used to sign transactions/orders.
type KeyStoreConfig struct {
	Directory  string `mapstructure:"directory"`
	SignerTag  string `mapstructure:"signer_tag"`
}

// DEXConfig holds the on-chain RPC endpoints and account addresses.
type DEXConfig struct {
	RPCHTTPURL     string `mapstructure:"rpc_http_url"`
	RPCWSURL       string `mapstructure:"rpc_ws_url"`
	ProgramID      string `mapstructure:"program_id"`
	MarginAccount  string `mapstructure:"margin_account"`
	MarginGroup    string `mapstructure:"margin_group"`
	// MsrmOrSrmVault is the fee-discount vault consulted by PlaceSpotOrder2;
	// optional, defaults to the zero key (no fee discount) when unset.
	MsrmOrSrmVault string `mapstructure:"msrm_or_srm_vault"`
}

// CEXConfig holds the centralized exchange's REST/WS endpoints and HMAC
// credentials.
type CEXConfig struct {
	RESTBaseURL string `mapstructure:"rest_base_url"`
	WSMarketURL string `mapstructure:"ws_market_url"`
	WSUserURL   string `mapstructure:"ws_user_url"`
	APIKey      string `mapstructure:"api_key"`
	Secret      string `mapstructure:"secret"`
}

// CurrencyConfig names one tradeable asset and its venue-specific address.
type CurrencyConfig struct {
	Name     string `mapstructure:"name"`
	Mint     string `mapstructure:"mint"`
	Decimals int    `mapstructure:"decimals"`
}

// PairConfig names one tradeable market across both venues.
type PairConfig struct {
	Base             string `mapstructure:"base"`
	Quote            string `mapstructure:"quote"`
	CEXMarketName    string `mapstructure:"cex_market_name"`
	DEXMarketAddress string `mapstructure:"dex_market_address"`
	// DEXTakerFeeRateBps seeds TradingPair.TakerFeeRate for this pair: the
	// DEX spot-market account carries a referral fee-tier field
	// (FeeRateBps), not the flat taker rate the arbitrage gate and the
	// order client's lot-scaling both need, so it is configured directly.
	DEXTakerFeeRateBps int64 `mapstructure:"dex_taker_fee_rate_bps"`
}

// StrategyConfig tunes the take-and-hedge arbitrage gate (§4.12).
type StrategyConfig struct {
	MaxUSDTradeSize    float64 `mapstructure:"max_usd_trade_size"`
	MinUSDTradeProfit  float64 `mapstructure:"min_usd_trade_profit"`
	// CEXTakerFeeRate is the CEX account's flat taker fee, applied on the
	// CEX leg of the arbitrage-condition check; like the DEX leg's fee, it
	// is not discoverable from the venue's market data, so it is configured.
	CEXTakerFeeRate float64 `mapstructure:"cex_taker_fee_rate"`
}

// TelemetryConfig points at the InfluxDB line-protocol write endpoint (§6.6).
type TelemetryConfig struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
	Bucket  string `mapstructure:"bucket"`
	Org     string `mapstructure:"org"`
	Token   string `mapstructure:"token"`
}

// LoggingConfig is an ambient addition outside the spec's core schema.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PersistenceConfig controls where per-venue inventory snapshots are
// written (§12's supplemented crash-recovery feature).
type PersistenceConfig struct {
	StateDir string `mapstructure:"state_dir"`
}

// Load reads config from a JSON file with env var overrides.
// Sensitive fields use env vars: ARB_CEX_API_KEY, ARB_CEX_SECRET,
// ARB_TELEMETRY_TOKEN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("ARB_CEX_API_KEY"); key != "" {
		cfg.CEX.APIKey = key
	}
	if secret := os.Getenv("ARB_CEX_SECRET"); secret != "" {
		cfg.CEX.Secret = secret
	}
	if token := os.Getenv("ARB_TELEMETRY_TOKEN"); token != "" {
		cfg.Telemetry.Token = token
	}
	if os.Getenv("ARB_DRY_RUN") == "true" || os.Getenv("ARB_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.KeyStore.Directory == "" {
		return fmt.Errorf("key_store.directory is required")
	}
	if c.KeyStore.SignerTag == "" {
		return fmt.Errorf("key_store.signer_tag is required")
	}
	if c.DEX.RPCHTTPURL == "" || c.DEX.RPCWSURL == "" {
		return fmt.Errorf("dex.rpc_http_url and dex.rpc_ws_url are required")
	}
	if c.DEX.MarginAccount == "" || c.DEX.MarginGroup == "" {
		return fmt.Errorf("dex.margin_account and dex.margin_group are required")
	}
	if c.CEX.RESTBaseURL == "" {
		return fmt.Errorf("cex.rest_base_url is required")
	}
	if !c.DryRun && (c.CEX.APIKey == "" || c.CEX.Secret == "") {
		return fmt.Errorf("cex.api_key and cex.secret are required (set ARB_CEX_API_KEY / ARB_CEX_SECRET) unless dry_run")
	}
	if len(c.Pairs) == 0 {
		return fmt.Errorf("at least one trading pair is required")
	}
	if c.Strategy.MaxUSDTradeSize <= 0 {
		return fmt.Errorf("strategy.max_usd_trade_size must be > 0")
	}
	if c.Strategy.MinUSDTradeProfit <= 0 {
		return fmt.Errorf("strategy.min_usd_trade_profit must be > 0")
	}
	if c.Strategy.CEXTakerFeeRate < 0 {
		return fmt.Errorf("strategy.cex_taker_fee_rate must be >= 0")
	}
	return nil
}
