// Package config
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/amirphl/polyswing/internal/indicator"
	"github.com/amirphl/polyswing/internal/risk"
	"github.com/amirphl/polyswing/internal/strategy"
)

// Duration lets interval values be written as "30s" or "5m" in YAML.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// AssetConfig describes one tracked underlying asset.
type AssetConfig struct {
	BinanceSymbol   string   `yaml:"binance_symbol"`
	Keywords        []string `yaml:"keywords"`
	MinLiquidityUSD float64  `yaml:"min_liquidity_usd"`
}

// Config is the full runtime configuration. Credentials are only ever read
// from the environment; everything else can come from the YAML file.
type Config struct {
	// Polymarket credentials (env only).
	APIKey        string `yaml:"-"`
	APISecret     string `yaml:"-"`
	APIPassphrase string `yaml:"-"`
	FunderAddress string `yaml:"-"`

	ClobHost  string `yaml:"clob_host"`
	GammaHost string `yaml:"gamma_host"`

	DBConnStr string `yaml:"db_conn_str"`
	DBMaxOpen int    `yaml:"db_max_open"`
	DBMaxIdle int    `yaml:"db_max_idle"`

	TelegramToken       string   `yaml:"telegram_token"`
	TelegramChatID      string   `yaml:"telegram_chat_id"`
	NotificationRetries int      `yaml:"notification_retries"`
	NotificationDelay   Duration `yaml:"notification_delay"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`

	Assets map[string]AssetConfig `yaml:"assets"`

	// Indicator lookbacks.
	RSIPeriod        int     `yaml:"rsi_period"`
	BBPeriod         int     `yaml:"bb_period"`
	BBStdDev         float64 `yaml:"bb_std_dev"`
	ReversalLookback int     `yaml:"reversal_lookback"`
	LevelLookback    int     `yaml:"level_lookback"`

	// Divergence thresholds.
	RSIOversold         float64 `yaml:"rsi_oversold"`
	RSIOverbought       float64 `yaml:"rsi_overbought"`
	DivergenceThreshold float64 `yaml:"divergence_threshold"`
	ProbSensitivity     float64 `yaml:"prob_sensitivity"`
	BandProximity       float64 `yaml:"band_proximity"`
	LevelProximity      float64 `yaml:"level_proximity"`
	SpotChangeLookback  int     `yaml:"spot_change_lookback"`

	// Spot data.
	Timeframe   string `yaml:"timeframe"`
	CandleLimit int    `yaml:"candle_limit"`

	// Entry window, in minutes of the contract cycle.
	ContractMinutes     int `yaml:"contract_minutes"`
	EntryWindowStartMin int `yaml:"entry_window_start_min"`
	EntryWindowEndMin   int `yaml:"entry_window_end_min"`

	// Risk and lifecycle.
	TakeProfitPct    float64 `yaml:"take_profit_pct"`
	StakeDivisor     float64 `yaml:"stake_divisor"`
	MinStake         float64 `yaml:"min_stake"`
	MaxStake         float64 `yaml:"max_stake"`
	MaxStakeFraction float64 `yaml:"max_stake_fraction"`
	ExposureFraction float64 `yaml:"exposure_fraction"`
	StopLossPct      float64 `yaml:"stop_loss_pct"`
	MaxPositions     int     `yaml:"max_positions"`
	MaxExitRetries   int     `yaml:"max_exit_retries"`
	BookDepthLevels  int     `yaml:"book_depth_levels"`

	PollInterval       Duration `yaml:"poll_interval"`
	ActivePollInterval Duration `yaml:"active_poll_interval"`

	DryRun bool `yaml:"dry_run"`
}

// Default returns the production defaults the strategy was tuned with.
func Default() Config {
	return Config{
		ClobHost:  "https://clob.polymarket.com",
		GammaHost: "https://gamma-api.polymarket.com",

		DBMaxOpen: 10,
		DBMaxIdle: 5,

		NotificationRetries: 3,
		NotificationDelay:   Duration(5 * time.Second),

		MetricsAddr: ":9090",
		LogLevel:    "info",

		Assets: map[string]AssetConfig{
			"BTC": {BinanceSymbol: "BTCUSDT", Keywords: []string{"bitcoin", "btc"}, MinLiquidityUSD: 500},
			"ETH": {BinanceSymbol: "ETHUSDT", Keywords: []string{"ethereum", "eth"}, MinLiquidityUSD: 300},
		},

		RSIPeriod:        14,
		BBPeriod:         20,
		BBStdDev:         2,
		ReversalLookback: 3,
		LevelLookback:    20,

		RSIOversold:         30,
		RSIOverbought:       70,
		DivergenceThreshold: 10,
		ProbSensitivity:     10,
		BandProximity:       0.002,
		LevelProximity:      0.005,
		SpotChangeLookback:  1,

		Timeframe:   "5m",
		CandleLimit: 50,

		ContractMinutes:     15,
		EntryWindowStartMin: 2,
		EntryWindowEndMin:   12,

		TakeProfitPct:    0.30,
		StakeDivisor:     20,
		MinStake:         5,
		MaxStake:         50,
		MaxStakeFraction: 0.5,
		ExposureFraction: 0.5,
		StopLossPct:      0.2,
		MaxPositions:     2,
		MaxExitRetries:   5,
		BookDepthLevels:  5,

		PollInterval:       Duration(60 * time.Second),
		ActivePollInterval: Duration(15 * time.Second),

		DryRun: true,
	}
}

// Load builds the config: defaults, overlaid by the YAML file when given,
// overlaid by environment credentials.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.APIKey = envOr("POLYMARKET_API_KEY", cfg.APIKey)
	cfg.APISecret = envOr("POLYMARKET_SECRET", cfg.APISecret)
	cfg.APIPassphrase = envOr("POLYMARKET_PASSPHRASE", cfg.APIPassphrase)
	cfg.FunderAddress = envOr("PROFILE_ADDRESS", cfg.FunderAddress)
	cfg.DBConnStr = envOr("DB_CONN_STR", cfg.DBConnStr)
	cfg.TelegramToken = envOr("TELEGRAM_TOKEN", cfg.TelegramToken)
	cfg.TelegramChatID = envOr("TELEGRAM_CHAT_ID", cfg.TelegramChatID)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (c Config) Validate() error {
	if len(c.Assets) == 0 {
		return fmt.Errorf("at least one asset must be configured")
	}
	if c.RSIPeriod <= 1 || c.BBPeriod <= 1 {
		return fmt.Errorf("indicator periods must be > 1")
	}
	if c.RSIOversold <= 0 || c.RSIOverbought >= 100 || c.RSIOversold >= c.RSIOverbought {
		return fmt.Errorf("rsi thresholds invalid: oversold=%.1f overbought=%.1f", c.RSIOversold, c.RSIOverbought)
	}
	if c.ContractMinutes <= 0 {
		return fmt.Errorf("contract minutes must be > 0")
	}
	if c.EntryWindowStartMin < 0 || c.EntryWindowEndMin <= c.EntryWindowStartMin || c.EntryWindowEndMin > c.ContractMinutes {
		return fmt.Errorf("entry window invalid: %d..%d of %d minutes",
			c.EntryWindowStartMin, c.EntryWindowEndMin, c.ContractMinutes)
	}
	if c.TakeProfitPct <= 0 {
		return fmt.Errorf("take profit pct must be > 0")
	}
	if c.MaxPositions <= 0 || c.MaxPositions > len(c.Assets) {
		return fmt.Errorf("max positions must be in 1..%d", len(c.Assets))
	}
	if c.MaxExitRetries <= 0 {
		return fmt.Errorf("max exit retries must be > 0")
	}
	if c.PollInterval <= 0 || c.ActivePollInterval <= 0 {
		return fmt.Errorf("poll intervals must be > 0")
	}
	return risk.Params{
		StakeDivisor:     c.StakeDivisor,
		MinStake:         c.MinStake,
		MaxStake:         c.MaxStake,
		MaxStakeFraction: c.MaxStakeFraction,
		ExposureFraction: c.ExposureFraction,
		StopLossFraction: c.StopLossPct,
	}.Validate()
}

// Indicator returns the indicator engine configuration.
func (c Config) Indicator() indicator.Config {
	return indicator.Config{
		RSIPeriod:        c.RSIPeriod,
		BBPeriod:         c.BBPeriod,
		BBStdDev:         c.BBStdDev,
		ReversalLookback: c.ReversalLookback,
		LevelLookback:    c.LevelLookback,
	}
}

// Strategy returns the divergence detector parameters.
func (c Config) Strategy() strategy.Params {
	return strategy.Params{
		RSIOversold:         c.RSIOversold,
		RSIOverbought:       c.RSIOverbought,
		DivergenceThreshold: c.DivergenceThreshold,
		ProbSensitivity:     c.ProbSensitivity,
		BandProximity:       c.BandProximity,
	}
}

// Gate returns the golden-window gate as contract-duration fractions.
func (c Config) Gate() strategy.Gate {
	total := float64(c.ContractMinutes)
	return strategy.Gate{
		StartFraction: float64(c.EntryWindowStartMin) / total,
		EndFraction:   float64(c.EntryWindowEndMin) / total,
	}
}

// Risk returns the risk manager parameters.
func (c Config) Risk() risk.Params {
	return risk.Params{
		StakeDivisor:     c.StakeDivisor,
		MinStake:         c.MinStake,
		MaxStake:         c.MaxStake,
		MaxStakeFraction: c.MaxStakeFraction,
		ExposureFraction: c.ExposureFraction,
		StopLossFraction: c.StopLossPct,
	}
}
