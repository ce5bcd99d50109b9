// Package config defines all configuration for the arbitrage engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via per-venue environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Environment string                    `mapstructure:"environment"`
	Debug       bool                      `mapstructure:"debug"`
	Exchanges   map[string]ExchangeConfig `mapstructure:"exchanges"`
	Arbitrage   ArbitrageConfig           `mapstructure:"arbitrage"`
	Store       StoreConfig               `mapstructure:"store"`
	Logging     LoggingConfig             `mapstructure:"logging"`
	Dashboard   DashboardConfig           `mapstructure:"dashboard"`
}

// Venue config keys. Matches the wire form of types.ExchangeId.
const (
	VenueMexcSpot      = "mexc_spot"
	VenueGateioSpot    = "gateio_spot"
	VenueGateioFutures = "gateio_futures"
)

// RateLimitConfig sets the token-bucket capacity per endpoint category for one venue.
type RateLimitConfig struct {
	RequestsPerSecond      int `mapstructure:"requests_per_second"`
	OrderRequestsPerSecond int `mapstructure:"order_requests_per_second"`
	Burst                  int `mapstructure:"burst"`
}

// NetworkConfig holds the REST deadlines for one venue.
type NetworkConfig struct {
	ConnectTimeout         time.Duration `mapstructure:"connect_timeout"`
	RequestTimeout         time.Duration `mapstructure:"request_timeout"`
	CriticalRequestTimeout time.Duration `mapstructure:"critical_request_timeout"`
	OrderSubmitTimeout     time.Duration `mapstructure:"order_submit_timeout"`
}

// WSConfig holds the WebSocket keepalive/reconnect parameters for one venue.
type WSConfig struct {
	ConnectTimeout      time.Duration `mapstructure:"connect_timeout"`
	PingInterval        time.Duration `mapstructure:"ping_interval"`
	PongTimeout         time.Duration `mapstructure:"pong_timeout"`
	ReconnectBackoffMin time.Duration `mapstructure:"reconnect_backoff_min"`
	ReconnectBackoffMax time.Duration `mapstructure:"reconnect_backoff_max"`
}

// ExchangeConfig configures one venue's REST/WS connector.
type ExchangeConfig struct {
	BaseURL   string          `mapstructure:"base_url"`
	WSURL     string          `mapstructure:"ws_url"`
	APIKey    string          `mapstructure:"api_key"`
	SecretKey string          `mapstructure:"secret_key"`
	Enabled   bool            `mapstructure:"enabled"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Network   NetworkConfig   `mapstructure:"network"`
	WS        WSConfig        `mapstructure:"ws"`
}

// RiskConfig sets hard limits that trigger the kill switch.
//
//   - MaxPositionPerTask: max USD exposure any single strategy task may hold.
//   - MaxGlobalExposure: max USD exposure across ALL active tasks combined.
//   - MaxTasksActive: cap on how many arbitrage tasks run simultaneously.
//   - KillSwitchDropPct / KillSwitchWindowSec: rapid-price-movement circuit breaker.
//   - MaxDailyLoss: max combined (realized + unrealized) loss before kill switch.
//   - CooldownAfterKill: how long the kill switch stays engaged after firing.
type RiskConfig struct {
	MaxPositionPerTask  float64       `mapstructure:"max_position_per_task"`
	MaxGlobalExposure   float64       `mapstructure:"max_global_exposure"`
	MaxTasksActive      int           `mapstructure:"max_tasks_active"`
	KillSwitchDropPct   float64       `mapstructure:"kill_switch_drop_pct"`
	KillSwitchWindowSec int           `mapstructure:"kill_switch_window_sec"`
	MaxDailyLoss        float64       `mapstructure:"max_daily_loss"`
	CooldownAfterKill   time.Duration `mapstructure:"cooldown_after_kill"`
}

// ArbitrageConfig controls the opportunity detector and strategy runtime.
type ArbitrageConfig struct {
	EnabledVenues           []string      `mapstructure:"enabled_venues"`
	Symbols                 []string      `mapstructure:"symbols"`
	ScanInterval            time.Duration `mapstructure:"scan_interval"`
	FreshnessHorizon        time.Duration `mapstructure:"freshness_horizon"`
	TargetExecutionTime     time.Duration `mapstructure:"target_execution_time"`
	MinProfitMarginBps      int           `mapstructure:"min_profit_margin_bps"`
	MinProfitPct            float64       `mapstructure:"min_profit_pct"`
	StopLossPct             float64       `mapstructure:"stop_loss_pct"`
	MaxPositionSizeUSD      float64       `mapstructure:"max_position_size_usd"`
	MaxSpreadBps            int           `mapstructure:"max_spread_bps"`
	MinMarketDepthUSD       float64       `mapstructure:"min_market_depth_usd"`
	MaxHealthMessageAge     time.Duration `mapstructure:"max_health_message_age"`
	MaxHealthRESTLatency    time.Duration `mapstructure:"max_health_rest_latency"`
	MinSpotQuoteQty         float64       `mapstructure:"min_spot_quote_qty"`
	MaxHours                float64       `mapstructure:"max_hours"`
	MaxConsecutiveErrors    int           `mapstructure:"max_consecutive_errors"`
	ErrorCooldown           time.Duration `mapstructure:"error_cooldown"`
	TickDelay               time.Duration `mapstructure:"tick_delay"`
	EnabledOpportunityTypes []string      `mapstructure:"enabled_opportunity_types"`
	Risk                    RiskConfig    `mapstructure:"risk"`
}

// StoreConfig sets where TaskContext records are persisted (JSON files).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the operator status dashboard server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// envOverrides maps each venue key to the env var prefix operators set
// credentials under. Gate.io spot and futures share one API key pair.
var envOverrides = map[string]string{
	VenueMexcSpot:      "MEXC",
	VenueGateioSpot:    "GATEIO",
	VenueGateioFutures: "GATEIO",
}

// Load reads config from a YAML file with env var overrides.
// Credentials use <PREFIX>_API_KEY / <PREFIX>_SECRET_KEY, e.g. MEXC_API_KEY.
// HFT_ENV overrides environment; HFT_DEBUG overrides debug.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("HFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if env := os.Getenv("HFT_ENV"); env != "" {
		cfg.Environment = env
	}
	if os.Getenv("HFT_DEBUG") == "true" || os.Getenv("HFT_DEBUG") == "1" {
		cfg.Debug = true
	}

	for venue, ec := range cfg.Exchanges {
		prefix, ok := envOverrides[venue]
		if !ok {
			continue
		}
		if key := os.Getenv(prefix + "_API_KEY"); key != "" {
			ec.APIKey = key
		}
		if secret := os.Getenv(prefix + "_SECRET_KEY"); secret != "" {
			ec.SecretKey = secret
		}
		cfg.Exchanges[venue] = ec
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Arbitrage.EnabledVenues) < 2 {
		return fmt.Errorf("arbitrage.enabled_venues must list at least two venues")
	}
	for _, venue := range c.Arbitrage.EnabledVenues {
		ec, ok := c.Exchanges[venue]
		if !ok {
			return fmt.Errorf("arbitrage.enabled_venues references unconfigured venue %q", venue)
		}
		if !ec.Enabled {
			continue
		}
		if ec.APIKey == "" || ec.SecretKey == "" {
			return fmt.Errorf("exchanges.%s: api_key and secret_key are required (set %s_API_KEY/%s_SECRET_KEY)",
				venue, envOverrides[venue], envOverrides[venue])
		}
		if ec.BaseURL == "" {
			return fmt.Errorf("exchanges.%s.base_url is required", venue)
		}
	}
	if len(c.Arbitrage.Symbols) == 0 {
		return fmt.Errorf("arbitrage.symbols must not be empty")
	}
	if c.Arbitrage.ScanInterval <= 0 {
		return fmt.Errorf("arbitrage.scan_interval must be > 0")
	}
	if c.Arbitrage.MinProfitMarginBps <= 0 {
		return fmt.Errorf("arbitrage.min_profit_margin_bps must be > 0")
	}
	if c.Arbitrage.MaxPositionSizeUSD <= 0 {
		return fmt.Errorf("arbitrage.max_position_size_usd must be > 0")
	}
	if c.Arbitrage.Risk.MaxPositionPerTask <= 0 {
		return fmt.Errorf("arbitrage.risk.max_position_per_task must be > 0")
	}
	if c.Arbitrage.Risk.MaxGlobalExposure <= 0 {
		return fmt.Errorf("arbitrage.risk.max_global_exposure must be > 0")
	}
	if c.Arbitrage.Risk.MaxTasksActive <= 0 {
		return fmt.Errorf("arbitrage.risk.max_tasks_active must be > 0")
	}
	return nil
}
