package api

import (
	"time"

	"github.com/dasein108/cex-arbitrage-sub007/internal/config"
)

// DashboardSnapshot represents the complete dashboard state.
type DashboardSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Tasks []TaskStatus `json:"tasks"`

	TotalRealized   float64 `json:"total_realized"`
	TotalUnrealized float64 `json:"total_unrealized"`
	TotalPnL        float64 `json:"total_pnl"`

	Risk RiskSnapshot `json:"risk"`

	Config ConfigSummary `json:"config"`

	Detector DetectorInfo `json:"detector"`
}

// TaskStatus represents per-task state for the dashboard.
type TaskStatus struct {
	TaskID    string `json:"task_id"`
	Symbol    string `json:"symbol"`
	BuyVenue  string `json:"buy_venue"`
	SellVenue string `json:"sell_venue"`
	State     string `json:"state"`

	LastUpdated time.Time `json:"last_updated"`

	Position PositionSnapshot `json:"position"`

	CurrentOpportunity *OpportunityInfo `json:"current_opportunity,omitempty"`

	PositionStartMs   uint64  `json:"position_start_ms"`
	TotalVolumeUSDT   float64 `json:"total_volume_usdt"`
	ConsecutiveErrors int     `json:"consecutive_errors"`
	LastError         string  `json:"last_error,omitempty"`
}

// PositionSnapshot represents the delta-neutral position pair and P&L for a task.
type PositionSnapshot struct {
	SpotQty       float64   `json:"spot_qty"`
	SpotAvgPrice  float64   `json:"spot_avg_price"`
	FutQty        float64   `json:"futures_qty"`
	FutAvgPrice   float64   `json:"futures_avg_price"`
	Delta         float64   `json:"delta"`
	DeltaUSDT     float64   `json:"delta_usdt"`
	RealizedPnL   float64   `json:"realized_pnl"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	LastUpdated   time.Time `json:"last_updated"`
}

// OpportunityInfo represents the opportunity a task is currently analyzing or executing.
type OpportunityInfo struct {
	BuyPrice     float64 `json:"buy_price"`
	SellPrice    float64 `json:"sell_price"`
	MaxQuantity  float64 `json:"max_quantity"`
	SpreadBps    float64 `json:"spread_bps"`
	DetectedAtMs uint64  `json:"detected_at_ms"`
}

// RiskSnapshot represents aggregate risk metrics.
type RiskSnapshot struct {
	GlobalExposure    float64 `json:"global_exposure"`
	MaxGlobalExposure float64 `json:"max_global_exposure"`
	ExposurePct       float64 `json:"exposure_pct"`

	KillSwitchActive bool      `json:"kill_switch_active"`
	KillSwitchUntil  time.Time `json:"kill_switch_until,omitempty"`
	KillSwitchReason string    `json:"kill_switch_reason,omitempty"`

	TotalRealizedPnL   float64 `json:"total_realized_pnl"`
	TotalUnrealizedPnL float64 `json:"total_unrealized_pnl"`

	MaxPositionPerTask float64 `json:"max_position_per_task"`
	MaxDailyLoss       float64 `json:"max_daily_loss"`
	MaxTasksActive     int     `json:"max_tasks_active"`
	CurrentTasksActive int     `json:"current_tasks_active"`
}

// ConfigSummary represents arbitrage and risk configuration surfaced to the dashboard.
type ConfigSummary struct {
	EnabledVenues      []string `json:"enabled_venues"`
	Symbols            []string `json:"symbols"`
	ScanInterval       string   `json:"scan_interval"`
	FreshnessHorizon   string   `json:"freshness_horizon"`
	MinProfitMarginBps int      `json:"min_profit_margin_bps"`
	MinProfitPct       float64  `json:"min_profit_pct"`
	StopLossPct        float64  `json:"stop_loss_pct"`
	MaxPositionSizeUSD float64  `json:"max_position_size_usd"`
	MinSpotQuoteQty    float64  `json:"min_spot_quote_qty"`
	MaxHours           float64  `json:"max_hours"`

	MaxPositionPerTask  float64 `json:"max_position_per_task"`
	MaxGlobalExposure   float64 `json:"max_global_exposure"`
	MaxTasksActive      int     `json:"max_tasks_active"`
	KillSwitchDropPct   float64 `json:"kill_switch_drop_pct"`
	KillSwitchWindowSec int     `json:"kill_switch_window_sec"`
	MaxDailyLoss        float64 `json:"max_daily_loss"`
	CooldownAfterKill   string  `json:"cooldown_after_kill"`

	Environment string `json:"environment"`
	Debug       bool   `json:"debug"`
}

// DetectorInfo represents the opportunity detector's recent activity.
type DetectorInfo struct {
	LastScanTime        time.Time `json:"last_scan_time"`
	OpportunitiesActive int       `json:"opportunities_active"`
}

// NewConfigSummary builds a ConfigSummary from the running configuration.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	arb := cfg.Arbitrage
	return ConfigSummary{
		EnabledVenues:      arb.EnabledVenues,
		Symbols:            arb.Symbols,
		ScanInterval:       arb.ScanInterval.String(),
		FreshnessHorizon:   arb.FreshnessHorizon.String(),
		MinProfitMarginBps: arb.MinProfitMarginBps,
		MinProfitPct:       arb.MinProfitPct,
		StopLossPct:        arb.StopLossPct,
		MaxPositionSizeUSD: arb.MaxPositionSizeUSD,
		MinSpotQuoteQty:    arb.MinSpotQuoteQty,
		MaxHours:           arb.MaxHours,

		MaxPositionPerTask:  arb.Risk.MaxPositionPerTask,
		MaxGlobalExposure:   arb.Risk.MaxGlobalExposure,
		MaxTasksActive:      arb.Risk.MaxTasksActive,
		KillSwitchDropPct:   arb.Risk.KillSwitchDropPct,
		KillSwitchWindowSec: arb.Risk.KillSwitchWindowSec,
		MaxDailyLoss:        arb.Risk.MaxDailyLoss,
		CooldownAfterKill:   arb.Risk.CooldownAfterKill.String(),

		Environment: cfg.Environment,
		Debug:       cfg.Debug,
	}
}
