// Package risk enforces portfolio-level risk limits across all active
// arbitrage tasks.
//
// The risk manager runs as a standalone goroutine that receives
// strategy.RiskReports from each task's run loop and checks them against
// configured limits:
//
//   - Per-task exposure:    caps USD exposure in any single task
//   - Global exposure:      caps total USD exposure across all tasks
//   - Daily loss:           triggers kill switch if realized+unrealized PnL exceeds threshold
//   - Rapid price movement: triggers kill switch if mark price moves more than
//     KillSwitchDropPct within KillSwitchWindowSec seconds
//
// When a limit is breached, the manager emits a KillSignal on KillCh(). The
// supervisor reads this signal and forces the affected task (or every task,
// for a global kill) into its Exiting state. After a kill, the kill switch
// stays active for CooldownAfterKill, during which Task.handleMonitoring
// forces any held position toward Exiting and withholds new entries.
//
// The per-market/global exposure bookkeeping, rolling price-anchor movement
// detector, and channel-based kill signal are market-making concerns that
// translate directly to a task-based portfolio.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dasein108/cex-arbitrage-sub007/internal/config"
	"github.com/dasein108/cex-arbitrage-sub007/internal/strategy"
)

// KillSignal tells the supervisor to cancel all orders and unwind. If TaskID
// is empty, it means kill ALL tasks (global kill).
type KillSignal struct {
	TaskID string // empty = kill ALL tasks
	Reason string
}

// priceAnchor stores a reference price at a point in time for detecting
// rapid price movements within a rolling window.
type priceAnchor struct {
	price     float64
	timestamp time.Time
}

// Manager enforces risk limits across all active tasks. It aggregates
// strategy.RiskReports, checks limits, and emits kill signals when breached.
// Satisfies strategy.RiskGate.
type Manager struct {
	cfg    config.RiskConfig
	logger *slog.Logger

	mu               sync.RWMutex
	reports          map[string]strategy.RiskReport // latest report per task
	totalExposure    float64                        // sum of all ExposureUSD
	totalRealizedPnL float64                         // sum of all RealizedPnL
	killSwitchActive bool                            // true while in cooldown
	killSwitchUntil  time.Time                       // when cooldown expires
	priceAnchors     map[string]priceAnchor          // reference prices for movement detection

	reportCh chan strategy.RiskReport // task goroutines write here
	killCh   chan KillSignal          // supervisor reads kill signals from here
}

// NewManager creates a risk manager.
func NewManager(cfg config.RiskConfig, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		logger:       logger.With("component", "risk"),
		reports:      make(map[string]strategy.RiskReport),
		priceAnchors: make(map[string]priceAnchor),
		reportCh:     make(chan strategy.RiskReport, 100),
		killCh:       make(chan KillSignal, 10),
	}
}

// Run starts the risk monitoring loop.
func (rm *Manager) Run(ctx context.Context) {
	// Periodic check clears kill switch even when no reports arrive.
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case report := <-rm.reportCh:
			rm.processReport(report)
		case <-ticker.C:
			rm.clearExpiredKillSwitch()
		}
	}
}

// Report submits a task's risk report (non-blocking). Satisfies strategy.RiskGate.
func (rm *Manager) Report(report strategy.RiskReport) {
	select {
	case rm.reportCh <- report:
	default:
		rm.logger.Warn("risk report channel full, dropping report", "task_id", report.TaskID)
	}
}

// KillCh returns the channel for reading kill signals.
func (rm *Manager) KillCh() <-chan KillSignal {
	return rm.killCh
}

// RemoveTask cleans up state for a stopped task.
func (rm *Manager) RemoveTask(taskID string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	delete(rm.reports, taskID)
	delete(rm.priceAnchors, taskID)

	rm.totalExposure = 0
	rm.totalRealizedPnL = 0
	for _, rep := range rm.reports {
		rm.totalExposure += rep.ExposureUSD
		rm.totalRealizedPnL += rep.RealizedPnL
	}
}

// IsKillSwitchActive returns whether the kill switch is engaged.
// Satisfies strategy.RiskGate.
func (rm *Manager) IsKillSwitchActive() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if !rm.killSwitchActive {
		return false
	}
	if time.Now().After(rm.killSwitchUntil) {
		rm.killSwitchActive = false
		rm.logger.Info("kill switch cooldown expired")
		return false
	}
	return true
}

// RemainingBudget returns how much additional USD exposure is allowed for
// the given task. It takes the minimum of:
//   - per-task headroom: MaxPositionPerTask − current task exposure
//   - global headroom:   MaxGlobalExposure − total exposure across all tasks
//
// Returns 0 if either limit is already exceeded (the task will skip entry).
// Satisfies strategy.RiskGate.
func (rm *Manager) RemainingBudget(taskID string) float64 {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	var currentExposure float64
	if rep, ok := rm.reports[taskID]; ok {
		currentExposure = rep.ExposureUSD
	}

	perTask := rm.cfg.MaxPositionPerTask - currentExposure
	global := rm.cfg.MaxGlobalExposure - rm.totalExposure

	remaining := perTask
	if global < remaining {
		remaining = global
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

// GetRiskSnapshot returns current aggregate risk metrics for the dashboard.
func (rm *Manager) GetRiskSnapshot() RiskSnapshot {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	var totalUnrealizedPnL float64
	for _, rep := range rm.reports {
		totalUnrealizedPnL += rep.UnrealizedPnL
	}

	var exposurePct float64
	if rm.cfg.MaxGlobalExposure > 0 {
		exposurePct = (rm.totalExposure / rm.cfg.MaxGlobalExposure) * 100
	}

	var killReason string
	if rm.killSwitchActive {
		killReason = "cooldown"
	}

	return RiskSnapshot{
		GlobalExposure:     rm.totalExposure,
		MaxGlobalExposure:  rm.cfg.MaxGlobalExposure,
		ExposurePct:        exposurePct,
		KillSwitchActive:   rm.killSwitchActive,
		KillSwitchUntil:    rm.killSwitchUntil,
		KillSwitchReason:   killReason,
		TotalRealizedPnL:   rm.totalRealizedPnL,
		TotalUnrealizedPnL: totalUnrealizedPnL,
		MaxPositionPerTask: rm.cfg.MaxPositionPerTask,
		MaxDailyLoss:       rm.cfg.MaxDailyLoss,
		MaxTasksActive:     rm.cfg.MaxTasksActive,
		CurrentTasksActive: len(rm.reports),
	}
}

// RiskSnapshot represents aggregate risk metrics for the dashboard.
type RiskSnapshot struct {
	GlobalExposure     float64
	MaxGlobalExposure  float64
	ExposurePct        float64
	KillSwitchActive   bool
	KillSwitchUntil    time.Time
	KillSwitchReason   string
	TotalRealizedPnL   float64
	TotalUnrealizedPnL float64
	MaxPositionPerTask float64
	MaxDailyLoss       float64
	MaxTasksActive     int
	CurrentTasksActive int
}

func (rm *Manager) processReport(report strategy.RiskReport) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.reports[report.TaskID] = report

	rm.totalExposure = 0
	rm.totalRealizedPnL = 0
	totalUnrealizedPnL := 0.0
	for _, rep := range rm.reports {
		rm.totalExposure += rep.ExposureUSD
		rm.totalRealizedPnL += rep.RealizedPnL
		totalUnrealizedPnL += rep.UnrealizedPnL
	}

	if report.ExposureUSD > rm.cfg.MaxPositionPerTask {
		rm.emitKill(report.TaskID, "per-task position limit breached")
	}

	if rm.totalExposure > rm.cfg.MaxGlobalExposure {
		rm.emitKill("", "global exposure limit breached")
	}

	totalPnL := rm.totalRealizedPnL + totalUnrealizedPnL
	if rm.cfg.MaxDailyLoss > 0 && totalPnL < -rm.cfg.MaxDailyLoss {
		rm.emitKill("", "max daily loss breached")
	}

	rm.checkPriceMovement(report)
}

// checkPriceMovement detects rapid price swings using a rolling anchor.
// On each report, it compares the mark price to the anchor set at the start
// of the window. If the anchor is older than KillSwitchWindowSec, it resets.
// If the price moved more than KillSwitchDropPct from the anchor, the kill
// switch fires.
func (rm *Manager) checkPriceMovement(report strategy.RiskReport) {
	if report.MidPrice <= 0 {
		return
	}
	window := time.Duration(rm.cfg.KillSwitchWindowSec) * time.Second

	anchor, ok := rm.priceAnchors[report.TaskID]
	if !ok || report.Timestamp.Sub(anchor.timestamp) > window {
		rm.priceAnchors[report.TaskID] = priceAnchor{price: report.MidPrice, timestamp: report.Timestamp}
		return
	}
	if anchor.price == 0 {
		return
	}

	pctChange := (report.MidPrice - anchor.price) / anchor.price
	if pctChange < 0 {
		pctChange = -pctChange
	}

	if pctChange > rm.cfg.KillSwitchDropPct {
		rm.emitKill(report.TaskID, fmt.Sprintf(
			"rapid price movement: %.1f%% in %ds",
			pctChange*100, rm.cfg.KillSwitchWindowSec,
		))
	}
}

func (rm *Manager) clearExpiredKillSwitch() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.killSwitchActive && time.Now().After(rm.killSwitchUntil) {
		rm.killSwitchActive = false
		rm.logger.Info("kill switch cooldown expired")
	}
}

// emitKill activates the kill switch, starts the cooldown timer, and sends a
// KillSignal to the supervisor. If the kill channel is full, it drains the
// stale signal first to ensure the latest kill reason is always delivered.
// Caller must hold rm.mu.
func (rm *Manager) emitKill(taskID, reason string) {
	rm.killSwitchActive = true
	rm.killSwitchUntil = time.Now().Add(rm.cfg.CooldownAfterKill)

	rm.logger.Error("KILL SWITCH", "task_id", taskID, "reason", reason, "cooldown_until", rm.killSwitchUntil)

	sig := KillSignal{TaskID: taskID, Reason: reason}
	select {
	case rm.killCh <- sig:
	default:
		select {
		case <-rm.killCh:
		default:
		}
		rm.killCh <- sig
	}
}
