package api

import (
	"time"

	"github.com/dasein108/cex-arbitrage-sub007/internal/config"
	"github.com/dasein108/cex-arbitrage-sub007/internal/market"
	"github.com/dasein108/cex-arbitrage-sub007/internal/risk"
)

// TaskSnapshotProvider provides snapshot access to the supervisor's state.
type TaskSnapshotProvider interface {
	GetTasksSnapshot() []TaskStatus
	GetDetector() *market.Detector
	GetRiskManager() *risk.Manager
}

// BuildSnapshot aggregates state from all components into a dashboard snapshot.
func BuildSnapshot(
	provider TaskSnapshotProvider,
	cfg config.Config,
) DashboardSnapshot {
	tasks := provider.GetTasksSnapshot()

	riskMgr := provider.GetRiskManager()
	riskSnap := riskMgr.GetRiskSnapshot()

	var totalRealized, totalUnrealized float64
	for _, task := range tasks {
		totalRealized += task.Position.RealizedPnL
		totalUnrealized += task.Position.UnrealizedPnL
	}

	detector := provider.GetDetector()
	var opportunitiesActive int
	if detector != nil {
		opportunitiesActive = detector.ActiveCount()
	}

	return DashboardSnapshot{
		Timestamp:       time.Now(),
		Tasks:           tasks,
		TotalRealized:   totalRealized,
		TotalUnrealized: totalUnrealized,
		TotalPnL:        totalRealized + totalUnrealized,
		Risk:            convertRiskSnapshot(riskSnap),
		Config:          NewConfigSummary(cfg),
		Detector: DetectorInfo{
			LastScanTime:        time.Now(),
			OpportunitiesActive: opportunitiesActive,
		},
	}
}

// convertRiskSnapshot converts internal risk snapshot to API format.
func convertRiskSnapshot(snap risk.RiskSnapshot) RiskSnapshot {
	return RiskSnapshot{
		GlobalExposure:     snap.GlobalExposure,
		MaxGlobalExposure:  snap.MaxGlobalExposure,
		ExposurePct:        snap.ExposurePct,
		KillSwitchActive:   snap.KillSwitchActive,
		KillSwitchUntil:    snap.KillSwitchUntil,
		KillSwitchReason:   snap.KillSwitchReason,
		TotalRealizedPnL:   snap.TotalRealizedPnL,
		TotalUnrealizedPnL: snap.TotalUnrealizedPnL,
		MaxPositionPerTask: snap.MaxPositionPerTask,
		MaxDailyLoss:       snap.MaxDailyLoss,
		MaxTasksActive:     snap.MaxTasksActive,
		CurrentTasksActive: snap.CurrentTasksActive,
	}
}
