package risk

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dasein108/cex-arbitrage-sub007/internal/config"
	"github.com/dasein108/cex-arbitrage-sub007/internal/strategy"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositionPerTask:  100,
		MaxGlobalExposure:   500,
		MaxTasksActive:      5,
		KillSwitchDropPct:   0.10, // 10%
		KillSwitchWindowSec: 60,
		MaxDailyLoss:        50,
		CooldownAfterKill:   5 * time.Minute,
	}
}

func newTestManager() *Manager {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewManager(testRiskConfig(), logger)
}

func TestProcessReportUnderLimits(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	rm.processReport(strategy.RiskReport{
		TaskID:        "t1",
		ExposureUSD:   50,
		RealizedPnL:   0,
		UnrealizedPnL: 0,
		MidPrice:      0.50,
		Timestamp:     time.Now(),
	})

	if rm.killSwitchActive {
		t.Error("kill switch should not fire for report under limits")
	}

	select {
	case sig := <-rm.killCh:
		t.Errorf("unexpected kill signal: %+v", sig)
	default:
	}
}

func TestProcessReportPerTaskBreach(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	rm.processReport(strategy.RiskReport{
		TaskID:      "t1",
		ExposureUSD: 150, // exceeds 100 limit
		MidPrice:    0.50,
		Timestamp:   time.Now(),
	})

	if !rm.killSwitchActive {
		t.Error("kill switch should fire for per-task breach")
	}

	select {
	case sig := <-rm.killCh:
		if sig.TaskID != "t1" {
			t.Errorf("kill signal task = %q, want t1", sig.TaskID)
		}
	default:
		t.Error("expected kill signal on channel")
	}
}

func TestProcessReportGlobalBreach(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	// Submit multiple tasks that together exceed global limit.
	for _, id := range []string{"t1", "t2", "t3", "t4", "t5", "t6"} {
		rm.processReport(strategy.RiskReport{TaskID: id, ExposureUSD: 90, MidPrice: 0.50, Timestamp: time.Now()})
	}

	// Total = 540 > 500 global limit.
	if !rm.killSwitchActive {
		t.Error("kill switch should fire for global exposure breach")
	}

	drained := 0
	for {
		select {
		case <-rm.killCh:
			drained++
		default:
			goto done
		}
	}
done:
	if drained == 0 {
		t.Error("expected at least one kill signal")
	}
}

func TestProcessReportDailyLossBreach(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	rm.processReport(strategy.RiskReport{
		TaskID:        "t1",
		ExposureUSD:   10,
		RealizedPnL:   -30,
		UnrealizedPnL: -25,
		MidPrice:      0.50,
		Timestamp:     time.Now(),
	})

	// total PnL = -30 + -25 = -55 < -50 threshold
	if !rm.killSwitchActive {
		t.Error("kill switch should fire for daily loss breach")
	}
}

func TestCheckPriceMovementNormal(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	now := time.Now()

	rm.processReport(strategy.RiskReport{TaskID: "t1", MidPrice: 0.50, Timestamp: now})
	rm.processReport(strategy.RiskReport{TaskID: "t1", MidPrice: 0.52, Timestamp: now.Add(10 * time.Second)}) // 4% move

	select {
	case <-rm.killCh:
		t.Error("should not fire kill for 4% move")
	default:
	}
}

func TestCheckPriceMovementSpike(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	now := time.Now()

	rm.processReport(strategy.RiskReport{TaskID: "t1", MidPrice: 0.50, Timestamp: now})
	rm.processReport(strategy.RiskReport{TaskID: "t1", MidPrice: 0.35, Timestamp: now.Add(10 * time.Second)}) // 30% drop

	if !rm.killSwitchActive {
		t.Error("kill switch should fire for 30% price spike")
	}
}

func TestRemainingBudget(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	remaining := rm.RemainingBudget("t1")
	if remaining != 100 { // min(per-task 100, global 500)
		t.Errorf("remaining = %v, want 100", remaining)
	}

	rm.processReport(strategy.RiskReport{TaskID: "t1", ExposureUSD: 60, MidPrice: 0.50, Timestamp: time.Now()})

	remaining = rm.RemainingBudget("t1")
	if remaining != 40 { // 100-60=40 per-task; 500-60=440 global; min=40
		t.Errorf("remaining = %v, want 40", remaining)
	}
}

func TestRemainingBudgetGlobalConstrained(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	for i := 0; i < 5; i++ {
		rm.processReport(strategy.RiskReport{TaskID: "other-" + string(rune('A'+i)), ExposureUSD: 95, MidPrice: 0.50, Timestamp: time.Now()})
	}
	for {
		select {
		case <-rm.killCh:
		default:
			goto done2
		}
	}
done2:

	// Total exposure = 475. Global remaining = 500-475 = 25.
	// Per-task t1 = 100 (no position). Min(100, 25) = 25.
	remaining := rm.RemainingBudget("t1")
	if remaining != 25 {
		t.Errorf("remaining = %v, want 25 (global constrained)", remaining)
	}
}

func TestIsKillSwitchCooldown(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	rm.cfg.CooldownAfterKill = 100 * time.Millisecond
	rm.processReport(strategy.RiskReport{TaskID: "t1", ExposureUSD: 200, MidPrice: 0.50, Timestamp: time.Now()})

	if !rm.IsKillSwitchActive() {
		t.Error("kill switch should be active immediately after breach")
	}

	time.Sleep(150 * time.Millisecond)

	if rm.IsKillSwitchActive() {
		t.Error("kill switch should expire after cooldown")
	}
}

func TestRemoveTaskRecomputesTotals(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	now := time.Now()

	rm.processReport(strategy.RiskReport{TaskID: "t1", ExposureUSD: 60, RealizedPnL: 5, MidPrice: 0.50, Timestamp: now})
	rm.processReport(strategy.RiskReport{TaskID: "t2", ExposureUSD: 70, RealizedPnL: 3, MidPrice: 0.50, Timestamp: now})

	if got := rm.totalExposure; got != 130 {
		t.Fatalf("totalExposure before remove = %v, want 130", got)
	}
	if got := rm.totalRealizedPnL; got != 8 {
		t.Fatalf("totalRealizedPnL before remove = %v, want 8", got)
	}

	rm.RemoveTask("t2")

	if got := rm.totalExposure; got != 60 {
		t.Fatalf("totalExposure after remove = %v, want 60", got)
	}
	if got := rm.totalRealizedPnL; got != 5 {
		t.Fatalf("totalRealizedPnL after remove = %v, want 5", got)
	}
}
