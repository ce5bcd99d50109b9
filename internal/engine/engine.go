// Package engine is the central orchestrator of the arbitrage bot.
//
// It wires together all subsystems:
//
//  1. Aggregator mirrors order books/tickers for every (venue, symbol) pair.
//  2. Detector scans the aggregator on an interval and surfaces crossed
//     spot/futures spreads as ArbitrageOpportunity values.
//  3. Supervisor starts one strategy.Task goroutine per (symbol, buy, sell)
//     triple configured in ArbitrageConfig, and rehydrates any task that
//     survives a crash from the store on startup.
//  4. Each venue connector's SubscribeUpdates feed is dispatched into the
//     shared Aggregator.
//  5. Risk manager monitors every task's reports and can trigger a kill
//     switch, global or task-scoped.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dasein108/cex-arbitrage-sub007/internal/api"
	"github.com/dasein108/cex-arbitrage-sub007/internal/config"
	"github.com/dasein108/cex-arbitrage-sub007/internal/exchange"
	"github.com/dasein108/cex-arbitrage-sub007/internal/market"
	"github.com/dasein108/cex-arbitrage-sub007/internal/risk"
	"github.com/dasein108/cex-arbitrage-sub007/internal/store"
	"github.com/dasein108/cex-arbitrage-sub007/internal/strategy"
	"github.com/dasein108/cex-arbitrage-sub007/pkg/types"
)

// taskSlot represents one actively-running arbitrage task.
type taskSlot struct {
	task   *strategy.Task
	cancel context.CancelFunc
}

// Engine orchestrates all components of the arbitrage system. It owns the
// lifecycle of all goroutines and manages task start/stop transitions.
type Engine struct {
	cfg        config.Config
	connectors map[types.ExchangeId]exchange.Connector
	connMgr    *exchange.Manager
	aggregator *market.Aggregator
	detector   *market.Detector
	riskMgr    *risk.Manager
	store      *store.Store
	logger     *slog.Logger

	symbols []types.Symbol
	venues  []types.ExchangeId

	slots   map[string]*taskSlot // taskID -> slot
	slotsMu sync.RWMutex

	dashboardEvents chan api.DashboardEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components, initializing every enabled
// venue's connector and loading its symbol metadata.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	symbols, err := parseSymbols(cfg.Arbitrage.Symbols)
	if err != nil {
		return nil, err
	}

	venues := make([]types.ExchangeId, 0, len(cfg.Arbitrage.EnabledVenues))
	connectors := make(map[types.ExchangeId]exchange.Connector, len(cfg.Arbitrage.EnabledVenues))

	ctx, cancel := context.WithCancel(context.Background())

	for _, name := range cfg.Arbitrage.EnabledVenues {
		venue := types.ExchangeId(name)
		ec, ok := cfg.Exchanges[name]
		if !ok || !ec.Enabled {
			cancel()
			return nil, fmt.Errorf("venue %q enabled in arbitrage.enabled_venues but missing/disabled in exchanges", name)
		}

		conn, err := exchange.NewConnector(venue, ec, logger)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("build connector for %q: %w", name, err)
		}
		if err := conn.Initialize(ctx); err != nil {
			cancel()
			return nil, fmt.Errorf("initialize connector for %q: %w", name, err)
		}

		connectors[venue] = conn
		venues = append(venues, venue)
	}

	connMgr := exchange.NewManager(connectors, logger)
	aggregator := market.NewAggregator()

	feeLookup := func(venue types.ExchangeId, symbol types.Symbol) (decimalFee decimal.Decimal, minBaseQty float64, ok bool) {
		conn, ok := connectors[venue]
		if !ok {
			return decimalFee, 0, false
		}
		info, ok := conn.SymbolInfo(symbol)
		if !ok {
			return decimalFee, 0, false
		}
		return info.TakerFee, info.MinBaseQty, true
	}

	healthCheck := func(venue types.ExchangeId) bool {
		conn, ok := connectors[venue]
		if !ok {
			return false
		}
		return conn.Health(cfg.Arbitrage.MaxHealthMessageAge, cfg.Arbitrage.MaxHealthRESTLatency).Healthy
	}

	detector := market.NewDetector(cfg.Arbitrage, symbols, venues, aggregator, feeLookup, healthCheck, logger)

	riskMgr := risk.NewManager(cfg.Arbitrage.Risk, logger)

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		cancel()
		return nil, err
	}

	var dashEvents chan api.DashboardEvent
	if cfg.Dashboard.Enabled {
		dashEvents = make(chan api.DashboardEvent, 100)
	}

	return &Engine{
		cfg:             cfg,
		connectors:      connectors,
		connMgr:         connMgr,
		aggregator:      aggregator,
		detector:        detector,
		riskMgr:         riskMgr,
		store:           st,
		logger:          logger.With("component", "engine"),
		symbols:         symbols,
		venues:          venues,
		slots:           make(map[string]*taskSlot),
		dashboardEvents: dashEvents,
		ctx:             ctx,
		cancel:          cancel,
	}, nil
}

// parseSymbols parses "BASE/QUOTE" strings from config into types.Symbol values.
func parseSymbols(raw []string) ([]types.Symbol, error) {
	symbols := make([]types.Symbol, 0, len(raw))
	for _, s := range raw {
		parts := strings.SplitN(s, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid symbol %q, want BASE/QUOTE", s)
		}
		symbols = append(symbols, types.Symbol{Base: types.AssetName(parts[0]), Quote: types.AssetName(parts[1])})
	}
	return symbols, nil
}

// Start launches all background goroutines: per-venue WS feeds, the
// detector, the risk manager, and crash-recovery task rehydration, then
// begins the loop that keeps one task running per configured (symbol, buy,
// sell) triple.
func (e *Engine) Start() error {
	for venue, conn := range e.connectors {
		venue, conn := venue, conn
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runFeed(venue, conn)
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.detector.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.riskMgr.Run(e.ctx)
	}()

	if err := e.recoverTasks(); err != nil {
		return fmt.Errorf("recover tasks: %w", err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.manageTasks()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.watchKillSignals()
	}()

	return nil
}

// runFeed subscribes to venue's WS updates and folds them into the shared
// aggregator. Reconnection/backoff is handled inside the connector itself.
func (e *Engine) runFeed(venue types.ExchangeId, conn exchange.Connector) {
	bookCh, _, err := conn.SubscribeUpdates(e.ctx, e.symbols)
	if err != nil {
		if e.ctx.Err() == nil {
			e.logger.Error("subscribe updates failed", "venue", venue, "error", err)
		}
		return
	}

	for {
		select {
		case <-e.ctx.Done():
			return
		case ticker, ok := <-bookCh:
			if !ok {
				return
			}
			e.aggregator.ApplyBookTicker(venue, ticker)
		}
	}
}

// recoverTasks loads every non-terminal TaskContext left by a previous run
// and resumes it as a running task.
func (e *Engine) recoverTasks() error {
	contexts, err := e.store.LoadAll()
	if err != nil {
		return err
	}
	for _, ctx := range contexts {
		e.logger.Info("recovering task", "task_id", ctx.TaskID, "state", ctx.StateName)
		e.startTaskLocked(ctx)
	}
	return nil
}

// manageTasks spawns one task per configured (symbol, buy, sell) triple that
// is not already running. A task, once started, manages its own full
// lifecycle (idle → monitoring → ... → completed) and removes itself from
// the slot map when it terminates.
func (e *Engine) manageTasks() {
	ticker := time.NewTicker(e.cfg.Arbitrage.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.ensureTasksRunning()
		}
	}
}

func (e *Engine) ensureTasksRunning() {
	for _, symbol := range e.symbols {
		for _, buy := range e.venues {
			for _, sell := range e.venues {
				if buy == sell || buy.MarketType() == sell.MarketType() {
					continue
				}
				taskID := taskIDFor(symbol, buy, sell)

				e.slotsMu.RLock()
				_, running := e.slots[taskID]
				e.slotsMu.RUnlock()
				if running {
					continue
				}

				params := types.StrategyParams{
					MinProfitMarginBps: e.cfg.Arbitrage.MinProfitMarginBps,
					MinProfitPct:       e.cfg.Arbitrage.MinProfitPct,
					StopLossPct:        e.cfg.Arbitrage.StopLossPct,
					MaxHours:           e.cfg.Arbitrage.MaxHours,
					MinSpotQuoteQty:    e.cfg.Arbitrage.MinSpotQuoteQty,
					MaxPositionSizeUSD: e.cfg.Arbitrage.MaxPositionSizeUSD,
					FreshnessHorizonMs: uint64(e.cfg.Arbitrage.FreshnessHorizon.Milliseconds()),
					MaxConsecutiveErrs: e.cfg.Arbitrage.MaxConsecutiveErrors,
					ErrorCooldown:      e.cfg.Arbitrage.ErrorCooldown,
					TickDelay:          e.cfg.Arbitrage.TickDelay,
				}
				taskCtx := types.NewTaskContext(taskID, symbol, buy, sell, params)
				e.startTaskLocked(taskCtx)
			}
		}
	}
}

// taskIDFor derives a deterministic task ID from a (symbol, buy, sell) triple.
func taskIDFor(symbol types.Symbol, buy, sell types.ExchangeId) string {
	return fmt.Sprintf("%s_%s_%s", symbol.String(), buy, sell)
}

func (e *Engine) startTaskLocked(taskCtx *types.TaskContext) {
	ctx, cancel := context.WithCancel(e.ctx)

	task := strategy.NewTask(taskCtx, e.connMgr, e.aggregator, e.detector, e.store, e.riskMgr, e, e.logger)

	e.slotsMu.Lock()
	e.slots[taskCtx.TaskID] = &taskSlot{task: task, cancel: cancel}
	e.slotsMu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.removeTask(taskCtx.TaskID)
		task.Run(ctx)
	}()
}

func (e *Engine) removeTask(taskID string) {
	e.slotsMu.Lock()
	delete(e.slots, taskID)
	e.slotsMu.Unlock()
	e.riskMgr.RemoveTask(taskID)
}

// watchKillSignals forwards risk manager kill signals onto any matching
// running task(s) by driving them into Exiting.
func (e *Engine) watchKillSignals() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case kill := <-e.riskMgr.KillCh():
			e.handleKillSignal(kill)
		}
	}
}

func (e *Engine) handleKillSignal(kill risk.KillSignal) {
	e.logger.Error("KILL SIGNAL received", "task_id", kill.TaskID, "reason", kill.Reason)

	e.Emit(strategy.Event{
		Type:      "task.kill",
		TaskID:    kill.TaskID,
		Timestamp: time.Now(),
		Data: map[string]any{
			"reason": kill.Reason,
			"until":  time.Now().Add(e.cfg.Arbitrage.Risk.CooldownAfterKill),
		},
	})

	e.slotsMu.RLock()
	defer e.slotsMu.RUnlock()

	if kill.TaskID == "" {
		for _, slot := range e.slots {
			slot.task.Cancel()
		}
		return
	}
	if slot, ok := e.slots[kill.TaskID]; ok {
		slot.task.Cancel()
	}
}

// Stop gracefully shuts down: cancels all contexts, waits for goroutines,
// cancels open orders for every configured symbol on every venue, and
// closes resources. Task goroutines return as soon as their context is
// cancelled; held positions are not unwound here.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.cancel()
	e.wg.Wait()

	cancelCtx, cancelOrders := context.WithTimeout(context.Background(), 5*time.Second)
	for _, symbol := range e.symbols {
		e.connMgr.CancelAllOrders(cancelCtx, symbol)
	}
	cancelOrders()

	for _, conn := range e.connectors {
		if err := conn.Close(); err != nil {
			e.logger.Error("failed to close connector", "error", err)
		}
	}
	e.store.Close()

	e.logger.Info("shutdown complete")
}

// Emit implements strategy.EventSink, fanning task-lifecycle events out to
// the dashboard (non-blocking, dropped if the dashboard can't keep up).
func (e *Engine) Emit(evt strategy.Event) {
	if e.dashboardEvents == nil {
		return
	}
	select {
	case e.dashboardEvents <- api.FromTaskEvent(evt):
	default:
		e.logger.Warn("dashboard event channel full, dropping event", "type", evt.Type)
	}
}

// DashboardEvents returns the dashboard event channel (may be nil).
func (e *Engine) DashboardEvents() <-chan api.DashboardEvent {
	return e.dashboardEvents
}

// GetTasksSnapshot returns current state of all active tasks for the dashboard.
func (e *Engine) GetTasksSnapshot() []api.TaskStatus {
	e.slotsMu.RLock()
	defer e.slotsMu.RUnlock()

	result := make([]api.TaskStatus, 0, len(e.slots))
	for _, slot := range e.slots {
		snap := slot.task.Snapshot()

		spot := snap.PositionsState.Positions[types.RoleSpot]
		fut := snap.PositionsState.Positions[types.RoleFutures]

		var opp *api.OpportunityInfo
		if snap.CurrentOpportunity != nil {
			o := snap.CurrentOpportunity
			opp = &api.OpportunityInfo{
				BuyPrice:     o.BuyPrice,
				SellPrice:    o.SellPrice,
				MaxQuantity:  o.MaxQuantity,
				SpreadBps:    o.SpreadBps,
				DetectedAtMs: o.DetectedAtMs,
			}
		}

		result = append(result, api.TaskStatus{
			TaskID:    snap.TaskID,
			Symbol:    snap.Symbol.String(),
			BuyVenue:  string(snap.BuyVenue),
			SellVenue: string(snap.SellVenue),
			State:     string(snap.StateName),

			LastUpdated: snap.UpdatedAt,

			// Unrealized PnL isn't carried on PositionEntry (which only tracks
			// quantity/avg price); it would require a live mark price the
			// supervisor doesn't hold per-task, so only the task's own
			// realized PnL (booked on exit) is surfaced here.
			Position: api.PositionSnapshot{
				SpotQty:      spot.SignedQty(),
				SpotAvgPrice: spot.AvgPrice,
				FutQty:       fut.SignedQty(),
				FutAvgPrice:  fut.AvgPrice,
				Delta:        snap.PositionsState.Delta,
				DeltaUSDT:    snap.PositionsState.DeltaUSDT,
				RealizedPnL:  snap.RealizedPnLUSDT,
				LastUpdated:  snap.UpdatedAt,
			},

			CurrentOpportunity: opp,

			PositionStartMs:   snap.PositionStartMs,
			TotalVolumeUSDT:   snap.TotalVolumeUSDT,
			ConsecutiveErrors: snap.ConsecutiveErrors,
			LastError:         snap.LastError,
		})
	}

	return result
}

// GetDetector returns the opportunity detector for dashboard access.
func (e *Engine) GetDetector() *market.Detector {
	return e.detector
}

// GetRiskManager returns the risk manager for dashboard access.
func (e *Engine) GetRiskManager() *risk.Manager {
	return e.riskMgr
}
