// task.go implements the Strategy Task Runtime: one Task owns the full
// lifecycle of a single delta-neutral arbitrage trade on one (symbol,
// buy_venue, sell_venue) triple, driven by an explicit state machine. The
// run loop is a poll-and-transition cycle over an explicit TaskState, with
// weighted-average fill accounting factored into exchange.ApplyFill and
// reused here rather than duplicated.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dasein108/cex-arbitrage-sub007/internal/exchange"
	"github.com/dasein108/cex-arbitrage-sub007/internal/market"
	"github.com/dasein108/cex-arbitrage-sub007/pkg/types"
)

// ContextStore persists a task's TaskContext after every state transition,
// so a crashed process can rehydrate in-flight tasks on restart. Implemented
// by internal/store.
type ContextStore interface {
	SaveTask(ctx *types.TaskContext) error
}

// RiskReport summarizes one task's current exposure for the shared risk
// manager's global exposure, rapid-price-movement, and kill-switch tracking.
type RiskReport struct {
	TaskID        string
	MidPrice      float64
	ExposureUSD   float64
	UnrealizedPnL float64
	RealizedPnL   float64
	Timestamp     time.Time
}

// RiskGate is the subset of the risk manager a task consults. Implemented
// by internal/risk.Manager.
type RiskGate interface {
	Report(report RiskReport)
	IsKillSwitchActive() bool
	RemainingBudget(taskID string) float64
}

// Event is a task lifecycle notification forwarded to the operator dashboard.
type Event struct {
	Type      string
	TaskID    string
	Timestamp time.Time
	Data      map[string]any
}

// EventSink receives task lifecycle events. Implemented by internal/engine's
// supervisor, which forwards them to the dashboard's event hub.
type EventSink interface {
	Emit(Event)
}

// Task runs the state machine for one arbitrage trade. One goroutine per
// Task calls Run; all other access goes through its exported methods, which
// are safe for concurrent use (e.g. from the supervisor's operator-command
// handlers).
type Task struct {
	mu sync.Mutex
	ctx *types.TaskContext

	connMgr    *exchange.Manager
	aggregator *market.Aggregator
	detector   *market.Detector
	store      ContextStore
	risk       RiskGate
	tracker    *OpportunityTracker
	events     EventSink
	logger     *slog.Logger
}

// NewTask wires a Task around an initial context. taskCtx is normally either
// a freshly built types.NewTaskContext or one rehydrated from the store.
func NewTask(taskCtx *types.TaskContext, connMgr *exchange.Manager, aggregator *market.Aggregator, detector *market.Detector, store ContextStore, risk RiskGate, events EventSink, logger *slog.Logger) *Task {
	ttl := time.Duration(taskCtx.Params.FreshnessHorizonMs) * time.Millisecond
	return &Task{
		ctx:        taskCtx,
		connMgr:    connMgr,
		aggregator: aggregator,
		detector:   detector,
		store:      store,
		risk:       risk,
		tracker:    NewOpportunityTracker(ttl),
		events:     events,
		logger:     logger.With("component", "task", "task_id", taskCtx.TaskID),
	}
}

// Snapshot returns the task's current context. The returned value is
// treated as immutable by convention (copy-on-write via Evolve), so callers
// may read it without additional locking.
func (t *Task) Snapshot() *types.TaskContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ctx
}

// State returns the task's current lifecycle state.
func (t *Task) State() types.TaskState {
	return t.Snapshot().StateName
}

// Run drives the state machine until ctx is cancelled or the task reaches a
// terminal state (Completed, Cancelled).
func (t *Task) Run(ctx context.Context) {
	if t.State() == types.TaskIdle {
		t.transition(types.TaskInitializing)
	}

	delay := t.Snapshot().Params.TickDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	ticker := time.NewTicker(delay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx)
			if t.State().IsTerminal() {
				return
			}
		}
	}
}

func (t *Task) tick(ctx context.Context) {
	state := t.State()

	var err error
	switch state {
	case types.TaskInitializing:
		err = t.handleInitializing(ctx)
	case types.TaskMonitoring:
		err = t.handleMonitoring(ctx)
	case types.TaskAnalyzing:
		err = t.handleAnalyzing(ctx)
	case types.TaskExecuting:
		err = t.handleExecuting(ctx)
	case types.TaskExiting:
		err = t.handleExiting(ctx)
	case types.TaskErrorRecovery:
		err = t.handleErrorRecovery(ctx)
	case types.TaskPaused:
		// Waits for an operator Resume(). No periodic work.
	}
	if err != nil {
		t.logger.Error("task tick failed", "state", state, "error", err)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Operator controls
// ————————————————————————————————————————————————————————————————————————

// Pause halts the task at its next tick boundary, regardless of current state.
func (t *Task) Pause() {
	t.setState(types.TaskPaused)
}

// Resume returns a paused task to Monitoring. No-op if not currently paused.
func (t *Task) Resume() {
	t.mu.Lock()
	if t.ctx.StateName != types.TaskPaused {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	t.transition(types.TaskMonitoring)
}

// Cancel marks the task Cancelled; Run will observe this at its next tick
// and stop. Any open position is left for the operator or a fresh task to
// unwind — Cancel does not itself submit orders.
func (t *Task) Cancel() {
	t.setState(types.TaskCancelled)
}

func (t *Task) setState(state types.TaskState) {
	t.transition(state)
}

// ————————————————————————————————————————————————————————————————————————
// State handlers
// ————————————————————————————————————————————————————————————————————————

func (t *Task) handleInitializing(ctx context.Context) error {
	snap := t.Snapshot()

	buyConn, ok := t.connMgr.GetExchange(snap.BuyVenue)
	if !ok {
		return t.fail(fmt.Errorf("buy venue %s not configured", snap.BuyVenue))
	}
	sellConn, ok := t.connMgr.GetExchange(snap.SellVenue)
	if !ok {
		return t.fail(fmt.Errorf("sell venue %s not configured", snap.SellVenue))
	}
	if _, ok := buyConn.SymbolInfo(snap.Symbol); !ok {
		return t.fail(fmt.Errorf("symbol info unavailable on %s for %s", snap.BuyVenue, snap.Symbol))
	}
	if _, ok := sellConn.SymbolInfo(snap.Symbol); !ok {
		return t.fail(fmt.Errorf("symbol info unavailable on %s for %s", snap.SellVenue, snap.Symbol))
	}

	t.transition(types.TaskMonitoring)
	return nil
}

func (t *Task) handleMonitoring(ctx context.Context) error {
	snap := t.Snapshot()

	if t.risk != nil {
		t.risk.Report(RiskReport{
			TaskID:        snap.TaskID,
			MidPrice:      t.markPrice(snap),
			ExposureUSD:   absF(snap.PositionsState.DeltaUSDT),
			UnrealizedPnL: t.unrealizedPnLUSDT(snap),
			RealizedPnL:   snap.RealizedPnLUSDT,
			Timestamp:     time.Now(),
		})
	}
	killed := t.risk != nil && t.risk.IsKillSwitchActive()

	if positionsHeld(snap.PositionsState) {
		if killed || t.shouldExit(snap) {
			t.transition(types.TaskExiting)
			return nil
		}
		return t.correctImbalance(ctx, snap)
	}

	if killed {
		return nil
	}

	opp, ok := t.detector.For(snap.Symbol, snap.BuyVenue, snap.SellVenue)
	if !ok {
		return nil
	}

	now := time.Now()
	if !t.tracker.TryTrack(opp, now) {
		return nil
	}
	if age := ageOf(opp.DetectedAtMs, nowMsU64(now)); !withinFreshness(age, snap.Params.FreshnessHorizonMs) {
		t.tracker.Release(opp.Key())
		return nil
	}

	t.mu.Lock()
	nc := t.ctx.Evolve()
	oppCopy := opp
	nc.CurrentOpportunity = &oppCopy
	nc.StateName = types.TaskAnalyzing
	t.ctx = nc
	t.mu.Unlock()
	t.persist()
	t.emit("task.opportunity_detected", map[string]any{"spread_bps": opp.SpreadBps})
	return nil
}

func (t *Task) handleAnalyzing(ctx context.Context) error {
	snap := t.Snapshot()
	opp := snap.CurrentOpportunity
	if opp == nil {
		t.transition(types.TaskMonitoring)
		return nil
	}

	if age := ageOf(opp.DetectedAtMs, nowMsU64(time.Now())); !withinFreshness(age, snap.Params.FreshnessHorizonMs) {
		t.discardOpportunity(opp, types.TaskMonitoring)
		return nil
	}

	current, ok := t.detector.For(snap.Symbol, snap.BuyVenue, snap.SellVenue)
	if !ok || int(current.SpreadBps) < snap.Params.MinProfitMarginBps {
		t.discardOpportunity(opp, types.TaskMonitoring)
		return nil
	}

	t.mu.Lock()
	nc := t.ctx.Evolve()
	oppCopy := current
	nc.CurrentOpportunity = &oppCopy
	nc.StateName = types.TaskExecuting
	t.ctx = nc
	t.mu.Unlock()
	t.persist()
	return nil
}

func (t *Task) handleExecuting(ctx context.Context) error {
	snap := t.Snapshot()
	opp := snap.CurrentOpportunity
	if opp == nil {
		t.transition(types.TaskMonitoring)
		return nil
	}

	buyConn, ok := t.connMgr.GetExchange(snap.BuyVenue)
	if !ok {
		return t.fail(fmt.Errorf("buy venue %s not configured", snap.BuyVenue))
	}
	sellConn, ok := t.connMgr.GetExchange(snap.SellVenue)
	if !ok {
		return t.fail(fmt.Errorf("sell venue %s not configured", snap.SellVenue))
	}
	buyInfo, _ := buyConn.SymbolInfo(snap.Symbol)
	sellInfo, _ := sellConn.SymbolInfo(snap.Symbol)

	qtyCap := opp.MaxQuantity
	if snap.Params.MaxPositionSizeUSD > 0 {
		if byQuote := snap.Params.MaxPositionSizeUSD / opp.BuyPrice; byQuote < qtyCap {
			qtyCap = byQuote
		}
	}
	if t.risk != nil {
		if budget := t.risk.RemainingBudget(snap.TaskID); budget > 0 {
			if byBudget := budget / opp.BuyPrice; byBudget < qtyCap {
				qtyCap = byBudget
			}
		}
	}

	buyQty, sellQty := exchange.ReconcileLegQuantities(snap.BuyVenue, snap.SellVenue, buyInfo, sellInfo, opp.BuyPrice, opp.SellPrice, qtyCap)

	params := map[types.ExchangeId]types.OrderPlacementParams{
		snap.BuyVenue:  {Symbol: snap.Symbol, Side: types.Buy, OrderType: types.OrderTypeIOC, Price: opp.BuyPrice, Quantity: buyQty, TimeInForce: types.TimeInForceIOC},
		snap.SellVenue: {Symbol: snap.Symbol, Side: types.Sell, OrderType: types.OrderTypeIOC, Price: opp.SellPrice, Quantity: sellQty, TimeInForce: types.TimeInForceIOC},
	}
	results := t.connMgr.PlaceOrdersParallel(ctx, params, 3*time.Second)
	buyResult, sellResult := results[snap.BuyVenue], results[snap.SellVenue]

	switch {
	case buyResult.Err != nil && sellResult.Err != nil:
		t.tracker.Release(opp.Key())
		return t.fail(fmt.Errorf("both entry legs rejected: buy=%v sell=%v", buyResult.Err, sellResult.Err))
	case buyResult.Err != nil:
		t.connMgr.CancelAllOrders(ctx, snap.Symbol)
		t.tracker.Release(opp.Key())
		return t.fail(fmt.Errorf("buy leg rejected, cancelling resting sell leg: %w", buyResult.Err))
	case sellResult.Err != nil:
		t.connMgr.CancelAllOrders(ctx, snap.Symbol)
		t.tracker.Release(opp.Key())
		return t.fail(fmt.Errorf("sell leg rejected, cancelling resting buy leg: %w", sellResult.Err))
	}

	t.mu.Lock()
	nc := t.ctx.Evolve()
	t.applyOrderLocked(nc, snap.BuyVenue, buyResult.Order)
	t.applyOrderLocked(nc, snap.SellVenue, sellResult.Order)
	if nc.PositionStartMs == 0 {
		nc.PositionStartMs = nowMsU64(time.Now())
	}
	nc.TotalVolumeUSDT += opp.BuyPrice*buyQty + opp.SellPrice*sellQty
	nc.ConsecutiveErrors = 0
	nc.CurrentOpportunity = nil
	nc.StateName = types.TaskMonitoring
	t.ctx = nc
	t.mu.Unlock()
	t.persist()
	t.tracker.Release(opp.Key())
	t.emit("task.entered", map[string]any{"buy_qty": buyQty, "sell_qty": sellQty})
	return nil
}

func (t *Task) handleExiting(ctx context.Context) error {
	snap := t.Snapshot()
	spotVenue, futVenue := t.spotAndFuturesVenues(snap)
	spotPos := snap.PositionsState.Positions[types.RoleSpot]
	futPos := snap.PositionsState.Positions[types.RoleFutures]

	params := make(map[types.ExchangeId]types.OrderPlacementParams)
	if spotPos.Quantity > 0 {
		side := spotPos.Side.Opposite()
		params[spotVenue] = types.OrderPlacementParams{
			Symbol: snap.Symbol, Side: side, OrderType: types.OrderTypeIOC,
			Price: t.crossPrice(spotVenue, snap.Symbol, side), Quantity: spotPos.Quantity, TimeInForce: types.TimeInForceIOC,
		}
	}
	if futPos.Quantity > 0 {
		side := futPos.Side.Opposite()
		params[futVenue] = types.OrderPlacementParams{
			Symbol: snap.Symbol, Side: side, OrderType: types.OrderTypeIOC,
			Price: t.crossPrice(futVenue, snap.Symbol, side), Quantity: futPos.Quantity, TimeInForce: types.TimeInForceIOC, ReduceOnly: true,
		}
	}
	if len(params) == 0 {
		t.transition(types.TaskCompleted)
		return nil
	}

	results := t.connMgr.PlaceOrdersParallel(ctx, params, 3*time.Second)

	spotFee, _ := t.takerFee(spotVenue, snap.Symbol)
	futFee, _ := t.takerFee(futVenue, snap.Symbol)

	t.mu.Lock()
	nc := t.ctx.Evolve()
	for venue, res := range results {
		if res.Err != nil {
			t.logger.Error("exit leg rejected", "task_id", snap.TaskID, "venue", venue, "error", res.Err)
			nc.LastError = res.Err.Error()
			continue
		}
		t.applyOrderLocked(nc, venue, res.Order)
	}
	if !positionsHeld(nc.PositionsState) {
		nc.StateName = types.TaskCompleted
		if spotRes, ok := results[spotVenue]; ok && spotRes.Err == nil {
			if futRes, ok := results[futVenue]; ok && futRes.Err == nil {
				netPct := computeNetPnLPct(spotPos.AvgPrice, futPos.AvgPrice, spotRes.Order.Price, futRes.Order.Price, spotFee, futFee)
				nc.RealizedPnLUSDT += netPct / 100 * spotPos.AvgPrice * spotPos.Quantity
			}
		}
	} else {
		nc.StateName = types.TaskMonitoring
	}
	t.ctx = nc
	t.mu.Unlock()
	t.persist()
	t.emit("task.exit_attempted", nil)
	return nil
}

func (t *Task) handleErrorRecovery(ctx context.Context) error {
	snap := t.Snapshot()
	t.connMgr.CancelAllOrders(ctx, snap.Symbol)

	if snap.Params.MaxConsecutiveErrs > 0 && snap.ConsecutiveErrors >= snap.Params.MaxConsecutiveErrs {
		t.transition(types.TaskPaused)
		t.emit("task.paused", map[string]any{"reason": "max_consecutive_errors"})
		return nil
	}

	cooldown := snap.Params.ErrorCooldown
	if cooldown <= 0 {
		cooldown = 5 * time.Second
	}
	time.Sleep(cooldown)

	if positionsHeld(snap.PositionsState) {
		t.transition(types.TaskExiting)
		return nil
	}
	t.transition(types.TaskMonitoring)
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Supporting logic
// ————————————————————————————————————————————————————————————————————————

// markToMarketPct returns the current unwind percentage for the held
// position in snap against live venue tickers, or false if either leg's
// book isn't available yet.
func (t *Task) markToMarketPct(snap *types.TaskContext) (float64, bool) {
	spotPos, hasSpot := snap.PositionsState.Positions[types.RoleSpot]
	futPos, hasFut := snap.PositionsState.Positions[types.RoleFutures]
	if !hasSpot || !hasFut || spotPos.Quantity <= 0 || futPos.Quantity <= 0 {
		return 0, false
	}

	spotVenue, futVenue := t.spotAndFuturesVenues(snap)
	spotTicker, ok1 := t.aggregator.BookTicker(spotVenue, snap.Symbol)
	futTicker, ok2 := t.aggregator.BookTicker(futVenue, snap.Symbol)
	if !ok1 || !ok2 {
		return 0, false
	}
	spotFee, _ := t.takerFee(spotVenue, snap.Symbol)
	futFee, _ := t.takerFee(futVenue, snap.Symbol)

	return computeNetPnLPct(spotPos.AvgPrice, futPos.AvgPrice, spotTicker.BidPrice, futTicker.AskPrice, spotFee, futFee), true
}

// unrealizedPnLUSDT converts the current mark-to-market percentage into a
// USD amount against the capital committed on the spot leg's entry.
func (t *Task) unrealizedPnLUSDT(snap *types.TaskContext) float64 {
	spotPos, ok := snap.PositionsState.Positions[types.RoleSpot]
	if !ok || spotPos.Quantity <= 0 {
		return 0
	}
	netPct, ok := t.markToMarketPct(snap)
	if !ok {
		return 0
	}
	return netPct / 100 * spotPos.AvgPrice * spotPos.Quantity
}

// shouldExit evaluates the unwind decision: take profit at MinProfitPct,
// stop loss at -StopLossPct, or a hard time limit at MaxHours.
func (t *Task) shouldExit(snap *types.TaskContext) bool {
	if snap.Params.MaxHours > 0 && snap.PositionStartMs > 0 {
		held := float64(nowMsU64(time.Now())-snap.PositionStartMs) / 3_600_000.0
		if held >= snap.Params.MaxHours {
			return true
		}
	}

	netPct, ok := t.markToMarketPct(snap)
	if !ok {
		return false
	}

	if netPct >= snap.Params.MinProfitPct {
		return true
	}
	if snap.Params.StopLossPct > 0 && netPct <= -snap.Params.StopLossPct {
		return true
	}
	return false
}

// computeNetPnLPct computes the cash-and-carry unwind math for a long-spot /
// short-futures pair: each leg's entry and exit price is netted against its
// venue's taker fee before the spread is expressed as a percentage of the
// capital committed on entry.
func computeNetPnLPct(entrySpotPx, entryFuturesPx, exitSpotBid, exitFuturesAsk, spotFee, futuresFee float64) float64 {
	spotEntryCost := entrySpotPx * (1 + spotFee)
	futuresEntryCredit := entryFuturesPx * (1 - futuresFee)
	spotExitCredit := exitSpotBid * (1 - spotFee)
	futuresExitCost := exitFuturesAsk * (1 + futuresFee)
	if spotEntryCost <= 0 {
		return 0
	}
	return ((spotExitCredit - spotEntryCost) + (futuresEntryCredit - futuresExitCost)) / spotEntryCost * 100
}

// correctImbalance submits at most one corrective order per venue per tick,
// sized to close (never exceed) the current delta.
func (t *Task) correctImbalance(ctx context.Context, snap *types.TaskContext) error {
	threshold := snap.Params.MinSpotQuoteQty
	if threshold <= 0 || absF(snap.PositionsState.DeltaUSDT) < threshold {
		return nil
	}

	correctingSide := types.Sell
	if snap.PositionsState.Delta < 0 {
		correctingSide = types.Buy
	}
	qty := absF(snap.PositionsState.Delta)

	spotVenue, futVenue := t.spotAndFuturesVenues(snap)
	params := make(map[types.ExchangeId]types.OrderPlacementParams)
	for _, venue := range []types.ExchangeId{spotVenue, futVenue} {
		conn, ok := t.connMgr.GetExchange(venue)
		if !ok {
			continue
		}
		info, ok := conn.SymbolInfo(snap.Symbol)
		if !ok {
			continue
		}
		legQty := exchange.PrepareOrderQuantity(venue, info, t.crossPrice(venue, snap.Symbol, correctingSide), qty)
		if legQty <= 0 || legQty > qty {
			legQty = qty
		}
		params[venue] = types.OrderPlacementParams{
			Symbol: snap.Symbol, Side: correctingSide, OrderType: types.OrderTypeIOC,
			Price: t.crossPrice(venue, snap.Symbol, correctingSide), Quantity: legQty, TimeInForce: types.TimeInForceIOC,
		}
	}
	if len(params) == 0 {
		return nil
	}

	results := t.connMgr.PlaceOrdersParallel(ctx, params, 3*time.Second)

	t.mu.Lock()
	nc := t.ctx.Evolve()
	for venue, res := range results {
		if res.Err != nil {
			t.logger.Warn("imbalance correction leg rejected", "task_id", snap.TaskID, "venue", venue, "error", res.Err)
			continue
		}
		t.applyOrderLocked(nc, venue, res.Order)
	}
	t.ctx = nc
	t.mu.Unlock()
	t.persist()
	t.emit("task.imbalance_corrected", map[string]any{"delta_usdt": snap.PositionsState.DeltaUSDT})
	return nil
}

// applyOrderLocked folds a fresh order result into nc's ActiveOrders and
// PositionsState. Caller must hold t.mu.
func (t *Task) applyOrderLocked(nc *types.TaskContext, venue types.ExchangeId, order types.Order) {
	if order.OrderID == "" {
		return
	}
	role := venue.Role()
	prevFilled := 0.0
	if prev, seen := nc.ActiveOrders[role][order.OrderID]; seen {
		prevFilled = prev.FilledQty
	}
	nc.ActiveOrders[role][order.OrderID] = order

	upd := exchange.ApplyFill(nc.PositionsState.Positions[role], role, order, prevFilled)
	if upd.FillDelta != 0 {
		nc.PositionsState.Positions[role] = upd.Entry
	}
	nc.PositionsState.Recompute(t.markPrice(nc))
}

// markPrice uses the futures leg's mid price as the reference for delta valuation.
func (t *Task) markPrice(nc *types.TaskContext) float64 {
	_, futVenue := t.spotAndFuturesVenues(nc)
	ticker, ok := t.aggregator.BookTicker(futVenue, nc.Symbol)
	if !ok || ticker.BidPrice <= 0 || ticker.AskPrice <= 0 {
		return 0
	}
	return (ticker.BidPrice + ticker.AskPrice) / 2
}

func (t *Task) spotAndFuturesVenues(ctx *types.TaskContext) (spot, futures types.ExchangeId) {
	if ctx.BuyVenue.MarketType() == types.MarketFutures {
		return ctx.SellVenue, ctx.BuyVenue
	}
	return ctx.BuyVenue, ctx.SellVenue
}

func (t *Task) crossPrice(venue types.ExchangeId, symbol types.Symbol, side types.Side) float64 {
	ticker, ok := t.aggregator.BookTicker(venue, symbol)
	if !ok {
		return 0
	}
	if side == types.Sell {
		return ticker.BidPrice
	}
	return ticker.AskPrice
}

func (t *Task) takerFee(venue types.ExchangeId, symbol types.Symbol) (float64, bool) {
	conn, ok := t.connMgr.GetExchange(venue)
	if !ok {
		return 0, false
	}
	info, ok := conn.SymbolInfo(symbol)
	if !ok {
		return 0, false
	}
	f, _ := info.TakerFee.Float64()
	return f, true
}

// discardOpportunity releases a no-longer-actionable opportunity handle and
// clears it from the context without forcing a state transition; the
// caller decides what happens next (re-evaluate in Monitoring, or fail).
func (t *Task) discardOpportunity(opp *types.ArbitrageOpportunity, next types.TaskState) {
	t.tracker.Release(opp.Key())
	t.mu.Lock()
	nc := t.ctx.Evolve()
	nc.CurrentOpportunity = nil
	nc.StateName = next
	t.ctx = nc
	t.mu.Unlock()
	t.persist()
}

func (t *Task) transition(next types.TaskState) {
	t.mu.Lock()
	nc := t.ctx.Evolve()
	nc.StateName = next
	t.ctx = nc
	t.mu.Unlock()
	t.persist()
	t.emit("task.transition", map[string]any{"state": string(next)})
}

func (t *Task) fail(err error) error {
	t.mu.Lock()
	nc := t.ctx.Evolve()
	nc.ConsecutiveErrors++
	nc.LastError = err.Error()
	nc.CurrentOpportunity = nil
	nc.StateName = types.TaskErrorRecovery
	t.ctx = nc
	t.mu.Unlock()
	t.persist()
	t.emit("task.error", map[string]any{"error": err.Error()})
	return err
}

func (t *Task) persist() {
	if t.store == nil {
		return
	}
	snap := t.Snapshot()
	if err := t.store.SaveTask(snap); err != nil {
		t.logger.Error("persist task context failed", "task_id", snap.TaskID, "error", err)
	}
}

func (t *Task) emit(eventType string, data map[string]any) {
	if t.events == nil {
		return
	}
	t.events.Emit(Event{Type: eventType, TaskID: t.ctx.TaskID, Timestamp: time.Now(), Data: data})
}

func positionsHeld(ps types.PositionsState) bool {
	for _, p := range ps.Positions {
		if p.Quantity > 0 {
			return true
		}
	}
	return false
}

func ageOf(detectedAtMs, nowMs uint64) time.Duration {
	if nowMs < detectedAtMs {
		return 0
	}
	return time.Duration(nowMs-detectedAtMs) * time.Millisecond
}

func withinFreshness(age time.Duration, horizonMs uint64) bool {
	if horizonMs == 0 {
		return true
	}
	return age <= time.Duration(horizonMs)*time.Millisecond
}

func nowMsU64(t time.Time) uint64 {
	return uint64(t.UnixMilli())
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
