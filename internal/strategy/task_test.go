package strategy

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dasein108/cex-arbitrage-sub007/internal/config"
	"github.com/dasein108/cex-arbitrage-sub007/internal/exchange"
	"github.com/dasein108/cex-arbitrage-sub007/internal/market"
	"github.com/dasein108/cex-arbitrage-sub007/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// ————————————————————————————————————————————————————————————————————————
// Pure math
// ————————————————————————————————————————————————————————————————————————

func TestComputeNetPnLPct_ProfitableUnwind(t *testing.T) {
	// Entered spot long at 100, futures short at 101; both legs exit flat:
	// spot sells at 101, futures buys back at 100. Ignoring fees this nets +2%.
	got := computeNetPnLPct(100, 101, 101, 100, 0, 0)
	if got <= 0 {
		t.Fatalf("expected a positive unwind, got %v", got)
	}
}

func TestComputeNetPnLPct_FeesErodeMargin(t *testing.T) {
	noFees := computeNetPnLPct(100, 101, 101, 100, 0, 0)
	withFees := computeNetPnLPct(100, 101, 101, 100, 0.001, 0.001)
	if withFees >= noFees {
		t.Fatalf("fees should reduce net pnl: noFees=%v withFees=%v", noFees, withFees)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Stub connector
// ————————————————————————————————————————————————————————————————————————

type stubConn struct {
	venue types.ExchangeId
	info  types.SymbolInfo

	placeFunc func(types.OrderPlacementParams) (types.Order, error)
}

func (s *stubConn) Initialize(ctx context.Context) error { return nil }
func (s *stubConn) Venue() types.ExchangeId               { return s.venue }
func (s *stubConn) GetBookTicker(ctx context.Context, symbol types.Symbol) (types.BookTicker, error) {
	return types.BookTicker{}, nil
}
func (s *stubConn) GetOrderBook(ctx context.Context, symbol types.Symbol, depth int) (*types.OrderBook, error) {
	return nil, nil
}
func (s *stubConn) SubscribeUpdates(ctx context.Context, symbols []types.Symbol) (<-chan types.BookTicker, <-chan types.Order, error) {
	return nil, nil, nil
}
func (s *stubConn) PlaceOrder(ctx context.Context, params types.OrderPlacementParams) (types.Order, error) {
	if s.placeFunc != nil {
		return s.placeFunc(params)
	}
	return types.Order{OrderID: "o-" + string(s.venue), Symbol: params.Symbol, Side: params.Side, Price: params.Price, Quantity: params.Quantity, FilledQty: params.Quantity, Status: types.OrderStatusFilled}, nil
}
func (s *stubConn) CancelOrder(ctx context.Context, symbol types.Symbol, orderID string) error {
	return nil
}
func (s *stubConn) GetOrder(ctx context.Context, symbol types.Symbol, orderID string) (types.Order, error) {
	return types.Order{}, nil
}
func (s *stubConn) GetOpenOrders(ctx context.Context, symbol types.Symbol) ([]types.Order, error) {
	return nil, nil
}
func (s *stubConn) GetBalances(ctx context.Context) (map[types.AssetName]types.AssetBalance, error) {
	return nil, nil
}
func (s *stubConn) SymbolInfo(symbol types.Symbol) (types.SymbolInfo, bool) { return s.info, true }
func (s *stubConn) Health(maxMessageAge, maxRESTLatency time.Duration) exchange.HealthStatus {
	return exchange.HealthStatus{Healthy: true}
}
func (s *stubConn) Close() error { return nil }

type noopStore struct{ saved []*types.TaskContext }

func (n *noopStore) SaveTask(ctx *types.TaskContext) error {
	n.saved = append(n.saved, ctx)
	return nil
}

type noopRisk struct{}

func (noopRisk) Report(RiskReport)                 {}
func (noopRisk) IsKillSwitchActive() bool          { return false }
func (noopRisk) RemainingBudget(string) float64    { return 0 }

func symbolBTC() types.Symbol { return types.Symbol{Base: "BTC", Quote: "USDT"} }

func newTestTask(t *testing.T) (*Task, *market.Aggregator, *market.Detector, *exchange.Manager) {
	t.Helper()
	symbol := symbolBTC()

	connectors := map[types.ExchangeId]exchange.Connector{
		types.MexcSpot:      &stubConn{venue: types.MexcSpot, info: types.SymbolInfo{Symbol: symbol, TakerFee: decimal.NewFromFloat(0.001)}},
		types.GateioFutures: &stubConn{venue: types.GateioFutures, info: types.SymbolInfo{Symbol: symbol, TakerFee: decimal.NewFromFloat(0.0005), ContractSize: 0.01}},
	}
	connMgr := exchange.NewManager(connectors, testLogger())

	agg := market.NewAggregator()
	now := uint64(time.Now().UnixMilli())
	agg.ApplyBookTicker(types.MexcSpot, types.BookTicker{Symbol: symbol, BidPrice: 99.9, BidQty: 10, AskPrice: 100, AskQty: 10, TimestampMs: now})
	agg.ApplyBookTicker(types.GateioFutures, types.BookTicker{Symbol: symbol, BidPrice: 101, BidQty: 10, AskPrice: 101.1, AskQty: 10, TimestampMs: now})

	cfgArb := testArbitrageConfig()
	fees := func(venue types.ExchangeId, symbol types.Symbol) (decimal.Decimal, bool) {
		conn, ok := connMgr.GetExchange(venue)
		if !ok {
			return decimal.Zero, false
		}
		info, ok := conn.SymbolInfo(symbol)
		return info.TakerFee, ok
	}
	detector := market.NewDetector(cfgArb, []types.Symbol{symbol}, []types.ExchangeId{types.MexcSpot, types.GateioFutures}, agg, fees, testLogger())

	params := types.StrategyParams{
		MinProfitMarginBps: 5,
		MinProfitPct:       0.5,
		MaxHours:           4,
		MinSpotQuoteQty:    50,
		MaxPositionSizeUSD: 1000,
		FreshnessHorizonMs: 2000,
		MaxConsecutiveErrs: 3,
		ErrorCooldown:      time.Millisecond,
		TickDelay:          10 * time.Millisecond,
	}
	taskCtx := types.NewTaskContext("task-1", symbol, types.MexcSpot, types.GateioFutures, params)
	store := &noopStore{}
	task := NewTask(taskCtx, connMgr, agg, detector, store, noopRisk{}, nil, testLogger())
	return task, agg, detector, connMgr
}

func TestTask_InitializingAdvancesToMonitoring(t *testing.T) {
	task, _, _, _ := newTestTask(t)
	if err := task.handleInitializing(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.State() != types.TaskMonitoring {
		t.Fatalf("state = %v, want Monitoring", task.State())
	}
}

func TestTask_MonitoringDetectsOpportunityAndAnalyzes(t *testing.T) {
	task, _, detector, _ := newTestTask(t)
	task.transition(types.TaskMonitoring)

	// Force a scan cycle synchronously via the detector's internal cache path:
	// run one manual evaluation by invoking the same detection the Run loop
	// would observe after Detector.Run's ticker fires. Since scan() is
	// unexported, drive it indirectly through a short Run.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	go detector.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	if err := task.handleMonitoring(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.State() != types.TaskAnalyzing {
		t.Fatalf("state = %v, want Analyzing (opportunity should have been found)", task.State())
	}
}

func TestTask_ExecutingEntersBothLegsAndReturnsToMonitoring(t *testing.T) {
	task, _, _, _ := newTestTask(t)
	task.transition(types.TaskMonitoring)

	opp := types.ArbitrageOpportunity{
		Symbol: symbolBTC(), BuyVenue: types.MexcSpot, SellVenue: types.GateioFutures,
		BuyPrice: 100, SellPrice: 101, MaxQuantity: 1, SpreadBps: 50, DetectedAtMs: uint64(time.Now().UnixMilli()),
	}
	task.mu.Lock()
	nc := task.ctx.Evolve()
	nc.CurrentOpportunity = &opp
	nc.StateName = types.TaskExecuting
	task.ctx = nc
	task.mu.Unlock()

	if err := task.handleExecuting(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := task.Snapshot()
	if snap.StateName != types.TaskMonitoring {
		t.Fatalf("state = %v, want Monitoring after a clean entry", snap.StateName)
	}
	if !positionsHeld(snap.PositionsState) {
		t.Fatal("expected both legs to be recorded as held positions")
	}
}

func TestTask_ExecutingUnwindsOnPartialFailure(t *testing.T) {
	task, _, _, connMgr := newTestTask(t)
	task.transition(types.TaskMonitoring)

	failing := connMgr
	conn, _ := failing.GetExchange(types.GateioFutures)
	sc := conn.(*stubConn)
	sc.placeFunc = func(p types.OrderPlacementParams) (types.Order, error) {
		return types.Order{}, context.DeadlineExceeded
	}

	opp := types.ArbitrageOpportunity{
		Symbol: symbolBTC(), BuyVenue: types.MexcSpot, SellVenue: types.GateioFutures,
		BuyPrice: 100, SellPrice: 101, MaxQuantity: 1, SpreadBps: 50, DetectedAtMs: uint64(time.Now().UnixMilli()),
	}
	task.mu.Lock()
	nc := task.ctx.Evolve()
	nc.CurrentOpportunity = &opp
	nc.StateName = types.TaskExecuting
	task.ctx = nc
	task.mu.Unlock()

	task.handleExecuting(context.Background())
	if task.State() != types.TaskErrorRecovery {
		t.Fatalf("state = %v, want ErrorRecovery after a partial entry failure", task.State())
	}
}

func TestTask_ExitingBooksRealizedPnLOnFullUnwind(t *testing.T) {
	task, _, _, connMgr := newTestTask(t)
	task.transition(types.TaskMonitoring)

	spotConn, _ := connMgr.GetExchange(types.MexcSpot)
	spotConn.(*stubConn).placeFunc = func(p types.OrderPlacementParams) (types.Order, error) {
		return types.Order{OrderID: "exit-spot", Symbol: p.Symbol, Side: p.Side, Price: 101, Quantity: p.Quantity, FilledQty: p.Quantity, Status: types.OrderStatusFilled}, nil
	}
	futConn, _ := connMgr.GetExchange(types.GateioFutures)
	futConn.(*stubConn).placeFunc = func(p types.OrderPlacementParams) (types.Order, error) {
		return types.Order{OrderID: "exit-fut", Symbol: p.Symbol, Side: p.Side, Price: 100, Quantity: p.Quantity, FilledQty: p.Quantity, Status: types.OrderStatusFilled}, nil
	}

	task.mu.Lock()
	nc := task.ctx.Evolve()
	nc.PositionsState.Positions[types.RoleSpot] = types.PositionEntry{Role: types.RoleSpot, Side: types.Buy, Quantity: 1, AvgPrice: 100}
	nc.PositionsState.Positions[types.RoleFutures] = types.PositionEntry{Role: types.RoleFutures, Side: types.Sell, Quantity: 1, AvgPrice: 101}
	nc.StateName = types.TaskExiting
	task.ctx = nc
	task.mu.Unlock()

	if err := task.handleExiting(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := task.Snapshot()
	if snap.StateName != types.TaskCompleted {
		t.Fatalf("state = %v, want Completed after both legs unwind cleanly", snap.StateName)
	}
	if snap.RealizedPnLUSDT <= 0 {
		t.Fatalf("expected a positive booked PnL, got %v", snap.RealizedPnLUSDT)
	}
}

func testArbitrageConfig() config.ArbitrageConfig {
	return config.ArbitrageConfig{
		ScanInterval:       10 * time.Millisecond,
		FreshnessHorizon:   2 * time.Second,
		MinProfitMarginBps: 1,
		MaxPositionSizeUSD: 1000,
	}
}
