// Package types defines the shared data structures used across all packages:
// symbols, order books, orders, positions, opportunities and task context.
// It has no dependencies on internal packages so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: Buy or Sell.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Sign returns +1 for Buy, -1 for Sell, used when folding signed quantities.
func (s Side) Sign() float64 {
	if s == Buy {
		return 1
	}
	return -1
}

// OrderType enumerates the supported order lifecycles across venues.
type OrderType string

const (
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimitMaker OrderType = "LIMIT_MAKER"
	OrderTypeIOC        OrderType = "IOC"
	OrderTypeFOK        OrderType = "FOK"
	OrderTypeStopLimit  OrderType = "STOP_LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
)

// OrderStatus is the lifecycle status of an order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the order can no longer mutate.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// TimeInForce controls how long a resting order stays live.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// ExchangeRole distinguishes the spot leg from the futures leg of a
// delta-neutral pair. A venue may fill either role depending on configuration.
type ExchangeRole string

const (
	RoleSpot    ExchangeRole = "SPOT"
	RoleFutures ExchangeRole = "FUTURES"
)

// ExchangeId identifies a configured venue. The reference integrations are
// MEXC spot, Gate.io spot, and Gate.io futures; additional venues register
// through the same factory without code changes elsewhere.
type ExchangeId string

const (
	MexcSpot      ExchangeId = "mexc_spot"
	GateioSpot    ExchangeId = "gateio_spot"
	GateioFutures ExchangeId = "gateio_futures"
)

// MarketType reports whether a venue trades spot or futures instruments.
type MarketType string

const (
	MarketSpot    MarketType = "SPOT"
	MarketFutures MarketType = "FUTURES"
)

// MarketType reports whether id trades spot or futures instruments. Only
// GateioFutures is a futures venue among the reference integrations; any
// venue registered later as futures must be added here alongside its entry
// in the ExchangeId enum.
func (id ExchangeId) MarketType() MarketType {
	if id == GateioFutures {
		return MarketFutures
	}
	return MarketSpot
}

// Role returns the ExchangeRole a venue fills in a delta-neutral pair: the
// futures leg or the spot leg. TaskContext.ActiveOrders and PositionsState
// are keyed by this role rather than by ExchangeId, so a task's buy/sell
// venues resolve to roles through this method.
func (id ExchangeId) Role() ExchangeRole {
	if id.MarketType() == MarketFutures {
		return RoleFutures
	}
	return RoleSpot
}

// ————————————————————————————————————————————————————————————————————————
// Symbol
// ————————————————————————————————————————————————————————————————————————

// AssetName is a base or quote asset ticker, e.g. "BTC", "USDT".
type AssetName string

// Symbol is the primary key for all per-symbol state. Equality is structural:
// two Symbols with equal Base/Quote/IsFutures fields are the same trading pair.
type Symbol struct {
	Base      AssetName
	Quote     AssetName
	IsFutures bool
}

// String renders a canonical, venue-agnostic representation, e.g. "BTC/USDT".
func (s Symbol) String() string {
	suffix := ""
	if s.IsFutures {
		suffix = "-PERP"
	}
	return string(s.Base) + "/" + string(s.Quote) + suffix
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// OrderBookEntry is a single bid or ask level. Hot-path fields use float64
// per the float/Decimal cut-line: exact accounting happens at the boundary.
type OrderBookEntry struct {
	Price float64
	Size  float64
}

// OrderBook is the full local depth mirror for one (venue, symbol).
// Invariant: Bids are sorted descending by price, Asks ascending; Bids[0].Price
// must be < Asks[0].Price (no crossed book). IsCrossed detects a violation;
// a crossed book is not resynced automatically.
type OrderBook struct {
	Symbol       Symbol
	Bids         []OrderBookEntry
	Asks         []OrderBookEntry
	TimestampMs  uint64
	LastUpdateID uint64 // 0 means "not yet seeded from a sequenced snapshot"
}

// BestBid returns the top bid, or the zero entry and false if the book is empty.
func (b *OrderBook) BestBid() (OrderBookEntry, bool) {
	if len(b.Bids) == 0 {
		return OrderBookEntry{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top ask, or the zero entry and false if the book is empty.
func (b *OrderBook) BestAsk() (OrderBookEntry, bool) {
	if len(b.Asks) == 0 {
		return OrderBookEntry{}, false
	}
	return b.Asks[0], true
}

// IsCrossed reports whether the top of book is crossed (invariant violation).
func (b *OrderBook) IsCrossed() bool {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return false
	}
	return bid.Price >= ask.Price
}

// BookTicker is the compressed top-of-book view produced by a connector for
// low-latency consumers that do not need full depth.
type BookTicker struct {
	Symbol      Symbol
	BidPrice    float64
	BidQty      float64
	AskPrice    float64
	AskQty      float64
	TimestampMs uint64
	UpdateID    uint64
}

// Age returns how long ago (from nowMs) this ticker was produced.
func (t BookTicker) Age(nowMs uint64) time.Duration {
	if nowMs < t.TimestampMs {
		return 0
	}
	return time.Duration(nowMs-t.TimestampMs) * time.Millisecond
}

// ————————————————————————————————————————————————————————————————————————
// Symbol trading rules
// ————————————————————————————————————————————————————————————————————————

// SymbolInfo carries venue-specific trading rules, loaded once at startup by
// each connector's Initialize; a WebSocket reconnect does not reload it.
type SymbolInfo struct {
	Symbol         Symbol
	BasePrecision  int
	QuotePrecision int
	MinBaseQty     float64
	MinQuoteQty    float64
	ContractSize   float64 // futures only; 0/1 for spot
	MakerFee       decimal.Decimal
	TakerFee       decimal.Decimal
	Inactive       bool
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// OrderPlacementParams is the input to PlaceOrder / PlaceOrdersParallel.
type OrderPlacementParams struct {
	Symbol        Symbol
	Side          Side
	OrderType     OrderType
	Price         float64 // ignored for Market orders
	Quantity      float64
	TimeInForce   TimeInForce
	ClientOrderID string
	ReduceOnly    bool // futures only
}

// Order is the venue-agnostic order record. Lifecycle: created on
// PlaceOrder, mutated by exchange events and fill polling, terminal when
// Status is one of {Filled, Canceled, Rejected, Expired}.
type Order struct {
	OrderID       string
	ClientOrderID string
	Symbol        Symbol
	Side          Side
	OrderType     OrderType
	Price         float64
	Quantity      float64
	FilledQty     float64
	Status        OrderStatus
	TimeInForce   TimeInForce
	Timestamp     time.Time
	Fee           decimal.Decimal
	RejectReason  string
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() float64 {
	r := o.Quantity - o.FilledQty
	if r < 0 {
		return 0
	}
	return r
}

// AssetBalance is a venue account balance for one asset.
type AssetBalance struct {
	Asset     AssetName
	Free      float64
	Locked    float64
	UpdatedAt time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Positions
// ————————————————————————————————————————————————————————————————————————

// PositionEntry is a per-exchange-role position snapshot, derived from the
// monotonic sum of filled trades.
type PositionEntry struct {
	Role     ExchangeRole
	Side     Side
	Quantity float64
	AvgPrice float64
}

// SignedQty returns the position quantity signed by side (+long, -short).
func (p PositionEntry) SignedQty() float64 {
	return p.Quantity * p.Side.Sign()
}

// PositionsState aggregates both legs of a delta-neutral pair.
// Invariant: Delta = sum of signed quantities across all roles; for a
// correctly executed trade |DeltaUSDT| < the venue's minimum quote quantity.
type PositionsState struct {
	Positions map[ExchangeRole]PositionEntry
	Delta     float64
	DeltaUSDT float64
}

// NewPositionsState returns an empty, initialized state.
func NewPositionsState() PositionsState {
	return PositionsState{Positions: make(map[ExchangeRole]PositionEntry)}
}

// Recompute recalculates Delta from the Positions map. DeltaUSDT is supplied
// by the caller because it requires a current mark price.
func (p *PositionsState) Recompute(markPrice float64) {
	var delta float64
	for _, pos := range p.Positions {
		delta += pos.SignedQty()
	}
	p.Delta = delta
	p.DeltaUSDT = delta * markPrice
}

// ————————————————————————————————————————————————————————————————————————
// Arbitrage opportunities
// ————————————————————————————————————————————————————————————————————————

// OpportunityDirection distinguishes opening a new position from closing one.
type OpportunityDirection string

const (
	DirectionEnter OpportunityDirection = "ENTER"
	DirectionExit  OpportunityDirection = "EXIT"
)

// ArbitrageOpportunity is emitted by the detector when a cross-venue spread
// clears the configured thresholds.
type ArbitrageOpportunity struct {
	Direction    OpportunityDirection
	Symbol       Symbol
	BuyVenue     ExchangeId
	SellVenue    ExchangeId
	BuyPrice     float64
	SellPrice    float64
	MaxQuantity  float64
	SpreadBps    float64
	DetectedAtMs uint64
}

// Key returns the deduplication key: opportunities are emitted at most once
// per (symbol, buy_venue, sell_venue) while active.
func (o ArbitrageOpportunity) Key() string {
	return string(o.Symbol.Base) + "/" + string(o.Symbol.Quote) + "|" + string(o.BuyVenue) + "|" + string(o.SellVenue)
}

// ————————————————————————————————————————————————————————————————————————
// Task context (crash-recoverable strategy state)
// ————————————————————————————————————————————————————————————————————————

// TaskState is the tagged-union state of a strategy task's lifecycle.
type TaskState string

const (
	TaskIdle          TaskState = "IDLE"
	TaskInitializing  TaskState = "INITIALIZING"
	TaskMonitoring    TaskState = "MONITORING"
	TaskAnalyzing     TaskState = "ANALYZING"
	TaskExecuting     TaskState = "EXECUTING"
	TaskExiting       TaskState = "EXITING"
	TaskPaused        TaskState = "PAUSED"
	TaskErrorRecovery TaskState = "ERROR_RECOVERY"
	TaskCompleted     TaskState = "COMPLETED"
	TaskCancelled     TaskState = "CANCELLED"
)

// IsTerminal reports whether the task's run loop should stop scheduling ticks.
func (s TaskState) IsTerminal() bool {
	return s == TaskCompleted || s == TaskCancelled
}

// StrategyParams configures a single task instance's thresholds.
type StrategyParams struct {
	MinProfitMarginBps int
	MinProfitPct       float64
	StopLossPct        float64 // 0 disables
	MaxHours           float64
	MinSpotQuoteQty    float64
	MaxPositionSizeUSD float64
	FreshnessHorizonMs uint64
	MaxConsecutiveErrs int
	ErrorCooldown      time.Duration
	TickDelay          time.Duration
}

// CurrentSchemaVersion is bumped whenever TaskContext's persisted shape changes.
const CurrentSchemaVersion = 1

// TaskContext is the serializable strategy state. It must round-trip
// losslessly through durable storage for crash recovery. TaskID is
// deterministic: a hash of (strategy name, symbol, venue pair).
type TaskContext struct {
	SchemaVersion      int
	TaskID             string
	Symbol             Symbol
	BuyVenue           ExchangeId
	SellVenue          ExchangeId
	Params             StrategyParams
	StateName          TaskState
	ActiveOrders       map[ExchangeRole]map[string]Order
	PositionsState     PositionsState
	CurrentOpportunity *ArbitrageOpportunity
	PositionStartMs    uint64
	TotalVolumeUSDT    float64
	RealizedPnLUSDT    float64
	ConsecutiveErrors  int
	LastError          string
	UpdatedAt          time.Time
}

// NewTaskContext builds a fresh Idle context for a (symbol, buy, sell) triple.
func NewTaskContext(taskID string, symbol Symbol, buyVenue, sellVenue ExchangeId, params StrategyParams) *TaskContext {
	return &TaskContext{
		SchemaVersion:  CurrentSchemaVersion,
		TaskID:         taskID,
		Symbol:         symbol,
		BuyVenue:       buyVenue,
		SellVenue:      sellVenue,
		Params:         params,
		StateName:      TaskIdle,
		ActiveOrders:   map[ExchangeRole]map[string]Order{RoleSpot: {}, RoleFutures: {}},
		PositionsState: NewPositionsState(),
		UpdatedAt:      time.Now(),
	}
}

// Evolve returns a deep copy of the context for copy-on-write mutation: all
// mutations to a TaskContext go through Evolve() to produce a new immutable
// snapshot, which is then persisted.
func (c *TaskContext) Evolve() *TaskContext {
	clone := *c
	clone.ActiveOrders = make(map[ExchangeRole]map[string]Order, len(c.ActiveOrders))
	for role, orders := range c.ActiveOrders {
		m := make(map[string]Order, len(orders))
		for id, o := range orders {
			m[id] = o
		}
		clone.ActiveOrders[role] = m
	}
	clone.PositionsState.Positions = make(map[ExchangeRole]PositionEntry, len(c.PositionsState.Positions))
	for role, pos := range c.PositionsState.Positions {
		clone.PositionsState.Positions[role] = pos
	}
	if c.CurrentOpportunity != nil {
		opp := *c.CurrentOpportunity
		clone.CurrentOpportunity = &opp
	}
	clone.UpdatedAt = time.Now()
	return &clone
}
