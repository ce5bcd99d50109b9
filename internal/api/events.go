package api

import (
	"time"

	"github.com/dasein108/cex-arbitrage-sub007/internal/strategy"
)

// DashboardEvent is the wrapper for all events sent to the dashboard.
type DashboardEvent struct {
	Type      string      `json:"type"`   // "snapshot", or a task event type such as "task.transition" or "task.kill"
	Timestamp time.Time   `json:"timestamp"`
	TaskID    string      `json:"task_id"` // empty for global events
	Data      interface{} `json:"data"`
}

// OrderEvent represents order placement/cancellation on one leg of a task.
type OrderEvent struct {
	TaskID string  `json:"task_id"`
	Venue  string  `json:"venue"`
	Status string  `json:"status"` // "PLACED", "CANCELLED", "FILLED", "REJECTED"
	Side   string  `json:"side"`
	Price  float64 `json:"price"`
	Size   float64 `json:"size"`
}

// PositionEvent is emitted when a task's position changes.
type PositionEvent struct {
	TaskID        string  `json:"task_id"`
	Symbol        string  `json:"symbol"`
	Position      PositionSnapshot `json:"position"`
	ExposureUSD   float64 `json:"exposure_usd"`
	MidPrice      float64 `json:"mid_price"`
}

// KillEvent is emitted when the risk manager's kill switch activates.
type KillEvent struct {
	Reason string    `json:"reason"`
	Until  time.Time `json:"until"`
	TaskID string    `json:"task_id,omitempty"` // empty = global kill
}

// OpportunityEvent is emitted when the detector surfaces a new spread.
type OpportunityEvent struct {
	Symbol       string  `json:"symbol"`
	BuyVenue     string  `json:"buy_venue"`
	SellVenue    string  `json:"sell_venue"`
	BuyPrice     float64 `json:"buy_price"`
	SellPrice    float64 `json:"sell_price"`
	SpreadBps    float64 `json:"spread_bps"`
	MaxQuantity  float64 `json:"max_quantity"`
}

// NewOrderEvent creates an order event.
func NewOrderEvent(taskID, venue, status, side string, price, size float64) OrderEvent {
	return OrderEvent{
		TaskID: taskID,
		Venue:  venue,
		Status: status,
		Side:   side,
		Price:  price,
		Size:   size,
	}
}

// NewPositionEvent creates a position event.
func NewPositionEvent(taskID, symbol string, pos PositionSnapshot, exposureUSD, midPrice float64) PositionEvent {
	return PositionEvent{
		TaskID:      taskID,
		Symbol:      symbol,
		Position:    pos,
		ExposureUSD: exposureUSD,
		MidPrice:    midPrice,
	}
}

// NewKillEvent creates a kill switch event.
func NewKillEvent(reason string, until time.Time, taskID string) KillEvent {
	return KillEvent{
		Reason: reason,
		Until:  until,
		TaskID: taskID,
	}
}

// FromTaskEvent adapts a strategy.Event (emitted by the task runtime) into a
// DashboardEvent ready for broadcast over the WebSocket hub.
func FromTaskEvent(evt strategy.Event) DashboardEvent {
	return DashboardEvent{
		Type:      evt.Type,
		Timestamp: evt.Timestamp,
		TaskID:    evt.TaskID,
		Data:      evt.Data,
	}
}
