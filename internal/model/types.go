package model

import (
	"time"

	"github.com/google/uuid"
)

// Event types published on the feed.
const (
	EventOrderUpdate    = "order_update"
	EventStrategyUpdate = "strategy_update"
	EventTrade          = "trade"
	EventPositionUpdate = "position_update"
)

// EventTypes lists every feed event type with a payload in this package.
var EventTypes = []string{
	EventOrderUpdate,
	EventStrategyUpdate,
	EventTrade,
	EventPositionUpdate,
}

// Side is the direction of an order or trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderOpen            OrderStatus = "open"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderRejected        OrderStatus = "rejected"
)

// Terminal reports whether no further updates are expected.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected:
		return true
	}
	return false
}

// StrategyStatus is the run state of a strategy.
type StrategyStatus string

const (
	StrategyRunning StrategyStatus = "running"
	StrategyPaused  StrategyStatus = "paused"
	StrategyStopped StrategyStatus = "stopped"
)

// -----------------------------------------------------------------------------
// REST Resources
// -----------------------------------------------------------------------------

// Order is a single order placed by a strategy or by hand.
type Order struct {
	ID             uuid.UUID   `json:"id"`
	StrategyID     *uuid.UUID  `json:"strategy_id,omitempty"`
	Symbol         string      `json:"symbol"`
	Side           Side        `json:"side"`
	Quantity       int64       `json:"quantity"`
	FilledQuantity int64       `json:"filled_quantity"`
	Price          int64       `json:"price"` // limit price, cents; 0 = market
	Status         OrderStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Remaining is the unfilled quantity.
func (o Order) Remaining() int64 {
	if r := o.Quantity - o.FilledQuantity; r > 0 {
		return r
	}
	return 0
}

// Strategy is an automated trading strategy.
type Strategy struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	Status    StrategyStatus `json:"status"`
	Symbols   []string       `json:"symbols"`
	PnL       int64          `json:"pnl"` // realized, cents
	UpdatedAt time.Time      `json:"updated_at"`
}

// ServiceStatus is the backend health summary.
type ServiceStatus struct {
	Healthy    bool      `json:"healthy"`
	Trading    bool      `json:"trading"`
	Version    string    `json:"version,omitempty"`
	ServerTime time.Time `json:"server_time"`
}

// -----------------------------------------------------------------------------
// Feed Payloads
// -----------------------------------------------------------------------------

// Trade is an execution against one of our orders.
type Trade struct {
	TradeID    uuid.UUID `json:"trade_id"`
	OrderID    uuid.UUID `json:"order_id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Price      int64     `json:"price"`
	Size       int64     `json:"size"`
	ExecutedAt time.Time `json:"executed_at"`
}

// Position is the net holding in one symbol.
type Position struct {
	Symbol        string    `json:"symbol"`
	Quantity      int64     `json:"quantity"` // negative = short
	AvgPrice      int64     `json:"avg_price"`
	UnrealizedPnL int64     `json:"unrealized_pnl"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// JournalEntry is one feed event as stored by the journal.
type JournalEntry struct {
	ID         uuid.UUID // row id
	InstanceID string    // process that received the event
	SessionID  uuid.UUID // transport session the event arrived on
	EventType  string
	Payload    []byte // raw data field, JSON
	ReceivedAt int64  // µs since epoch
}
