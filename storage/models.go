// Package storage holds the gorm-backed persistence layer: the table
// models and a Database handle that opens either a sqlite or postgres
// connection depending on the DSN prefix.
package storage

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/web3guy0/execengine/types"
)

// StrategyDecision is the parent table referenced by Signal. The
// strategy decision engine that populates it is out of scope here —
// this repo only needs the table to exist for referential integrity.
type StrategyDecision struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time
}

// Signal is the externally-owned, read-only input record.
type Signal struct {
	ID                 string `gorm:"primaryKey;type:varchar(36)"`
	StrategyDecisionID string `gorm:"type:varchar(36);index"`
	Direction          types.Side `gorm:"type:varchar(8)"`
	EntryPrice         decimal.Decimal `gorm:"type:decimal(20,8)"`
	StopLoss           decimal.Decimal `gorm:"type:decimal(20,8)"`
	TakeProfit         decimal.Decimal `gorm:"type:decimal(20,8)"`
	RiskReward         decimal.Decimal `gorm:"type:decimal(20,8)"`
	RiskFraction       decimal.Decimal `gorm:"type:decimal(10,6)"`
	Leverage           int
	PositionSize       decimal.Decimal `gorm:"type:decimal(20,8)"`
	MarginRequired     decimal.Decimal `gorm:"type:decimal(20,8)"`
	Instrument         string          `gorm:"type:varchar(32)"`
	Timeframe          string          `gorm:"type:varchar(16)"`
	CandleTimestamp    time.Time
	CreatedAt          time.Time
}

// ExecutionTrade is the orchestrator's record of a signal's journey
// through the Trade Lifecycle FSM.
type ExecutionTrade struct {
	ID            string `gorm:"primaryKey;type:varchar(36)"`
	SignalID      string `gorm:"type:varchar(36);uniqueIndex;index"`
	Signal        *Signal `gorm:"foreignKey:SignalID;constraint:OnDelete:CASCADE"`
	Instrument    string      `gorm:"type:varchar(32)"`
	Timeframe     string      `gorm:"type:varchar(16)"`
	Side          types.Side  `gorm:"type:varchar(8)"`
	Status        types.TradeStatus `gorm:"type:varchar(24);index"`
	EntryPrice    decimal.Decimal `gorm:"type:decimal(20,8)"`
	StopLoss      decimal.Decimal `gorm:"type:decimal(20,8)"`
	TakeProfit    decimal.Decimal `gorm:"type:decimal(20,8)"`
	PositionSize  decimal.Decimal `gorm:"type:decimal(20,8)"`
	RiskPercent   decimal.Decimal `gorm:"type:decimal(10,6)"`
	Leverage      int
	RiskReward    decimal.Decimal `gorm:"type:decimal(20,8)"`
	ExecutionMode types.ExecutionMode `gorm:"type:varchar(8)"`
	OpenedAt      *time.Time
	ClosedAt      *time.Time
	CloseReason   types.CloseReason `gorm:"type:varchar(8)"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ExecutionOrder is a venue-directed request spawned by a trade: an
// entry order, or one of the two SL/TP bracket orders.
type ExecutionOrder struct {
	ID              string `gorm:"primaryKey;type:varchar(36)"`
	TradeID         string `gorm:"type:varchar(36);index"`
	Trade           *ExecutionTrade `gorm:"foreignKey:TradeID;constraint:OnDelete:CASCADE"`
	BrokerOrderID   string `gorm:"type:varchar(64);index"`
	Side            types.Side      `gorm:"type:varchar(8)"`
	Kind            string          `gorm:"type:varchar(16)"` // ENTRY, SL, TP
	RequestedPrice  decimal.Decimal `gorm:"type:decimal(20,8)"`
	RequestedSize   decimal.Decimal `gorm:"type:decimal(20,8)"`
	Status          types.OrderStatus `gorm:"type:varchar(24)"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Execution is a fill or partial fill against an order. BrokerExecutionID
// is the adapter's idempotency key — unique so a re-delivered
// ExecutionReport can never create a second row.
type Execution struct {
	ID                string `gorm:"primaryKey;type:varchar(36)"`
	BrokerExecutionID string `gorm:"type:varchar(64);uniqueIndex"`
	OrderID           string `gorm:"type:varchar(36);index"`
	Order             *ExecutionOrder `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	TradeID           string `gorm:"type:varchar(36);index"`
	Trade             *ExecutionTrade `gorm:"foreignKey:TradeID;constraint:OnDelete:CASCADE"`
	FilledPrice       decimal.Decimal `gorm:"type:decimal(20,8)"`
	FilledSize        decimal.Decimal `gorm:"type:decimal(20,8)"`
	Slippage          decimal.Decimal `gorm:"type:decimal(20,8)"`
	ExecutedAt        time.Time
}

// Position is the resulting exposure once a trade's entry order has
// been filled. TradeID is unique: at most one position per trade.
type Position struct {
	ID            string `gorm:"primaryKey;type:varchar(36)"`
	TradeID       string `gorm:"type:varchar(36);uniqueIndex"`
	Trade         *ExecutionTrade `gorm:"foreignKey:TradeID;constraint:OnDelete:CASCADE"`
	Side          types.Side      `gorm:"type:varchar(8)"`
	Size          decimal.Decimal `gorm:"type:decimal(20,8)"`
	AvgEntryPrice decimal.Decimal `gorm:"type:decimal(20,8)"`
	StopLoss      decimal.Decimal `gorm:"type:decimal(20,8)"`
	TakeProfit    decimal.Decimal `gorm:"type:decimal(20,8)"`
	MarginUsed    decimal.Decimal `gorm:"type:decimal(20,8)"`
	Leverage      int
	OpenedAt      time.Time
	ClosedAt      *time.Time
}

// TradeEvent is an append-only audit entry. Never updated, never deleted
// except via the cascading delete of its parent trade.
type TradeEvent struct {
	ID             string `gorm:"primaryKey;type:varchar(36)"`
	TradeID        string `gorm:"type:varchar(36);index"`
	Trade          *ExecutionTrade `gorm:"foreignKey:TradeID;constraint:OnDelete:CASCADE"`
	EventType      types.EventType   `gorm:"type:varchar(24)"`
	PreviousStatus types.TradeStatus `gorm:"type:varchar(24)"`
	NewStatus      types.TradeStatus `gorm:"type:varchar(24)"`
	Metadata       string            `gorm:"type:text"`
	CreatedAt      time.Time
}

// RiskState is a single-row-per-day table used to persist the risk
// validator's daily counters across process restarts.
type RiskState struct {
	Day           string `gorm:"primaryKey;type:varchar(10)"` // YYYY-MM-DD
	TradesToday   int
	RealizedPnL   decimal.Decimal `gorm:"type:decimal(20,8)"`
	CircuitOpen   bool
	UpdatedAt     time.Time
}

// AllModels lists every model for AutoMigrate, in dependency order.
func AllModels() []interface{} {
	return []interface{}{
		&StrategyDecision{},
		&Signal{},
		&ExecutionTrade{},
		&ExecutionOrder{},
		&Execution{},
		&Position{},
		&TradeEvent{},
		&RiskState{},
	}
}
