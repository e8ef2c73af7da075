// Package broker defines the polymorphic broker-adapter capability
// set: a venue-agnostic contract that the paper simulator, the
// generic REST adapter and the reserved MT5 slot all implement.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/execengine/types"
)

// Sentinel errors, grounded on the shape of opense.ai's internal/broker
// error set: a broker implementation wraps one of these rather than
// inventing ad hoc error strings.
var (
	ErrNotConnected       = errors.New("broker: not connected")
	ErrOrderNotFound      = errors.New("broker: order not found")
	ErrOrderTerminal      = errors.New("broker: order already in a terminal state")
	ErrOrderRejected      = errors.New("broker: order rejected")
	ErrPositionNotFound   = errors.New("broker: position not found")
	ErrNotSupported       = errors.New("broker: operation not supported by this adapter")
	ErrConnectionFailed   = errors.New("broker: connection failed")
)

// OrderRequest is the wire-level request to place an order.
type OrderRequest struct {
	Symbol string
	Side   types.Side
	Size   decimal.Decimal // 2dp
	Type   types.OrderType
	Price  decimal.Decimal // optional, 5dp, required for LIMIT
	SL     decimal.Decimal // optional, 5dp
	TP     decimal.Decimal // optional, 5dp
}

// OrderResponse is the synchronous reply to place_order.
type OrderResponse struct {
	BrokerOrderID string
	Status        types.OrderStatus
	FilledPrice   decimal.Decimal
	FilledSize    decimal.Decimal
	Timestamp     time.Time
}

// ExecutionReport is an asynchronous fill notification dispatched to a
// subscribed sink. ExecutionID is the adapter-assigned idempotency key:
// re-delivering a report with the same ExecutionID must not double-fill.
type ExecutionReport struct {
	ExecutionID   string
	BrokerOrderID string
	TradeID       string
	FilledPrice   decimal.Decimal
	FilledSize    decimal.Decimal
	Slippage      decimal.Decimal
	Timestamp     time.Time
}

// AccountSnapshot is the result of validate_account, also used as a
// connectivity heartbeat.
type AccountSnapshot struct {
	AccountID   string
	Balance     decimal.Decimal
	Equity      decimal.Decimal
	Margin      decimal.Decimal
	FreeMargin  decimal.Decimal
	MarginLevel decimal.Decimal
}

// OpenPosition is a venue-reported open position, used for reconciliation.
type OpenPosition struct {
	BrokerPositionID string
	Symbol           string
	Side             types.Side
	Size             decimal.Decimal
	EntryPrice       decimal.Decimal
}

// Sink receives execution reports asynchronously; it is a typed
// channel in place of per-fill callback fields.
type Sink chan ExecutionReport

// Broker is the capability set every venue adapter implements.
type Broker interface {
	// Connect establishes a session. Idempotent: calling it while
	// already connected is a no-op returning nil.
	Connect(ctx context.Context) error

	// Disconnect releases session resources on all paths.
	Disconnect(ctx context.Context) error

	// ValidateAccount fetches account state; also used as a heartbeat.
	ValidateAccount(ctx context.Context) (AccountSnapshot, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error)

	CancelOrder(ctx context.Context, brokerOrderID string) error

	GetOrderStatus(ctx context.Context, brokerOrderID string) (types.OrderStatus, error)

	GetOpenPositions(ctx context.Context) ([]OpenPosition, error)

	ClosePosition(ctx context.Context, brokerPositionID string) error

	// SubscribeExecutions registers sink to receive execution reports
	// for every order this adapter places, until ctx is cancelled.
	SubscribeExecutions(ctx context.Context, sink Sink)
}
