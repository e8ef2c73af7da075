// Package execorder implements the Order Manager: creates order
// records, dispatches to the broker adapter, ingests fills (including
// partials) idempotently, and preserves per-trade ordering by routing
// execution reports onto one reducer goroutine per trade, fed from a
// single subscription to the adapter's execution sink. This gives
// "parallel across trades, serialized per trade" semantics with a
// typed channel in place of per-fill callbacks.
package execorder

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/web3guy0/execengine/broker"
	"github.com/web3guy0/execengine/config"
	"github.com/web3guy0/execengine/errs"
	"github.com/web3guy0/execengine/retry"
	"github.com/web3guy0/execengine/storage"
	"github.com/web3guy0/execengine/types"
)

const reducerBufferSize = 64

// FillHandler is invoked after an execution report has been durably
// applied to an order, on that order's trade's reducer goroutine. The
// caller (the orchestrator) uses it to drive the position manager and
// the trade's FSM transition.
type FillHandler func(ctx context.Context, order storage.ExecutionOrder, execution storage.Execution, orderNowFilled bool)

// Manager is the Order Manager.
type Manager struct {
	store    *storage.Database
	bro      broker.Broker
	handler  FillHandler
	retryCfg config.RetryConfig
	breakers *retry.Manager

	mu       sync.Mutex
	reducers map[string]chan broker.ExecutionReport
}

// NewManager wires the Order Manager to bro through breakers: every
// adapter call it makes (place_order, cancel_order) is classified and
// retried per retryCfg, with its own circuit breaker per endpoint.
func NewManager(store *storage.Database, bro broker.Broker, handler FillHandler, breakers *retry.Manager, retryCfg config.RetryConfig) *Manager {
	return &Manager{
		store:    store,
		bro:      bro,
		handler:  handler,
		retryCfg: retryCfg,
		breakers: breakers,
		reducers: make(map[string]chan broker.ExecutionReport),
	}
}

func (m *Manager) runner(endpoint string) *retry.Runner {
	return retry.NewRunner(m.retryCfg, m.breakers.Get(endpoint))
}

// Start subscribes a single intake sink to the broker adapter and
// begins routing reports to per-trade reducers. Call once per process.
func (m *Manager) Start(ctx context.Context) {
	intake := make(broker.Sink, 256)
	m.bro.SubscribeExecutions(ctx, intake)
	go m.route(ctx, intake)
}

func (m *Manager) route(ctx context.Context, intake broker.Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case report, ok := <-intake:
			if !ok {
				return
			}
			order, err := m.store.GetOrderByBrokerID(ctx, report.BrokerOrderID)
			if err != nil {
				// An execution report for an unknown order id is logged
				// and dropped, never creates phantom state.
				log.Warn().Str("broker_order_id", report.BrokerOrderID).
					Msg("order manager: execution report for unknown order, dropping")
				continue
			}
			ch := m.reducerFor(ctx, order.TradeID)
			select {
			case ch <- report:
			default:
				log.Warn().Str("trade_id", order.TradeID).
					Msg("order manager: reducer backlog full, dropping report")
			}
		}
	}
}

// reducerFor returns (creating if necessary) the buffered channel and
// draining goroutine that serializes execution reports for one trade.
func (m *Manager) reducerFor(ctx context.Context, tradeID string) chan broker.ExecutionReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.reducers[tradeID]
	if ok {
		return ch
	}
	ch = make(chan broker.ExecutionReport, reducerBufferSize)
	m.reducers[tradeID] = ch
	go m.drain(ctx, tradeID, ch)
	return ch
}

func (m *Manager) drain(ctx context.Context, tradeID string, ch chan broker.ExecutionReport) {
	for {
		select {
		case <-ctx.Done():
			return
		case report := <-ch:
			if err := m.HandleExecution(ctx, report); err != nil {
				log.Error().Err(err).Str("trade_id", tradeID).Msg("order manager: handle_execution failed")
			}
		}
	}
}

// PlaceOrderFor dispatches req to the adapter and persists the
// resulting ExecutionOrder, kind distinguishing ENTRY/SL/TP orders
// spawned for trade. On adapter rejection the order is still persisted
// (status REJECTED) and the error is returned so the caller may keep
// the trade in VALIDATED.
func (m *Manager) PlaceOrderFor(ctx context.Context, tradeID string, kind string, req broker.OrderRequest) (*storage.ExecutionOrder, error) {
	result, placeErr := m.runner("broker.place_order").Do(ctx, "broker.place_order", func(ctx context.Context) (interface{}, error) {
		return m.bro.PlaceOrder(ctx, req)
	}, nil)
	var resp broker.OrderResponse
	if result != nil {
		resp = result.(broker.OrderResponse)
	}

	order := &storage.ExecutionOrder{
		ID:             uuid.NewString(),
		TradeID:        tradeID,
		BrokerOrderID:  resp.BrokerOrderID,
		Side:           req.Side,
		Kind:           kind,
		RequestedPrice: req.Price,
		RequestedSize:  req.Size,
		Status:         resp.Status,
	}
	if placeErr != nil {
		order.Status = types.OrderStatusRejected
	} else if order.Status == "" {
		order.Status = types.OrderStatusPending
	}

	if err := m.store.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("execorder: persist order: %w", err)
	}

	if placeErr != nil {
		return order, errs.Wrap(types.ErrorKindBroker, "broker rejected order", placeErr)
	}
	return order, nil
}

// CancelOrder cancels order with the adapter iff it is non-terminal,
// then persists the CANCELLED status.
func (m *Manager) CancelOrder(ctx context.Context, orderID string) error {
	order, err := m.store.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("execorder: cancel_order: %w", err)
	}
	if order.Status.Terminal() {
		return nil // cancelling an already-terminal order is a no-op
	}
	if order.BrokerOrderID != "" {
		if _, err := m.runner("broker.cancel_order").Do(ctx, "broker.cancel_order", func(ctx context.Context) (interface{}, error) {
			return nil, m.bro.CancelOrder(ctx, order.BrokerOrderID)
		}, nil); err != nil {
			return fmt.Errorf("execorder: adapter cancel: %w", err)
		}
	}
	order.Status = types.OrderStatusCancelled
	return m.store.UpdateOrder(ctx, order)
}

// HandleExecution is idempotent on ExecutionID: a re-delivered report
// for an execution id already recorded is a no-op. On a new execution
// it appends the Execution row and marks the order
// FILLED once cumulative filled size reaches the requested size, else
// PARTIALLY_FILLED.
func (m *Manager) HandleExecution(ctx context.Context, report broker.ExecutionReport) error {
	if _, err := m.store.GetExecutionByBrokerID(ctx, report.ExecutionID); err == nil {
		return nil // already applied
	} else if err != gorm.ErrRecordNotFound {
		return fmt.Errorf("execorder: dedup check: %w", err)
	}

	order, err := m.store.GetOrderByBrokerID(ctx, report.BrokerOrderID)
	if err != nil {
		return fmt.Errorf("execorder: unknown order for execution: %w", err)
	}

	execution := storage.Execution{
		ID:                uuid.NewString(),
		BrokerExecutionID: report.ExecutionID,
		OrderID:           order.ID,
		TradeID:           order.TradeID,
		FilledPrice:       report.FilledPrice,
		FilledSize:        report.FilledSize,
		Slippage:          report.Slippage,
		ExecutedAt:        report.Timestamp,
	}
	if err := m.store.CreateExecution(ctx, &execution); err != nil {
		return fmt.Errorf("execorder: persist execution: %w", err)
	}

	totalFilled, err := m.store.SumFilledSize(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("execorder: sum filled size: %w", err)
	}

	orderNowFilled := totalFilled.GreaterThanOrEqual(order.RequestedSize)
	if orderNowFilled {
		order.Status = types.OrderStatusFilled
	} else {
		order.Status = types.OrderStatusPartiallyFilled
	}
	if err := m.store.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("execorder: update order status: %w", err)
	}

	if m.handler != nil {
		m.handler(ctx, *order, execution, orderNowFilled)
	}
	return nil
}
