package execorder

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/execengine/broker"
	"github.com/web3guy0/execengine/config"
	"github.com/web3guy0/execengine/retry"
	"github.com/web3guy0/execengine/storage"
	"github.com/web3guy0/execengine/types"
)

// testRetryDeps builds retry dependencies that never retry and never
// trip, so these tests see each stubBroker call exactly once.
func testRetryDeps() (*retry.Manager, config.RetryConfig) {
	cfg := config.RetryConfig{
		RateLimitMaxAttempts: 1, TimeoutMaxAttempts: 1,
		TransientMaxAttempts: 1, SystemMaxAttempts: 1,
	}
	breakers := retry.NewManager(config.CircuitBreakerConfig{
		FailureThreshold: 1000, RecoveryTimeout: time.Minute, HalfOpenMaxRequests: 10,
	})
	return breakers, cfg
}

type stubBroker struct {
	broker.Broker
	placeResp broker.OrderResponse
	placeErr  error
}

func (s stubBroker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResponse, error) {
	return s.placeResp, s.placeErr
}

func (s stubBroker) CancelOrder(ctx context.Context, brokerOrderID string) error { return nil }

func newTestStore(t *testing.T) *storage.Database {
	t.Helper()
	db, err := storage.New(":memory:")
	require.NoError(t, err)
	return db
}

func TestPlaceOrderFor_PersistsOrder(t *testing.T) {
	store := newTestStore(t)
	bro := stubBroker{placeResp: broker.OrderResponse{BrokerOrderID: "bo-1", Status: types.OrderStatusPending}}
	breakers, retryCfg := testRetryDeps()
	m := NewManager(store, bro, nil, breakers, retryCfg)

	order, err := m.PlaceOrderFor(context.Background(), "trade-1", "ENTRY", broker.OrderRequest{
		Symbol: "XAUUSD", Side: types.SideBuy, Size: decimal.NewFromFloat(1),
	})
	require.NoError(t, err)
	assert.Equal(t, "bo-1", order.BrokerOrderID)
	assert.Equal(t, types.OrderStatusPending, order.Status)

	persisted, err := store.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, "trade-1", persisted.TradeID)
}

func TestPlaceOrderFor_RejectionStillPersists(t *testing.T) {
	store := newTestStore(t)
	bro := stubBroker{
		placeResp: broker.OrderResponse{BrokerOrderID: "", Status: types.OrderStatusRejected},
		placeErr:  broker.ErrOrderRejected,
	}
	breakers, retryCfg := testRetryDeps()
	m := NewManager(store, bro, nil, breakers, retryCfg)

	order, err := m.PlaceOrderFor(context.Background(), "trade-1", "ENTRY", broker.OrderRequest{
		Symbol: "XAUUSD", Side: types.SideBuy, Size: decimal.NewFromFloat(1),
	})
	require.Error(t, err)
	require.NotNil(t, order)
	assert.Equal(t, types.OrderStatusRejected, order.Status)
}

func TestHandleExecution_IdempotentOnExecutionID(t *testing.T) {
	store := newTestStore(t)
	var fillCount int
	breakers, retryCfg := testRetryDeps()
	m := NewManager(store, stubBroker{}, func(ctx context.Context, order storage.ExecutionOrder, execution storage.Execution, orderNowFilled bool) {
		fillCount++
	}, breakers, retryCfg)

	order := &storage.ExecutionOrder{
		ID: "ord-1", TradeID: "trade-1", BrokerOrderID: "bo-1",
		Side: types.SideBuy, Kind: "ENTRY", RequestedSize: decimal.NewFromFloat(1),
		Status: types.OrderStatusPending,
	}
	require.NoError(t, store.CreateOrder(context.Background(), order))

	report := broker.ExecutionReport{
		ExecutionID: "exec-1", BrokerOrderID: "bo-1",
		FilledPrice: decimal.NewFromFloat(2000), FilledSize: decimal.NewFromFloat(1),
	}
	require.NoError(t, m.HandleExecution(context.Background(), report))
	require.NoError(t, m.HandleExecution(context.Background(), report)) // re-delivery

	assert.Equal(t, 1, fillCount)

	total, err := store.SumFilledSize(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromFloat(1)))
}

func TestHandleExecution_PartialThenFull(t *testing.T) {
	store := newTestStore(t)
	var lastFilled bool
	breakers, retryCfg := testRetryDeps()
	m := NewManager(store, stubBroker{}, func(ctx context.Context, order storage.ExecutionOrder, execution storage.Execution, orderNowFilled bool) {
		lastFilled = orderNowFilled
	}, breakers, retryCfg)

	order := &storage.ExecutionOrder{
		ID: "ord-1", TradeID: "trade-1", BrokerOrderID: "bo-1",
		Side: types.SideBuy, Kind: "ENTRY", RequestedSize: decimal.NewFromFloat(1),
		Status: types.OrderStatusPending,
	}
	require.NoError(t, store.CreateOrder(context.Background(), order))

	require.NoError(t, m.HandleExecution(context.Background(), broker.ExecutionReport{
		ExecutionID: "exec-1", BrokerOrderID: "bo-1", FilledSize: decimal.NewFromFloat(0.4),
	}))
	assert.False(t, lastFilled)

	require.NoError(t, m.HandleExecution(context.Background(), broker.ExecutionReport{
		ExecutionID: "exec-2", BrokerOrderID: "bo-1", FilledSize: decimal.NewFromFloat(0.6),
	}))
	assert.True(t, lastFilled)
}

func TestCancelOrder_TerminalIsNoop(t *testing.T) {
	store := newTestStore(t)
	breakers, retryCfg := testRetryDeps()
	m := NewManager(store, stubBroker{}, nil, breakers, retryCfg)

	order := &storage.ExecutionOrder{
		ID: "ord-1", TradeID: "trade-1", BrokerOrderID: "bo-1",
		Status: types.OrderStatusFilled,
	}
	require.NoError(t, store.CreateOrder(context.Background(), order))
	require.NoError(t, m.CancelOrder(context.Background(), "ord-1"))

	persisted, err := store.GetOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, persisted.Status)
}
