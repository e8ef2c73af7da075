package closure

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/execengine/broker"
	"github.com/web3guy0/execengine/storage"
	"github.com/web3guy0/execengine/types"
)

type noopBroker struct{ broker.Broker }

func (noopBroker) ClosePosition(ctx context.Context, brokerPositionID string) error { return nil }
func (noopBroker) GetOpenPositions(ctx context.Context) ([]broker.OpenPosition, error) { return nil, nil }

func seedOpenTrade(t *testing.T, store *storage.Database) (tradeID string) {
	t.Helper()
	tradeID = uuid.NewString()
	require.NoError(t, store.CreateTrade(context.Background(), &storage.ExecutionTrade{
		ID: tradeID, SignalID: uuid.NewString(), Instrument: "XAUUSD", Side: types.SideBuy,
		Status: types.TradeStatusOpen, EntryPrice: decimal.NewFromFloat(2000),
		StopLoss: decimal.NewFromFloat(1990), TakeProfit: decimal.NewFromFloat(2020),
		PositionSize: decimal.NewFromFloat(0.10), Leverage: 100,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.CreatePosition(context.Background(), &storage.Position{
		ID: uuid.NewString(), TradeID: tradeID, Side: types.SideBuy,
		Size: decimal.NewFromFloat(0.10), AvgEntryPrice: decimal.NewFromFloat(2000),
		StopLoss: decimal.NewFromFloat(1990), TakeProfit: decimal.NewFromFloat(2020),
		Leverage: 100, OpenedAt: time.Now().UTC(),
	}))
	return tradeID
}

func TestService_Close_TPHit(t *testing.T) {
	store, err := storage.New(":memory:")
	require.NoError(t, err)
	tradeID := seedOpenTrade(t, store)

	svc := NewService(store, noopBroker{})
	err = svc.Close(context.Background(), tradeID, types.CloseReasonTP, decimal.NewFromFloat(2020), "")
	require.NoError(t, err)

	trade, err := store.GetTrade(context.Background(), tradeID)
	require.NoError(t, err)
	assert.Equal(t, types.TradeStatusClosed, trade.Status)
	assert.Equal(t, types.CloseReasonTP, trade.CloseReason)
	assert.NotNil(t, trade.ClosedAt)

	pos, err := store.GetPositionByTrade(context.Background(), tradeID)
	require.NoError(t, err)
	assert.NotNil(t, pos.ClosedAt)

	events, err := store.ListEventsForTrade(context.Background(), tradeID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventClosed, events[0].EventType)
}
