package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/execengine/types"
)

func TestTradeRoundTrip(t *testing.T) {
	db, err := New(":memory:")
	require.NoError(t, err)

	trade := &ExecutionTrade{
		ID: "trade-1", SignalID: "sig-1", Instrument: "XAUUSD", Side: types.SideBuy,
		Status: types.TradeStatusNew, EntryPrice: decimal.NewFromFloat(2000),
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, db.CreateTrade(context.Background(), trade))

	loaded, err := db.GetTrade(context.Background(), "trade-1")
	require.NoError(t, err)
	assert.Equal(t, types.TradeStatusNew, loaded.Status)

	bySignal, err := db.GetTradeBySignal(context.Background(), "sig-1")
	require.NoError(t, err)
	assert.Equal(t, "trade-1", bySignal.ID)

	loaded.Status = types.TradeStatusValidated
	require.NoError(t, db.UpdateTrade(context.Background(), loaded))

	open, err := db.ListOpenTrades(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, types.TradeStatusValidated, open[0].Status)
}

func TestExecutionDedupQuery(t *testing.T) {
	db, err := New(":memory:")
	require.NoError(t, err)

	exec := &Execution{
		ID: "exec-1", BrokerExecutionID: "be-1", OrderID: "ord-1", TradeID: "trade-1",
		FilledPrice: decimal.NewFromFloat(2000), FilledSize: decimal.NewFromFloat(1),
		ExecutedAt: time.Now().UTC(),
	}
	require.NoError(t, db.CreateExecution(context.Background(), exec))

	found, err := db.GetExecutionByBrokerID(context.Background(), "be-1")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", found.ID)

	total, err := db.SumFilledSize(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromFloat(1)))
}

func TestPositionRoundTripAndOpenList(t *testing.T) {
	db, err := New(":memory:")
	require.NoError(t, err)

	pos := &Position{ID: "pos-1", TradeID: "trade-1", Side: types.SideBuy, Size: decimal.NewFromFloat(1), OpenedAt: time.Now().UTC()}
	require.NoError(t, db.CreatePosition(context.Background(), pos))

	open, err := db.ListOpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)

	now := time.Now().UTC()
	pos.ClosedAt = &now
	require.NoError(t, db.UpdatePosition(context.Background(), pos))

	open, err = db.ListOpenPositions(context.Background())
	require.NoError(t, err)
	assert.Len(t, open, 0)
}

func TestEventLogOrdering(t *testing.T) {
	db, err := New(":memory:")
	require.NoError(t, err)

	require.NoError(t, db.AppendEvent(context.Background(), &TradeEvent{
		ID: "ev-1", TradeID: "trade-1", EventType: types.EventCreated, CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, db.AppendEvent(context.Background(), &TradeEvent{
		ID: "ev-2", TradeID: "trade-1", EventType: types.EventValidated, CreatedAt: time.Now().UTC().Add(time.Second),
	}))

	events, err := db.ListEventsForTrade(context.Background(), "trade-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, types.EventCreated, events[0].EventType)
	assert.Equal(t, types.EventValidated, events[1].EventType)
}

func TestRiskStateSaveLoad(t *testing.T) {
	db, err := New(":memory:")
	require.NoError(t, err)

	_, err = db.LoadRiskState(context.Background(), "2026-08-01")
	require.NoError(t, err)

	require.NoError(t, db.SaveRiskState(context.Background(), &RiskState{
		Day: "2026-08-01", TradesToday: 3, RealizedPnL: decimal.NewFromFloat(42.5),
	}))

	loaded, err := db.LoadRiskState(context.Background(), "2026-08-01")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 3, loaded.TradesToday)
}
