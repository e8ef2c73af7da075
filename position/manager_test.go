package position

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/execengine/storage"
	"github.com/web3guy0/execengine/types"
)

func newTestStore(t *testing.T) *storage.Database {
	t.Helper()
	db, err := storage.New(":memory:")
	require.NoError(t, err)
	return db
}

func TestOpenPosition(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store)

	trade := storage.ExecutionTrade{
		ID: "trade-1", Side: types.SideBuy, Leverage: 100,
		StopLoss: decimal.NewFromFloat(1990), TakeProfit: decimal.NewFromFloat(2020),
	}
	pos, err := m.OpenPosition(context.Background(), trade, decimal.NewFromFloat(2000), decimal.NewFromFloat(1))
	require.NoError(t, err)
	assert.True(t, pos.AvgEntryPrice.Equal(decimal.NewFromFloat(2000)))
	assert.True(t, pos.Size.Equal(decimal.NewFromFloat(1)))
	assert.True(t, pos.MarginUsed.Equal(decimal.NewFromFloat(20))) // 1*2000/100
}

func TestUpdateOnPartial_WeightedAverage(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store)

	pos := &storage.Position{
		ID: "pos-1", TradeID: "trade-1", Size: decimal.NewFromFloat(1),
		AvgEntryPrice: decimal.NewFromFloat(2000), Leverage: 100,
	}
	require.NoError(t, store.CreatePosition(context.Background(), pos))

	// Second fill of 1 unit at 2010: weighted avg = (2000*1 + 2010*1)/2 = 2005.
	err := m.UpdateOnPartial(context.Background(), pos, decimal.NewFromFloat(2010), decimal.NewFromFloat(1))
	require.NoError(t, err)
	assert.True(t, pos.Size.Equal(decimal.NewFromFloat(2)))
	assert.True(t, pos.AvgEntryPrice.Equal(decimal.NewFromFloat(2005)))
}

func TestUnrealizedPnL_Buy(t *testing.T) {
	pos := storage.Position{Side: types.SideBuy, Size: decimal.NewFromFloat(2), AvgEntryPrice: decimal.NewFromFloat(2000)}
	pnl := UnrealizedPnL(pos, decimal.NewFromFloat(2010))
	assert.True(t, pnl.Equal(decimal.NewFromFloat(20)))
}

func TestUnrealizedPnL_Sell(t *testing.T) {
	pos := storage.Position{Side: types.SideSell, Size: decimal.NewFromFloat(2), AvgEntryPrice: decimal.NewFromFloat(2000)}
	pnl := UnrealizedPnL(pos, decimal.NewFromFloat(2010))
	assert.True(t, pnl.Equal(decimal.NewFromFloat(-20)))
}

func TestClosePosition_SetsClosedAt(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store)

	pos := &storage.Position{ID: "pos-1", TradeID: "trade-1"}
	require.NoError(t, store.CreatePosition(context.Background(), pos))
	require.NoError(t, m.ClosePosition(context.Background(), pos))
	assert.NotNil(t, pos.ClosedAt)
}
