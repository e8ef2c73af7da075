package paper

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/execengine/broker"
	"github.com/web3guy0/execengine/config"
	"github.com/web3guy0/execengine/types"
)

func deterministicCfg() config.PaperAdapterConfig {
	return config.PaperAdapterConfig{
		SlippageEnabled:     false,
		SpreadSimulation:    false,
		LatencyMS:           0,
		PartialFillsEnabled: false,
		RejectionRate:       0,
		FillRule:            "IMMEDIATE",
	}
}

func waitForReport(t *testing.T, sink broker.Sink) broker.ExecutionReport {
	t.Helper()
	select {
	case report := <-sink:
		return report
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for execution report")
		return broker.ExecutionReport{}
	}
}

func TestPlaceOrder_RejectionRollAlwaysRejects(t *testing.T) {
	cfg := deterministicCfg()
	cfg.RejectionRate = 1.0
	a := New(cfg, decimal.NewFromInt(10000), rand.New(rand.NewSource(1)))
	require.NoError(t, a.Connect(context.Background()))

	_, err := a.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol: "XAUUSD", Side: types.SideBuy, Size: decimal.NewFromFloat(1),
	})
	assert.ErrorIs(t, err, broker.ErrOrderRejected)
}

func TestPlaceOrder_ImmediateFillMatchesBasePrice(t *testing.T) {
	a := New(deterministicCfg(), decimal.NewFromInt(10000), rand.New(rand.NewSource(1)))
	a.SetBasePrice("XAUUSD", decimal.NewFromFloat(2000))
	require.NoError(t, a.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := make(broker.Sink, 4)
	a.SubscribeExecutions(ctx, sink)

	resp, err := a.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol: "XAUUSD", Side: types.SideBuy, Size: decimal.NewFromFloat(1),
	})
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusPending, resp.Status)

	report := waitForReport(t, sink)
	assert.Equal(t, resp.BrokerOrderID, report.BrokerOrderID)
	assert.True(t, report.FilledPrice.Equal(decimal.NewFromFloat(2000)))
	assert.True(t, report.FilledSize.Equal(decimal.NewFromFloat(1)))
}

func TestAdversePrice_BuyPaysAboveSellReceivesBelow(t *testing.T) {
	cfg := deterministicCfg()
	cfg.SpreadSimulation = true
	cfg.SpreadBps = 10
	a := New(cfg, decimal.NewFromInt(10000), rand.New(rand.NewSource(1)))

	base := decimal.NewFromFloat(2000)
	buyPrice := a.adversePrice(types.SideBuy, base)
	sellPrice := a.adversePrice(types.SideSell, base)

	assert.True(t, buyPrice.GreaterThan(base))
	assert.True(t, sellPrice.LessThan(base))
}

func TestAdvanceCandle_DispatchesQueuedFill(t *testing.T) {
	cfg := deterministicCfg()
	cfg.FillRule = "NEXT_CANDLE_OPEN"
	a := New(cfg, decimal.NewFromInt(10000), rand.New(rand.NewSource(1)))
	a.SetBasePrice("XAUUSD", decimal.NewFromFloat(2000))
	require.NoError(t, a.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := make(broker.Sink, 4)
	a.SubscribeExecutions(ctx, sink)

	_, err := a.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol: "XAUUSD", Side: types.SideBuy, Size: decimal.NewFromFloat(1),
	})
	require.NoError(t, err)

	// Give simulateFill time to queue the order under NEXT_CANDLE_OPEN
	// before the next candle's open price is supplied.
	time.Sleep(50 * time.Millisecond)
	a.AdvanceCandle(decimal.NewFromFloat(2015))

	report := waitForReport(t, sink)
	assert.True(t, report.FilledPrice.Equal(decimal.NewFromFloat(2015)))
}

func TestCancelOrder_UnknownIsNotFound(t *testing.T) {
	a := New(deterministicCfg(), decimal.NewFromInt(10000), rand.New(rand.NewSource(1)))
	err := a.CancelOrder(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, broker.ErrOrderNotFound)
}

func TestValidateAccount_RequiresConnection(t *testing.T) {
	a := New(deterministicCfg(), decimal.NewFromInt(10000), rand.New(rand.NewSource(1)))
	_, err := a.ValidateAccount(context.Background())
	assert.ErrorIs(t, err, broker.ErrNotConnected)
}
