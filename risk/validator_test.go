package risk

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/execengine/config"
	"github.com/web3guy0/execengine/types"
)

func testConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxRiskPerTrade: decimal.NewFromFloat(0.01),
		MaxLeverage:     200,
		MaxMarginUsage:  decimal.NewFromFloat(0.8),
		MinPositionSize: decimal.NewFromFloat(0.01),
	}
}

func TestValidate_HappyPath(t *testing.T) {
	v := NewValidator(testConfig(), nil)
	res := v.Validate(SignalInput{
		Direction:    types.SideBuy,
		EntryPrice:   decimal.NewFromFloat(2000.00),
		StopLoss:     decimal.NewFromFloat(1990.00),
		TakeProfit:   decimal.NewFromFloat(2020.00),
		RiskFraction: decimal.NewFromFloat(0.005),
		Leverage:     100,
		PositionSize: decimal.NewFromFloat(0.10),
	}, decimal.NewFromInt(10000))

	require.True(t, res.Approved)
	assert.Empty(t, res.Violations)
	assert.True(t, res.Margin.Round(2).Equal(decimal.NewFromFloat(2.00)))
}

func TestValidate_RiskExceeded_OffersAdjustedSize(t *testing.T) {
	v := NewValidator(testConfig(), nil)
	res := v.Validate(SignalInput{
		Direction:    types.SideBuy,
		EntryPrice:   decimal.NewFromFloat(2000.00),
		StopLoss:     decimal.NewFromFloat(1990.00),
		TakeProfit:   decimal.NewFromFloat(2020.00),
		RiskFraction: decimal.NewFromFloat(0.05),
		Leverage:     100,
		PositionSize: decimal.NewFromFloat(0.10),
	}, decimal.NewFromInt(10000))

	require.False(t, res.Approved)
	assert.Equal(t, []types.Violation{types.ViolationRiskExceeded}, res.Violations)
	assert.True(t, res.HasAdjustedSize)
	assert.True(t, res.AdjustedSize.GreaterThan(decimal.Zero))
}

func TestValidate_LeverageExceeded_NoAdjustment(t *testing.T) {
	v := NewValidator(testConfig(), nil)
	res := v.Validate(SignalInput{
		Direction:    types.SideBuy,
		EntryPrice:   decimal.NewFromFloat(2000.00),
		StopLoss:     decimal.NewFromFloat(1990.00),
		TakeProfit:   decimal.NewFromFloat(2020.00),
		RiskFraction: decimal.NewFromFloat(0.005),
		Leverage:     300,
		PositionSize: decimal.NewFromFloat(0.10),
	}, decimal.NewFromInt(10000))

	require.False(t, res.Approved)
	assert.Equal(t, []types.Violation{types.ViolationLeverageExceeded}, res.Violations)
	assert.False(t, res.HasAdjustedSize)
}

func TestValidate_RiskPercentBoundary(t *testing.T) {
	v := NewValidator(testConfig(), nil)

	exact := v.Validate(SignalInput{
		Direction:  types.SideBuy,
		EntryPrice: decimal.NewFromFloat(2000), StopLoss: decimal.NewFromFloat(1990),
		TakeProfit: decimal.NewFromFloat(2020), RiskFraction: decimal.NewFromFloat(0.01),
		Leverage: 100, PositionSize: decimal.NewFromFloat(0.10),
	}, decimal.NewFromInt(10000))
	assert.True(t, exact.Approved, "exactly 0.01 must be accepted")

	over := v.Validate(SignalInput{
		Direction:  types.SideBuy,
		EntryPrice: decimal.NewFromFloat(2000), StopLoss: decimal.NewFromFloat(1990),
		TakeProfit: decimal.NewFromFloat(2020), RiskFraction: decimal.NewFromFloat(0.0100001),
		Leverage: 100, PositionSize: decimal.NewFromFloat(0.10),
	}, decimal.NewFromInt(10000))
	assert.False(t, over.Approved, "0.0100001 must be rejected")
}

func TestValidate_InvalidSLTP_Rejected(t *testing.T) {
	v := NewValidator(testConfig(), nil)
	res := v.Validate(SignalInput{
		Direction:  types.SideBuy,
		EntryPrice: decimal.NewFromFloat(2000), StopLoss: decimal.NewFromFloat(2000),
		TakeProfit: decimal.NewFromFloat(2020), RiskFraction: decimal.NewFromFloat(0.005),
		Leverage: 100, PositionSize: decimal.NewFromFloat(0.10),
	}, decimal.NewFromInt(10000))
	require.False(t, res.Approved)
	assert.Contains(t, res.Violations, types.ViolationInvalidSLTP)
}

func TestDailyCapExceeded_NilStoreNeverBlocks(t *testing.T) {
	v := NewValidator(testConfig(), nil)
	exceeded, err := v.DailyCapExceeded(context.Background())
	require.NoError(t, err)
	assert.False(t, exceeded)
}

func TestValidSLTP_RejectsZeroStopDistance(t *testing.T) {
	assert.False(t, ValidSLTP(types.SideBuy, decimal.NewFromInt(2000), decimal.NewFromInt(2000), decimal.NewFromInt(2020)))
}

func TestValidSLTP_AcceptsBuy(t *testing.T) {
	assert.True(t, ValidSLTP(types.SideBuy, decimal.NewFromFloat(2000), decimal.NewFromFloat(1990), decimal.NewFromFloat(2020)))
}

func TestRiskReward(t *testing.T) {
	rr := RiskReward(decimal.NewFromFloat(2000), decimal.NewFromFloat(1990), decimal.NewFromFloat(2020))
	assert.True(t, rr.Equal(decimal.NewFromFloat(2.0)))
}
