package risk

import (
	"github.com/shopspring/decimal"

	"github.com/web3guy0/execengine/config"
)

// Sizer derives position size from a risk budget and stop distance,
// using a truncate-to-2dp-with-floor rounding pattern.
type Sizer struct {
	cfg config.RiskConfig
}

func NewSizer(cfg config.RiskConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// SizeResult carries the derived size alongside the inputs used to
// compute it, for audit logging.
type SizeResult struct {
	Size         decimal.Decimal
	RiskAmount   decimal.Decimal
	StopDistance decimal.Decimal
	Margin       decimal.Decimal
}

// Calculate applies the sizing rule: size = risk_amount / stop_distance,
// rounded to 2 decimals downward, floored at MinPositionSize. Margin
// is size * entry / leverage.
func (s *Sizer) Calculate(accountBalance, riskFraction, entry, stopLoss decimal.Decimal, leverage int) SizeResult {
	stopDistance := entry.Sub(stopLoss).Abs()
	riskAmount := accountBalance.Mul(riskFraction)

	size := decimal.Zero
	if stopDistance.GreaterThan(decimal.Zero) {
		size = riskAmount.Div(stopDistance).Truncate(2)
	}
	if size.LessThan(s.cfg.MinPositionSize) {
		size = s.cfg.MinPositionSize
	}

	margin := decimal.Zero
	if leverage > 0 {
		margin = size.Mul(entry).Div(decimal.NewFromInt(int64(leverage)))
	}

	return SizeResult{
		Size:         size,
		RiskAmount:   riskAmount,
		StopDistance: stopDistance,
		Margin:       margin,
	}
}
