// Package risk implements the Risk Validator and Position Sizer: a
// mutex-guarded gate type with zerolog structured logging and
// deterministic arithmetic on shopspring/decimal, enforcing
// forex/metals risk/leverage/margin caps.
package risk

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/execengine/config"
	"github.com/web3guy0/execengine/storage"
	"github.com/web3guy0/execengine/types"
)

// SignalInput is the subset of a storage.Signal the validator checks.
type SignalInput struct {
	Direction    types.Side
	EntryPrice   decimal.Decimal
	StopLoss     decimal.Decimal
	TakeProfit   decimal.Decimal
	RiskFraction decimal.Decimal
	Leverage     int
	PositionSize decimal.Decimal
}

// Result is validate's discriminated outcome.
type Result struct {
	Approved           bool
	Violations         []types.Violation
	AdjustedSize       decimal.Decimal
	HasAdjustedSize    bool
	Margin             decimal.Decimal
}

// Validator enforces the hard risk caps: risk_percent <= 0.01,
// leverage <= 200, margin <= 0.8*balance, SL/TP sanity, and the daily
// trade cap. store is optional: nil disables the daily-counter and
// realized-P&L persistence, leaving the in-memory checks intact.
type Validator struct {
	mu    sync.RWMutex
	cfg   config.RiskConfig
	store *storage.Database
}

func NewValidator(cfg config.RiskConfig, store *storage.Database) *Validator {
	return &Validator{cfg: cfg, store: store}
}

// Validate runs the checks in order, accumulating every violation (all
// must pass for approval). If RISK_EXCEEDED is the *only* violation,
// an adjusted size is computed and returned so the orchestrator may
// retry with it.
func (v *Validator) Validate(sig SignalInput, accountBalance decimal.Decimal) Result {
	v.mu.RLock()
	cfg := v.cfg
	v.mu.RUnlock()

	var violations []types.Violation

	if sig.RiskFraction.GreaterThan(cfg.MaxRiskPerTrade) {
		violations = append(violations, types.ViolationRiskExceeded)
	}

	if decimal.NewFromInt(int64(sig.Leverage)).GreaterThan(decimal.NewFromInt(int64(cfg.MaxLeverage))) {
		violations = append(violations, types.ViolationLeverageExceeded)
	}

	if !ValidSLTP(sig.Direction, sig.EntryPrice, sig.StopLoss, sig.TakeProfit) {
		violations = append(violations, types.ViolationInvalidSLTP)
	}

	margin := decimal.Zero
	if sig.Leverage > 0 {
		margin = sig.PositionSize.Mul(sig.EntryPrice).Div(decimal.NewFromInt(int64(sig.Leverage)))
	}
	maxMargin := cfg.MaxMarginUsage.Mul(accountBalance)
	if margin.GreaterThan(maxMargin) {
		violations = append(violations, types.ViolationInsufficientMargin)
	}

	result := Result{
		Approved:   len(violations) == 0,
		Violations: violations,
		Margin:     margin,
	}

	if len(violations) == 1 && violations[0] == types.ViolationRiskExceeded {
		stopDistance := sig.EntryPrice.Sub(sig.StopLoss).Abs()
		if stopDistance.GreaterThan(decimal.Zero) && sig.Leverage > 0 {
			byRisk := accountBalance.Mul(cfg.MaxRiskPerTrade).Div(stopDistance)
			byMargin := accountBalance.Mul(cfg.MaxMarginUsage).Mul(decimal.NewFromInt(int64(sig.Leverage))).Div(sig.EntryPrice)
			adjusted := decimal.Min(byRisk, byMargin).Round(2)
			if adjusted.GreaterThanOrEqual(cfg.MinPositionSize) {
				result.AdjustedSize = adjusted
				result.HasAdjustedSize = true
			}
		}
	}

	log.Info().
		Bool("approved", result.Approved).
		Interface("violations", result.Violations).
		Str("margin", margin.String()).
		Msg("risk: validated signal")

	return result
}

// ValidateSignal is a convenience wrapper taking a persisted Signal.
func (v *Validator) ValidateSignal(sig *storage.Signal, accountBalance decimal.Decimal) Result {
	return v.Validate(SignalInput{
		Direction:    sig.Direction,
		EntryPrice:   sig.EntryPrice,
		StopLoss:     sig.StopLoss,
		TakeProfit:   sig.TakeProfit,
		RiskFraction: sig.RiskFraction,
		Leverage:     sig.Leverage,
		PositionSize: sig.PositionSize,
	}, accountBalance)
}

// dailyRiskState loads today's RiskState row, returning a fresh
// zero-value row (not yet persisted) if none exists for today.
func (v *Validator) dailyRiskState(ctx context.Context) (*storage.RiskState, string, error) {
	day := time.Now().UTC().Format("2006-01-02")
	state, err := v.store.LoadRiskState(ctx, day)
	if err != nil {
		return nil, day, err
	}
	if state == nil {
		state = &storage.RiskState{Day: day}
	}
	return state, day, nil
}

// DailyCapExceeded reports whether today's trade count has already
// reached cfg.MaxDailyTrades. A nil store (no persistence configured)
// never blocks on this check.
func (v *Validator) DailyCapExceeded(ctx context.Context) (bool, error) {
	if v.store == nil || v.cfg.MaxDailyTrades <= 0 {
		return false, nil
	}
	state, _, err := v.dailyRiskState(ctx)
	if err != nil {
		return false, err
	}
	return state.TradesToday >= v.cfg.MaxDailyTrades, nil
}

// RecordTrade increments today's persisted trade counter. Called once
// per trade actually created, after validation passes.
func (v *Validator) RecordTrade(ctx context.Context) error {
	if v.store == nil {
		return nil
	}
	state, _, err := v.dailyRiskState(ctx)
	if err != nil {
		return err
	}
	state.TradesToday++
	return v.store.SaveRiskState(ctx, state)
}

// PostRealizedPnL implements closure.RiskLedger: folds a closed
// trade's realized P&L into today's running total so the daily
// counters survive a process restart.
func (v *Validator) PostRealizedPnL(ctx context.Context, tradeID string, pnl decimal.Decimal) error {
	if v.store == nil {
		return nil
	}
	state, _, err := v.dailyRiskState(ctx)
	if err != nil {
		return err
	}
	state.RealizedPnL = state.RealizedPnL.Add(pnl)
	return v.store.SaveRiskState(ctx, state)
}

// ValidSLTP rejects a signal whose SL sits at entry (stop distance must
// be > 0), and requires SL/TP to be on the correct side of entry for
// the direction.
func ValidSLTP(direction types.Side, entry, sl, tp decimal.Decimal) bool {
	if entry.Sub(sl).Abs().IsZero() {
		return false
	}
	if sl.LessThanOrEqual(decimal.Zero) || tp.LessThanOrEqual(decimal.Zero) {
		return false
	}
	if direction == types.SideBuy {
		return tp.GreaterThan(entry) && sl.LessThan(entry)
	}
	return tp.LessThan(entry) && sl.GreaterThan(entry)
}

// RiskReward computes |TP - entry| / |entry - SL|, used both at signal
// creation and to re-derive the ratio for display/audit.
func RiskReward(entry, sl, tp decimal.Decimal) decimal.Decimal {
	risk := entry.Sub(sl).Abs()
	if risk.IsZero() {
		return decimal.Zero
	}
	reward := tp.Sub(entry).Abs()
	return reward.Div(risk)
}
