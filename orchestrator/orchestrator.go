// Package orchestrator implements the Execution Orchestrator: the
// per-signal top-level routine that runs the risk validator, order
// manager, position manager and SL/TP manager in order and emits a
// final result.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/execengine/alert"
	"github.com/web3guy0/execengine/broker"
	"github.com/web3guy0/execengine/closure"
	"github.com/web3guy0/execengine/config"
	"github.com/web3guy0/execengine/errs"
	"github.com/web3guy0/execengine/eventlog"
	"github.com/web3guy0/execengine/execorder"
	"github.com/web3guy0/execengine/lifecycle"
	"github.com/web3guy0/execengine/metrics"
	"github.com/web3guy0/execengine/position"
	"github.com/web3guy0/execengine/retry"
	"github.com/web3guy0/execengine/risk"
	"github.com/web3guy0/execengine/sltp"
	"github.com/web3guy0/execengine/storage"
	"github.com/web3guy0/execengine/types"
)

// Result is process_signal's discriminated result.
type Result struct {
	Success bool
	TradeID string
	Status  types.TradeStatus
	Error   *ResultError
}

type ResultError struct {
	Kind    types.ErrorKind
	Message string
}

// Orchestrator glues every component together behind the admin
// surface's five operations.
type Orchestrator struct {
	store     *storage.Database
	bro       broker.Broker
	validator *risk.Validator
	orders    *execorder.Manager
	positions *position.Manager
	sltpMgr   *sltp.Manager
	closureSvc *closure.Service
	events    *eventlog.Log
	alertN    alert.Notifier

	retryCfg config.RetryConfig
	breakers *retry.Manager

	mu       sync.Mutex
	inflight map[string]bool // signal ids currently being processed, dedups concurrent process_signal calls
}

// New wires every component; orders' FillHandler is bound to the
// orchestrator's own onFill so execution reports drive the FSM.
// retryCfg/breakerCfg back the circuit breakers and retry budgets
// guarding every broker call the orchestrator and its order manager
// make, one breaker per logical endpoint.
func New(
	store *storage.Database,
	bro broker.Broker,
	validator *risk.Validator,
	positions *position.Manager,
	closureSvc *closure.Service,
	events *eventlog.Log,
	alertN alert.Notifier,
	retryCfg config.RetryConfig,
	breakerCfg config.CircuitBreakerConfig,
) *Orchestrator {
	breakers := retry.NewManager(breakerCfg)
	o := &Orchestrator{
		store:      store,
		bro:        bro,
		validator:  validator,
		positions:  positions,
		closureSvc: closureSvc,
		events:     events,
		alertN:     alertN,
		retryCfg:   retryCfg,
		breakers:   breakers,
		inflight:   make(map[string]bool),
	}
	o.orders = execorder.NewManager(store, bro, o.onFill, breakers, retryCfg)
	o.sltpMgr = sltp.NewManager(store, o.orders)
	return o
}

// runner builds the retry.Runner for endpoint, backed by that
// endpoint's own circuit breaker.
func (o *Orchestrator) runner(endpoint string) *retry.Runner {
	return retry.NewRunner(o.retryCfg, o.breakers.Get(endpoint))
}

// Start begins routing execution reports from the broker adapter.
func (o *Orchestrator) Start(ctx context.Context) {
	o.orders.Start(ctx)
}

// ProcessSignal is the per-signal top-level routine: validate, place
// the entry order, and track the trade through to a position.
func (o *Orchestrator) ProcessSignal(ctx context.Context, signalID string) (Result, error) {
	if existing, err := o.store.GetTradeBySignal(ctx, signalID); err == nil {
		// Idempotent re-dispatch: same signal id returns the same trade,
		// never a second row.
		return Result{Success: true, TradeID: existing.ID, Status: existing.Status}, nil
	}

	o.mu.Lock()
	if o.inflight[signalID] {
		o.mu.Unlock()
		// A concurrent call is already creating this trade; the caller
		// should retry process_signal shortly to observe it.
		return Result{}, fmt.Errorf("orchestrator: signal %s already being processed", signalID)
	}
	o.inflight[signalID] = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.inflight, signalID)
		o.mu.Unlock()
	}()

	sig, err := o.store.GetSignal(ctx, signalID)
	if err != nil {
		return Result{Success: false, Error: &ResultError{Kind: types.ErrorKindValidation, Message: "signal not found"}}, errs.ErrSignalNotFound
	}

	if _, err := o.runner("broker.connect").Do(ctx, "broker.connect", func(ctx context.Context) (interface{}, error) {
		return nil, o.bro.Connect(ctx)
	}, nil); err != nil {
		return Result{Success: false, Error: &ResultError{Kind: types.ErrorKindNetwork, Message: "broker connect failed"}}, err
	}

	accountResult, err := o.runner("broker.validate_account").Do(ctx, "broker.validate_account", func(ctx context.Context) (interface{}, error) {
		return o.bro.ValidateAccount(ctx)
	}, nil)
	if err != nil {
		return Result{Success: false, Error: &ResultError{Kind: types.ErrorKindBroker, Message: "account snapshot failed"}}, err
	}
	account := accountResult.(broker.AccountSnapshot)

	if exceeded, err := o.validator.DailyCapExceeded(ctx); err != nil {
		return Result{Success: false}, fmt.Errorf("orchestrator: daily cap check: %w", err)
	} else if exceeded {
		log.Warn().Str("signal_id", signalID).Msg("orchestrator: daily trade cap reached, rejecting")
		return Result{Success: false, Error: &ResultError{
			Kind: types.ErrorKindValidation, Message: "daily trade cap exceeded",
		}}, nil
	}

	validation := o.validator.ValidateSignal(sig, account.Balance)
	if !validation.Approved {
		if validation.HasAdjustedSize {
			sig.PositionSize = validation.AdjustedSize
			validation = o.validator.ValidateSignal(sig, account.Balance)
		}
		if !validation.Approved {
			log.Warn().Str("signal_id", signalID).Interface("violations", validation.Violations).
				Msg("orchestrator: validation failed")
			return Result{Success: false, Error: &ResultError{
				Kind:    types.ErrorKindValidation,
				Message: fmt.Sprintf("validation failed: %v", validation.Violations),
			}}, nil
		}
	}

	trade := &storage.ExecutionTrade{
		ID:            uuid.NewString(),
		SignalID:      sig.ID,
		Instrument:    sig.Instrument,
		Timeframe:     sig.Timeframe,
		Side:          sig.Direction,
		Status:        types.TradeStatusNew,
		EntryPrice:    sig.EntryPrice,
		StopLoss:      sig.StopLoss,
		TakeProfit:    sig.TakeProfit,
		PositionSize:  sig.PositionSize,
		RiskPercent:   sig.RiskFraction,
		Leverage:      sig.Leverage,
		RiskReward:    sig.RiskReward,
		ExecutionMode: types.ExecutionModePaper,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := o.store.CreateTrade(ctx, trade); err != nil {
		return Result{Success: false}, fmt.Errorf("orchestrator: create trade: %w", err)
	}
	if err := o.validator.RecordTrade(ctx); err != nil {
		log.Warn().Err(err).Str("trade_id", trade.ID).Msg("orchestrator: daily trade counter persist failed")
	}
	_ = o.events.Append(ctx, trade.ID, lifecycle.InitialEvent, "", types.TradeStatusNew, nil)

	if err := o.transition(ctx, trade, types.TradeStatusValidated, nil); err != nil {
		return Result{Success: false}, err
	}

	order, placeErr := o.orders.PlaceOrderFor(ctx, trade.ID, sltp.KindEntry, broker.OrderRequest{
		Symbol: trade.Instrument, Side: trade.Side, Size: trade.PositionSize,
		Type: types.OrderTypeMarket, SL: trade.StopLoss, TP: trade.TakeProfit,
	})
	if placeErr != nil {
		metrics.OrdersRejected.WithLabelValues(sltp.KindEntry).Inc()
		log.Warn().Str("trade_id", trade.ID).Err(placeErr).Msg("orchestrator: broker rejected entry order")
		return Result{Success: false, TradeID: trade.ID, Status: trade.Status,
			Error: &ResultError{Kind: types.ErrorKindBroker, Message: "broker rejected"}}, nil
	}
	metrics.OrdersPlaced.WithLabelValues(sltp.KindEntry).Inc()

	if err := o.transition(ctx, trade, types.TradeStatusOrderPlaced, map[string]string{"order_id": order.ID}); err != nil {
		return Result{Success: false}, err
	}

	return Result{Success: true, TradeID: trade.ID, Status: trade.Status}, nil
}

// transition validates the FSM edge, persists the new status, and
// appends the corresponding event — every attempted transition is
// audited whether it succeeds or fails.
func (o *Orchestrator) transition(ctx context.Context, trade *storage.ExecutionTrade, to types.TradeStatus, metadata interface{}) error {
	from := trade.Status
	eventType, err := lifecycle.Transition(from, to)
	if err != nil {
		_ = o.events.Append(ctx, trade.ID, types.EventError, from, from, map[string]string{"attempted": string(to), "error": err.Error()})
		return err
	}
	trade.Status = to
	if err := o.store.UpdateTrade(ctx, trade); err != nil {
		return fmt.Errorf("orchestrator: persist transition: %w", err)
	}
	return o.events.Append(ctx, trade.ID, eventType, from, to, metadata)
}

// onFill is the execorder.FillHandler bound at construction. It runs on
// the owning trade's single reducer goroutine, so per-trade state
// mutations here never race with another fill for the same trade.
func (o *Orchestrator) onFill(ctx context.Context, order storage.ExecutionOrder, execution storage.Execution, orderFilled bool) {
	metrics.Fills.WithLabelValues(fmt.Sprintf("%v", !orderFilled)).Inc()

	trade, err := o.store.GetTrade(ctx, order.TradeID)
	if err != nil {
		log.Error().Err(err).Str("trade_id", order.TradeID).Msg("orchestrator: onFill: trade not found")
		return
	}

	switch order.Kind {
	case sltp.KindSL, sltp.KindTP:
		o.handleBracketFill(ctx, *trade, order, execution)
	default:
		o.handleEntryFill(ctx, trade, execution, orderFilled)
	}
}

func (o *Orchestrator) handleEntryFill(ctx context.Context, trade *storage.ExecutionTrade, execution storage.Execution, orderFilled bool) {
	pos, err := o.store.GetPositionByTrade(ctx, trade.ID)
	firstFill := err != nil

	if firstFill {
		if _, err := o.positions.OpenPosition(ctx, *trade, execution.FilledPrice, execution.FilledSize); err != nil {
			log.Error().Err(err).Str("trade_id", trade.ID).Msg("orchestrator: open_position failed")
			return
		}
	} else {
		if err := o.positions.UpdateOnPartial(ctx, pos, execution.FilledPrice, execution.FilledSize); err != nil {
			log.Error().Err(err).Str("trade_id", trade.ID).Msg("orchestrator: update_on_partial failed")
			return
		}
	}

	nextStatus := types.TradeStatusPartiallyFilled
	if orderFilled {
		nextStatus = types.TradeStatusFilled
	}
	if err := o.transition(ctx, trade, nextStatus, nil); err != nil {
		log.Error().Err(err).Str("trade_id", trade.ID).Msg("orchestrator: transition on fill failed")
		return
	}

	if !orderFilled {
		return
	}

	if err := o.transition(ctx, trade, types.TradeStatusOpen, nil); err != nil {
		log.Error().Err(err).Str("trade_id", trade.ID).Msg("orchestrator: transition to OPEN failed")
		return
	}
	metrics.OpenPositions.Inc()

	pos, err = o.store.GetPositionByTrade(ctx, trade.ID)
	if err != nil {
		log.Error().Err(err).Str("trade_id", trade.ID).Msg("orchestrator: reload position for brackets failed")
		return
	}
	if err := o.sltpMgr.PlaceBrackets(ctx, *trade, *pos); err != nil {
		log.Error().Err(err).Str("trade_id", trade.ID).Msg("orchestrator: place brackets failed")
	}
}

func (o *Orchestrator) handleBracketFill(ctx context.Context, trade storage.ExecutionTrade, order storage.ExecutionOrder, execution storage.Execution) {
	reason, cancelFailed, err := o.sltpMgr.HandleBracketFill(ctx, trade.ID, order.Kind)
	if err != nil {
		log.Error().Err(err).Str("trade_id", trade.ID).Msg("orchestrator: bracket fill handling failed")
		return
	}
	if cancelFailed && o.alertN != nil {
		o.alertN.NotifyHigh(ctx, fmt.Sprintf("trade %s: sibling bracket cancel failed, reconciliation required", trade.ID))
	}
	if err := o.closureSvc.Close(ctx, trade.ID, reason, execution.FilledPrice, ""); err != nil {
		log.Error().Err(err).Str("trade_id", trade.ID).Msg("orchestrator: closure failed")
		return
	}
	metrics.OpenPositions.Dec()
}

// CancelTrade attempts cancel_order on every non-terminal order and
// closes the trade MANUAL. Cancelling an already-closed trade is a
// no-op returning success.
func (o *Orchestrator) CancelTrade(ctx context.Context, tradeID string) (Result, error) {
	trade, err := o.store.GetTrade(ctx, tradeID)
	if err != nil {
		return Result{Success: false}, fmt.Errorf("orchestrator: cancel_trade: %w", err)
	}
	if trade.Status == types.TradeStatusClosed {
		return Result{Success: true, TradeID: trade.ID, Status: trade.Status}, nil
	}
	if !lifecycle.Cancellable(trade.Status) {
		return Result{Success: false, TradeID: trade.ID, Status: trade.Status,
			Error: &ResultError{Kind: types.ErrorKindStateMachine, Message: "trade not cancellable in current status"}}, nil
	}

	orders, err := o.store.ListOrdersForTrade(ctx, tradeID)
	if err != nil {
		return Result{Success: false}, fmt.Errorf("orchestrator: list orders: %w", err)
	}
	cancelFailed := false
	for _, ord := range orders {
		if ord.Status.Terminal() {
			continue
		}
		if err := o.orders.CancelOrder(ctx, ord.ID); err != nil {
			cancelFailed = true
			log.Warn().Err(err).Str("order_id", ord.ID).Msg("orchestrator: cancel_order failed during cancel_trade")
		}
	}

	if pos, err := o.store.GetPositionByTrade(ctx, tradeID); err == nil {
		if closeErr := o.closureSvc.Close(ctx, tradeID, types.CloseReasonManual, pos.AvgEntryPrice, ""); closeErr != nil {
			return Result{Success: false, TradeID: tradeID}, closeErr
		}
		return Result{Success: true, TradeID: tradeID, Status: types.TradeStatusClosed}, nil
	}

	if cancelFailed {
		previousStatus := trade.Status
		trade.Status = types.TradeStatusClosed
		trade.CloseReason = types.CloseReasonError
		now := time.Now().UTC()
		trade.ClosedAt = &now
		_ = o.store.UpdateTrade(ctx, trade)
		_ = o.events.Append(ctx, trade.ID, types.EventError, previousStatus, types.TradeStatusClosed, nil)
		return Result{Success: false, TradeID: tradeID, Status: trade.Status,
			Error: &ResultError{Kind: types.ErrorKindReconciliation, Message: "venue cancel failed"}}, nil
	}

	if err := o.transition(ctx, trade, types.TradeStatusClosed, map[string]string{"close_reason": string(types.CloseReasonManual)}); err != nil {
		return Result{Success: false}, err
	}
	trade.CloseReason = types.CloseReasonManual
	now := time.Now().UTC()
	trade.ClosedAt = &now
	_ = o.store.UpdateTrade(ctx, trade)

	return Result{Success: true, TradeID: tradeID, Status: types.TradeStatusClosed}, nil
}

// GetExecutionStatus returns the current trade row.
func (o *Orchestrator) GetExecutionStatus(ctx context.Context, tradeID string) (*storage.ExecutionTrade, error) {
	return o.store.GetTrade(ctx, tradeID)
}

// GetActivePositions returns every open position.
func (o *Orchestrator) GetActivePositions(ctx context.Context) ([]storage.Position, error) {
	return o.store.ListOpenPositions(ctx)
}

// Stats is the get_execution_stats payload.
type Stats struct {
	OpenTrades    int
	OpenPositions int
}

func (o *Orchestrator) GetExecutionStats(ctx context.Context) (Stats, error) {
	trades, err := o.store.ListOpenTrades(ctx)
	if err != nil {
		return Stats{}, err
	}
	positions, err := o.store.ListOpenPositions(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{OpenTrades: len(trades), OpenPositions: len(positions)}, nil
}
