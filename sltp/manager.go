// Package sltp implements the SL/TP Manager: places the two
// opposite-side bracket orders on position open, and on a fill
// matching either trigger cancels the sibling and hands off to the
// Closure Service.
package sltp

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/execengine/broker"
	"github.com/web3guy0/execengine/execorder"
	"github.com/web3guy0/execengine/storage"
	"github.com/web3guy0/execengine/types"
)

const (
	KindEntry = "ENTRY"
	KindSL    = "SL"
	KindTP    = "TP"
)

// Manager places and maintains bracket orders. It decides *which*
// reason a fill corresponds to (HandleBracketFill); the orchestrator
// wires that reason into closure.Service.Close, keeping sltp free of an
// import-cycle-prone dependency on the closure package.

type Manager struct {
	store   *storage.Database
	orders  *execorder.Manager
}

func NewManager(store *storage.Database, orders *execorder.Manager) *Manager {
	return &Manager{store: store, orders: orders}
}

// PlaceBrackets places the SL and TP LIMIT orders opposite trade.Side,
// each sized to the full position.
func (m *Manager) PlaceBrackets(ctx context.Context, trade storage.ExecutionTrade, pos storage.Position) error {
	opposite := trade.Side.Opposite()

	if _, err := m.orders.PlaceOrderFor(ctx, trade.ID, KindSL, broker.OrderRequest{
		Symbol: trade.Instrument, Side: opposite, Size: pos.Size,
		Type: types.OrderTypeLimit, Price: pos.StopLoss,
	}); err != nil {
		return fmt.Errorf("sltp: place SL: %w", err)
	}

	if _, err := m.orders.PlaceOrderFor(ctx, trade.ID, KindTP, broker.OrderRequest{
		Symbol: trade.Instrument, Side: opposite, Size: pos.Size,
		Type: types.OrderTypeLimit, Price: pos.TakeProfit,
	}); err != nil {
		return fmt.Errorf("sltp: place TP: %w", err)
	}
	return nil
}

// HandleBracketFill is called by the orchestrator when a filled order
// turns out to be a bracket (Kind SL or TP): it cancels the sibling,
// logging rather than failing if the cancel itself fails — the orphan
// order is flagged for reconciliation rather than blocking closure.
func (m *Manager) HandleBracketFill(ctx context.Context, tradeID string, filledKind string) (reason types.CloseReason, siblingCancelFailed bool, err error) {
	switch filledKind {
	case KindSL:
		reason = types.CloseReasonSL
	case KindTP:
		reason = types.CloseReasonTP
	default:
		return "", false, fmt.Errorf("sltp: order kind %q is not a bracket", filledKind)
	}

	siblingKind := KindTP
	if filledKind == KindTP {
		siblingKind = KindSL
	}

	orders, err := m.store.ListOrdersForTrade(ctx, tradeID)
	if err != nil {
		return reason, false, fmt.Errorf("sltp: list orders: %w", err)
	}
	for _, o := range orders {
		if o.Kind != siblingKind || o.Status.Terminal() {
			continue
		}
		if cerr := m.orders.CancelOrder(ctx, o.ID); cerr != nil {
			log.Warn().Err(cerr).Str("trade_id", tradeID).Str("sibling_kind", siblingKind).
				Msg("sltp: sibling cancel failed, flagging for reconciliation")
			return reason, true, nil
		}
	}
	return reason, false, nil
}

// UpdateBrackets cancels both siblings and re-places them at newSL/newTP.
func (m *Manager) UpdateBrackets(ctx context.Context, trade storage.ExecutionTrade, pos storage.Position, newSL, newTP storage.Position) error {
	orders, err := m.store.ListOrdersForTrade(ctx, trade.ID)
	if err != nil {
		return fmt.Errorf("sltp: list orders: %w", err)
	}
	for _, o := range orders {
		if (o.Kind == KindSL || o.Kind == KindTP) && !o.Status.Terminal() {
			if err := m.orders.CancelOrder(ctx, o.ID); err != nil {
				log.Warn().Err(err).Str("trade_id", trade.ID).Msg("sltp: cancel during update failed")
			}
		}
	}
	pos.StopLoss = newSL.StopLoss
	pos.TakeProfit = newTP.TakeProfit
	return m.PlaceBrackets(ctx, trade, pos)
}
