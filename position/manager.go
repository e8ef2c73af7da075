// Package position implements the Position Manager: weighted-average-
// entry updates on partial fills, in the style of opense.ai's paper.go
// updateTradePositions. A position is closed whole; there is no
// partial-close accounting.
package position

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/execengine/storage"
	"github.com/web3guy0/execengine/types"
)

// Manager opens, updates and closes Position rows. Partials recompute
// a single Position's size-weighted average entry rather than opening
// separate aggregates.
type Manager struct {
	store *storage.Database
}

func NewManager(store *storage.Database) *Manager {
	return &Manager{store: store}
}

// OpenPosition creates a Position from the first fill.
func (m *Manager) OpenPosition(ctx context.Context, trade storage.ExecutionTrade, fillPrice, fillSize decimal.Decimal) (*storage.Position, error) {
	margin := decimal.Zero
	if trade.Leverage > 0 {
		margin = fillSize.Mul(fillPrice).Div(decimal.NewFromInt(int64(trade.Leverage)))
	}
	pos := &storage.Position{
		ID:            uuid.NewString(),
		TradeID:       trade.ID,
		Side:          trade.Side,
		Size:          fillSize,
		AvgEntryPrice: fillPrice,
		StopLoss:      trade.StopLoss,
		TakeProfit:    trade.TakeProfit,
		MarginUsed:    margin,
		Leverage:      trade.Leverage,
		OpenedAt:      time.Now().UTC(),
	}
	if err := m.store.CreatePosition(ctx, pos); err != nil {
		return nil, fmt.Errorf("position: create: %w", err)
	}
	return pos, nil
}

// UpdateOnPartial folds an additional fill into the position's
// size-weighted average entry and recomputes margin_used.
func (m *Manager) UpdateOnPartial(ctx context.Context, pos *storage.Position, additionalFillPrice, additionalFillSize decimal.Decimal) error {
	totalSize := pos.Size.Add(additionalFillSize)
	if totalSize.GreaterThan(decimal.Zero) {
		weighted := pos.AvgEntryPrice.Mul(pos.Size).Add(additionalFillPrice.Mul(additionalFillSize))
		pos.AvgEntryPrice = weighted.Div(totalSize)
	}
	pos.Size = totalSize
	if pos.Leverage > 0 {
		pos.MarginUsed = pos.Size.Mul(pos.AvgEntryPrice).Div(decimal.NewFromInt(int64(pos.Leverage)))
	}
	return m.store.UpdatePosition(ctx, pos)
}

// ClosePosition marks closed_at. Propagating close_reason and the
// trade's CLOSED transition is the Closure Service's job; this method
// only updates the Position row itself.
func (m *Manager) ClosePosition(ctx context.Context, pos *storage.Position) error {
	now := time.Now().UTC()
	pos.ClosedAt = &now
	return m.store.UpdatePosition(ctx, pos)
}

// UnrealizedPnL = (current - entry) * size * (+1 BUY / -1 SELL).
func UnrealizedPnL(pos storage.Position, currentPrice decimal.Decimal) decimal.Decimal {
	diff := currentPrice.Sub(pos.AvgEntryPrice)
	pnl := diff.Mul(pos.Size)
	if pos.Side == types.SideSell {
		pnl = pnl.Neg()
	}
	return pnl
}

// RealizedPnL = (close - entry) * size * (+1 BUY / -1 SELL), rounded
// to 2 decimals.
func RealizedPnL(pos storage.Position, closePrice decimal.Decimal) decimal.Decimal {
	return UnrealizedPnL(pos, closePrice).Round(2)
}
