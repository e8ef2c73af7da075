// Package closure implements the Position Closure Service and the
// Transaction Coordinator that backs it: the broker close happens
// outside the database transaction (the venue is outside the
// transactional boundary), then Position/ExecutionTrade/TradeEvent
// updates and the optional risk-ledger post commit or roll back
// together, following a transactional-recovery pattern built on
// gorm's db.Transaction.
package closure

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/web3guy0/execengine/broker"
	"github.com/web3guy0/execengine/errs"
	"github.com/web3guy0/execengine/lifecycle"
	"github.com/web3guy0/execengine/metrics"
	"github.com/web3guy0/execengine/position"
	"github.com/web3guy0/execengine/storage"
	"github.com/web3guy0/execengine/types"
)

// RiskLedger is an optional external collaborator closure posts
// realized P&L to. Made explicit but never required — Service.Ledger
// may be nil, in which case posting is skipped.
type RiskLedger interface {
	PostRealizedPnL(ctx context.Context, tradeID string, pnl decimal.Decimal) error
}

// Alerter receives the HIGH-severity alert Service.Close raises on
// every closure failure.
type Alerter interface {
	NotifyHigh(ctx context.Context, message string)
}

// Service is the Position Closure Service.
type Service struct {
	store  *storage.Database
	bro    broker.Broker
	Ledger RiskLedger
	Alert  Alerter
}

func NewService(store *storage.Database, bro broker.Broker) *Service {
	return &Service{store: store, bro: bro}
}

// Close runs the full transactional close-out path for tradeID's
// position, keyed per reason. The broker close call happens first and
// outside the transaction; if the subsequent commit fails, the
// broker close is already durable and Close returns an
// *errs.ExecutionError of kind RECONCILIATION_REQUIRED instead of
// retrying the close.
func (s *Service) Close(ctx context.Context, tradeID string, reason types.CloseReason, closePrice decimal.Decimal, brokerPositionID string) error {
	pos, err := s.store.GetPositionByTrade(ctx, tradeID)
	if err != nil {
		err = fmt.Errorf("closure: load position: %w", err)
		if s.Alert != nil {
			s.Alert.NotifyHigh(ctx, fmt.Sprintf("closure failed for trade %s: %v", tradeID, err))
		}
		return err
	}
	trade, err := s.store.GetTrade(ctx, pos.TradeID)
	if err != nil {
		err = fmt.Errorf("closure: load trade: %w", err)
		if s.Alert != nil {
			s.Alert.NotifyHigh(ctx, fmt.Sprintf("closure failed for trade %s: %v", tradeID, err))
		}
		return err
	}

	if brokerPositionID != "" {
		if err := s.bro.ClosePosition(ctx, brokerPositionID); err != nil {
			err = fmt.Errorf("closure: broker close_position: %w", err)
			if s.Alert != nil {
				s.Alert.NotifyHigh(ctx, fmt.Sprintf("closure failed for trade %s: %v", tradeID, err))
			}
			return err
		}
	}

	realizedPnL := position.RealizedPnL(*pos, closePrice)
	now := time.Now().UTC()

	coordinator := newCoordinator(s.store)
	err = coordinator.Commit(ctx, func(tx *gorm.DB) error {
		eventType, fsmErr := lifecycle.Transition(trade.Status, types.TradeStatusClosed)
		if fsmErr != nil {
			return fsmErr
		}

		pos.ClosedAt = &now
		if err := tx.Save(pos).Error; err != nil {
			return err
		}

		previousStatus := trade.Status
		trade.Status = types.TradeStatusClosed
		trade.CloseReason = reason
		trade.ClosedAt = &now
		trade.UpdatedAt = now
		if err := tx.Save(trade).Error; err != nil {
			return err
		}

		event := &storage.TradeEvent{
			ID:             uuid.NewString(),
			TradeID:        trade.ID,
			EventType:      eventType,
			PreviousStatus: previousStatus,
			NewStatus:      types.TradeStatusClosed,
			Metadata:       fmt.Sprintf(`{"reason":%q,"close_price":%q,"realized_pnl":%q}`, reason, closePrice.String(), realizedPnL.String()),
			CreatedAt:      now,
		}
		if err := tx.Create(event).Error; err != nil {
			return err
		}

		if s.Ledger != nil {
			if err := s.Ledger.PostRealizedPnL(ctx, trade.ID, realizedPnL); err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		// The broker-side close is already durable; do not retry it.
		// Record this as a reconciliation task instead.
		msg := fmt.Sprintf("closure commit failed for trade %s after broker close succeeded: %v", trade.ID, err)
		log.Error().Str("trade_id", trade.ID).Err(err).Msg("closure: commit failed, reconciliation required")
		metrics.ReconciliationsRaised.Inc()
		if s.Alert != nil {
			s.Alert.NotifyHigh(ctx, msg)
		}
		return errs.Wrap(types.ErrorKindReconciliation, msg, err)
	}

	if realizedPnL.GreaterThanOrEqual(decimal.Zero) {
		// prometheus counters cannot decrease; a losing trade still closes
		// cleanly but only gains are reflected in this running sum.
		f, _ := realizedPnL.Float64()
		metrics.RealizedPnL.Add(f)
	}

	log.Info().Str("trade_id", trade.ID).Str("reason", reason.String()).
		Str("realized_pnl", realizedPnL.String()).Msg("closure: trade closed")
	return nil
}
