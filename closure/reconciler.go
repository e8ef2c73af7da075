// Reconciler is the startup-recovery janitor: foreign-key cascades
// make DB-level orphans impossible, but a crash mid-write can still
// leave an open Position whose parent trade is missing or no longer
// OPEN. Reconciler flags those when Run is called (cmd/executiond
// calls it once at startup).
package closure

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/execengine/broker"
	"github.com/web3guy0/execengine/metrics"
	"github.com/web3guy0/execengine/storage"
)

type Reconciler struct {
	store *storage.Database
	bro   broker.Broker
	Alert Alerter
}

func NewReconciler(store *storage.Database, bro broker.Broker) *Reconciler {
	return &Reconciler{store: store, bro: bro}
}

// Run loads every open Position and raises a ReconciliationRequired
// alert for any whose parent trade is missing or not OPEN, instead of
// silently mutating state. It fetches the venue's open-position list
// but does not compare the local positions against it.
func (r *Reconciler) Run(ctx context.Context) error {
	openPositions, err := r.store.ListOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("reconciler: list open positions: %w", err)
	}
	if len(openPositions) == 0 {
		log.Info().Msg("reconciler: no open positions, nothing to check")
		return nil
	}

	venuePositions, err := r.bro.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("reconciler: list venue positions: %w", err)
	}
	venueByTrade := make(map[string]bool, len(venuePositions))
	for _, vp := range venuePositions {
		venueByTrade[vp.BrokerPositionID] = true
	}

	for _, pos := range openPositions {
		trade, err := r.store.GetTrade(ctx, pos.TradeID)
		if err != nil {
			log.Warn().Err(err).Str("trade_id", pos.TradeID).Msg("reconciler: orphan position, no parent trade")
			r.notify(ctx, fmt.Sprintf("orphan position %s: no parent trade found", pos.ID))
			continue
		}
		if trade.Status != "OPEN" {
			log.Warn().Str("trade_id", trade.ID).Str("status", trade.Status.String()).
				Msg("reconciler: position open but trade not OPEN, flagging")
			r.notify(ctx, fmt.Sprintf("trade %s has an open position but status %s", trade.ID, trade.Status))
		}
	}
	return nil
}

func (r *Reconciler) notify(ctx context.Context, msg string) {
	metrics.ReconciliationsRaised.Inc()
	if r.Alert != nil {
		r.Alert.NotifyHigh(ctx, msg)
	}
}
