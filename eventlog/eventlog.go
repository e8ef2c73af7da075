// Package eventlog implements the append-only Trade Event Log: every
// status change in an ExecutionTrade gets exactly one corresponding
// TradeEvent, timestamps monotonic non-decreasing per trade.
package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/web3guy0/execengine/storage"
	"github.com/web3guy0/execengine/types"
)

// Log appends to and reads from a trade's event stream.
type Log struct {
	store *storage.Database
}

func New(store *storage.Database) *Log {
	return &Log{store: store}
}

// Append writes one TradeEvent. metadata is marshalled to JSON; pass
// nil for no metadata. Timestamps are assigned from time.Now().UTC(),
// which is monotonic non-decreasing for a single process's sequential
// per-trade reducer.
func (l *Log) Append(ctx context.Context, tradeID string, eventType types.EventType, previous, newStatus types.TradeStatus, metadata interface{}) error {
	var blob string
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		blob = string(b)
	}
	return l.store.AppendEvent(ctx, &storage.TradeEvent{
		ID:             uuid.NewString(),
		TradeID:        tradeID,
		EventType:      eventType,
		PreviousStatus: previous,
		NewStatus:      newStatus,
		Metadata:       blob,
		CreatedAt:      time.Now().UTC(),
	})
}

// List returns every event for a trade in chronological order.
func (l *Log) List(ctx context.Context, tradeID string) ([]storage.TradeEvent, error) {
	return l.store.ListEventsForTrade(ctx, tradeID)
}
