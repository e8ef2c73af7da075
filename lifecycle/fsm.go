// Package lifecycle owns the trade lifecycle state machine: the
// allowed status transitions and the single event type each edge maps
// to. Its exhaustive-switch closed-enum shape follows the same pattern
// as a circuit breaker's state handling, generalized from a two-state
// gate into a seven-state trade FSM.
package lifecycle

import (
	"fmt"

	"github.com/web3guy0/execengine/types"
)

// ErrInvalidTransition is returned for any transition not explicitly
// allowed; it must be rejected, never silently coerced.
type ErrInvalidTransition struct {
	From types.TradeStatus
	To   types.TradeStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("lifecycle: invalid transition %s -> %s", e.From, e.To)
}

type edge struct {
	from types.TradeStatus
	to   types.TradeStatus
}

// transitions enumerates every allowed edge and the single event type
// it maps to: NEW -> VALIDATED -> ORDER_PLACED ->
// {PARTIALLY_FILLED -> FILLED | FILLED} -> OPEN -> CLOSED.
var transitions = map[edge]types.EventType{
	{types.TradeStatusNew, types.TradeStatusValidated}:             types.EventValidated,
	{types.TradeStatusValidated, types.TradeStatusOrderPlaced}:     types.EventOrderSent,
	{types.TradeStatusOrderPlaced, types.TradeStatusPartiallyFilled}: types.EventPartialFill,
	{types.TradeStatusOrderPlaced, types.TradeStatusFilled}:         types.EventFilled,
	{types.TradeStatusPartiallyFilled, types.TradeStatusFilled}:     types.EventFilled,
	{types.TradeStatusFilled, types.TradeStatusOpen}:                types.EventOpened,
	{types.TradeStatusOpen, types.TradeStatusClosed}:                types.EventClosed,
	// Cancellation: any cancellable state may transition directly to
	// CLOSED with reason MANUAL.
	{types.TradeStatusNew, types.TradeStatusClosed}:             types.EventClosed,
	{types.TradeStatusValidated, types.TradeStatusClosed}:       types.EventClosed,
	{types.TradeStatusOrderPlaced, types.TradeStatusClosed}:     types.EventClosed,
	{types.TradeStatusPartiallyFilled, types.TradeStatusClosed}: types.EventClosed,
}

// Transition validates and returns the event type for from -> to. CLOSED
// is terminal: any transition attempted from CLOSED fails.
func Transition(from, to types.TradeStatus) (types.EventType, error) {
	if from == types.TradeStatusClosed {
		return "", &ErrInvalidTransition{From: from, To: to}
	}
	ev, ok := transitions[edge{from, to}]
	if !ok {
		return "", &ErrInvalidTransition{From: from, To: to}
	}
	return ev, nil
}

// Cancellable reports whether a trade in status may still be cancelled:
// NEW, VALIDATED, ORDER_PLACED, PARTIALLY_FILLED.
func Cancellable(status types.TradeStatus) bool {
	return status.Cancellable()
}

// InitialEvent is the event type appended when a trade is first created,
// before any transition runs.
const InitialEvent = types.EventCreated
