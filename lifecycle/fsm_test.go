package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/execengine/types"
)

func TestTransition_HappyPathSequence(t *testing.T) {
	seq := []struct {
		from, to types.TradeStatus
		event    types.EventType
	}{
		{types.TradeStatusNew, types.TradeStatusValidated, types.EventValidated},
		{types.TradeStatusValidated, types.TradeStatusOrderPlaced, types.EventOrderSent},
		{types.TradeStatusOrderPlaced, types.TradeStatusPartiallyFilled, types.EventPartialFill},
		{types.TradeStatusPartiallyFilled, types.TradeStatusFilled, types.EventFilled},
		{types.TradeStatusFilled, types.TradeStatusOpen, types.EventOpened},
		{types.TradeStatusOpen, types.TradeStatusClosed, types.EventClosed},
	}
	for _, s := range seq {
		ev, err := Transition(s.from, s.to)
		require.NoError(t, err)
		assert.Equal(t, s.event, ev)
	}
}

func TestTransition_RejectsSkippedTransition(t *testing.T) {
	_, err := Transition(types.TradeStatusNew, types.TradeStatusOpen)
	require.Error(t, err)
	var target *ErrInvalidTransition
	assert.ErrorAs(t, err, &target)
}

func TestTransition_ClosedIsTerminal(t *testing.T) {
	_, err := Transition(types.TradeStatusClosed, types.TradeStatusOpen)
	require.Error(t, err)
}

func TestCancellable(t *testing.T) {
	assert.True(t, Cancellable(types.TradeStatusNew))
	assert.True(t, Cancellable(types.TradeStatusPartiallyFilled))
	assert.False(t, Cancellable(types.TradeStatusOpen))
	assert.False(t, Cancellable(types.TradeStatusClosed))
}
