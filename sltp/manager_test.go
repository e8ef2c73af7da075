package sltp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/execengine/storage"
)

func newTestStore(t *testing.T) *storage.Database {
	t.Helper()
	db, err := storage.New(":memory:")
	require.NoError(t, err)
	return db
}

func TestHandleBracketFill_TP(t *testing.T) {
	m := &Manager{store: newTestStore(t)}
	reason, cancelFailed, err := m.HandleBracketFill(context.Background(), "trade-1", KindTP)
	require.NoError(t, err)
	assert.Equal(t, "TP", string(reason))
	assert.False(t, cancelFailed)
}

func TestHandleBracketFill_UnknownKind(t *testing.T) {
	m := &Manager{}
	_, _, err := m.HandleBracketFill(context.Background(), "trade-1", "ENTRY")
	require.Error(t, err)
}
