package closure

import (
	"context"

	"gorm.io/gorm"

	"github.com/web3guy0/execengine/storage"
)

// coordinator wraps a single gorm transaction, giving the closure
// multi-write a named component rather than inlining db.Transaction
// directly in Service.Close.
type coordinator struct {
	store *storage.Database
}

func newCoordinator(store *storage.Database) *coordinator {
	return &coordinator{store: store}
}

// Commit runs fn inside a single atomic unit; all writes inside fn
// commit together or roll back together.
func (c *coordinator) Commit(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return c.store.Transaction(ctx, fn)
}
