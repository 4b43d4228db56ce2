// Package transactions persists the ledger's transaction log.
package transactions

import (
	"context"

	"github.com/dmitrijs2005/expiryx/internal/node/models"
)

type Repository interface {
	// Insert appends tx; a known ref is common.ErrVersionConflict.
	Insert(ctx context.Context, tx models.Tx) error
	// Get returns common.ErrNotFound for an unknown ref.
	Get(ctx context.Context, ref string) (models.Tx, error)
}
