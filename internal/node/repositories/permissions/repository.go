// Package permissions persists the ledger's permission state.
package permissions

import (
	"context"

	"github.com/dmitrijs2005/expiryx/internal/permission"
)

// Repository stores the current state of every permission. Records are
// never deleted.
type Repository interface {
	// Upsert writes r as changed at block height.
	Upsert(ctx context.Context, r permission.Record, height int64) error
	// Get returns common.ErrNotFound for an unknown id.
	Get(ctx context.Context, id string) (permission.Record, error)
	ListByOwner(ctx context.Context, owner string) ([]permission.Record, error)
	ListBySpender(ctx context.Context, spender string) ([]permission.Record, error)
	Count(ctx context.Context) (int64, error)
}
