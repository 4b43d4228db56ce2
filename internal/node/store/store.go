// Package store is the ledger node's durable state: permissions, the
// transaction log and block headers. Blocks are committed atomically.
package store

import (
	"context"

	"github.com/dmitrijs2005/expiryx/internal/node/models"
	"github.com/dmitrijs2005/expiryx/internal/permission"
)

// Store is implemented by Memory and Postgres. Lookups of unknown ids or
// refs return common.ErrNotFound.
type Store interface {
	Permission(ctx context.Context, id string) (permission.Record, error)
	ByOwner(ctx context.Context, owner string) ([]permission.Record, error)
	BySpender(ctx context.Context, spender string) ([]permission.Record, error)
	CountPermissions(ctx context.Context) (int64, error)
	Transaction(ctx context.Context, ref string) (models.Tx, error)
	Height(ctx context.Context) (int64, error)
	// Commit writes b in full or not at all.
	Commit(ctx context.Context, b models.Block) error
	Close() error
}
