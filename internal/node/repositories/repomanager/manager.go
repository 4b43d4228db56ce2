package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/expiryx/internal/dbx"
	"github.com/dmitrijs2005/expiryx/internal/node/repositories/blocks"
	"github.com/dmitrijs2005/expiryx/internal/node/repositories/permissions"
	"github.com/dmitrijs2005/expiryx/internal/node/repositories/transactions"
)

// RepositoryManager vends repositories bound to a connection or a
// transaction, so one block can be written through all of them atomically.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Permissions(db dbx.DBTX) permissions.Repository
	Transactions(db dbx.DBTX) transactions.Repository
	Blocks(db dbx.DBTX) blocks.Repository
}
