// Package dbx provides the small database/sql helpers shared by the client
// cache repositories (SQLite) and the ledger node repositories (Postgres).
package dbx

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/expiryx/internal/common"
)

// DBTX is the subset of database/sql used by the repositories.
// Both *sql.DB and *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx begins a transaction, runs fn with it, and commits on success or
// rolls back on error/panic. Panics are rethrown.
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    return permissions.NewSQLiteRepository(tx).Upsert(ctx, row, version)
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}

// ExecOne runs a statement that must touch exactly one row. Zero affected
// rows yields onZero (typically common.ErrVersionConflict or
// common.ErrNotFound).
func ExecOne(ctx context.Context, db DBTX, onZero error, query string, args ...any) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	switch {
	case n == 0:
		return onZero
	case n > 1:
		return fmt.Errorf("%w: %d rows affected", common.ErrInternal, n)
	}
	return nil
}
