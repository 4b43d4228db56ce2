package transactions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/expiryx/internal/codec"
	"github.com/dmitrijs2005/expiryx/internal/common"
	"github.com/dmitrijs2005/expiryx/internal/dbx"
	"github.com/dmitrijs2005/expiryx/internal/node/models"
	"github.com/dmitrijs2005/expiryx/internal/permission"
	"github.com/dmitrijs2005/expiryx/internal/txn"
)

// PostgresRepository implements Repository over a dbx.DBTX. The resulting
// permission is kept as a CBOR blob.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, tx models.Tx) error {
	var result []byte
	if tx.Result != nil {
		b, err := codec.Marshal(tx.Result)
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		result = b
	}

	query := `
		INSERT INTO transactions (ref, kind, sender, permission_id, payload, state, reason, height, result, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (ref) DO NOTHING;
	`
	err := dbx.ExecOne(ctx, r.db, common.ErrVersionConflict, query,
		tx.Ref, string(tx.Kind), tx.Sender, tx.PermissionID, tx.Payload,
		tx.State, tx.Reason, tx.Height, result, tx.SubmittedAt.UTC())
	if errors.Is(err, common.ErrVersionConflict) {
		return fmt.Errorf("transaction %s: %w", tx.Ref, err)
	}
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, ref string) (models.Tx, error) {
	query := `SELECT ref, kind, sender, permission_id, payload, state, reason, height, result, submitted_at
		FROM transactions WHERE ref = $1`

	var (
		tx     models.Tx
		kind   string
		result []byte
	)
	err := r.db.QueryRowContext(ctx, query, ref).Scan(
		&tx.Ref, &kind, &tx.Sender, &tx.PermissionID, &tx.Payload,
		&tx.State, &tx.Reason, &tx.Height, &result, &tx.SubmittedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Tx{}, common.ErrNotFound
	}
	if err != nil {
		return models.Tx{}, fmt.Errorf("failed to get transaction: %w", err)
	}
	tx.Kind = txn.Kind(kind)
	tx.SubmittedAt = tx.SubmittedAt.UTC()

	if len(result) > 0 {
		var p permission.Record
		if err := codec.Unmarshal(result, &p); err != nil {
			return models.Tx{}, fmt.Errorf("%w: transaction result: %v", common.ErrCorruptData, err)
		}
		tx.Result = &p
	}
	return tx, nil
}
