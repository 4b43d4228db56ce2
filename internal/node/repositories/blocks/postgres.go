package blocks

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/expiryx/internal/common"
	"github.com/dmitrijs2005/expiryx/internal/dbx"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert fails with common.ErrVersionConflict when the height is taken.
func (r *PostgresRepository) Insert(ctx context.Context, height int64, producedAt time.Time, txCount int) error {
	query := `INSERT INTO blocks (height, produced_at, tx_count) VALUES ($1, $2, $3) ON CONFLICT (height) DO NOTHING`
	if err := dbx.ExecOne(ctx, r.db, common.ErrVersionConflict, query, height, producedAt.UTC(), txCount); err != nil {
		return fmt.Errorf("failed to insert block %d: %w", height, err)
	}
	return nil
}

func (r *PostgresRepository) Height(ctx context.Context) (int64, error) {
	var h int64
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(height), 0) FROM blocks`).Scan(&h); err != nil {
		return 0, fmt.Errorf("failed to read height: %w", err)
	}
	return h, nil
}
