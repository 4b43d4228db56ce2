package permissions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/expiryx/internal/common"
	"github.com/dmitrijs2005/expiryx/internal/dbx"
	"github.com/dmitrijs2005/expiryx/internal/permission"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
// Amounts are NUMERIC(20,0) and travel as decimal strings so the full
// uint64 range survives.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, owner, spender, amount::text, spent::text, expiry, revoked, scope, resource::text, created_at`

func (r *PostgresRepository) Upsert(ctx context.Context, p permission.Record, height int64) error {
	resource, err := resourceArg(p.Resource)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO permissions (id, owner, spender, amount, spent, expiry, revoked, scope, resource, created_at, updated_height)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8, $9::jsonb, $10, $11)
		ON CONFLICT (id)
		DO UPDATE SET
			spent = EXCLUDED.spent,
			expiry = EXCLUDED.expiry,
			revoked = EXCLUDED.revoked,
			updated_height = EXCLUDED.updated_height;
	`
	_, err = r.db.ExecContext(ctx, query,
		p.ID, p.Owner, p.Spender,
		strconv.FormatUint(p.Amount, 10), strconv.FormatUint(p.Spent, 10),
		p.Expiry.Unix(), p.Revoked, string(p.Scope), resource, p.CreatedAt.Unix(), height)
	if err != nil {
		return fmt.Errorf("failed to upsert permission: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (permission.Record, error) {
	query := `SELECT ` + selectColumns + ` FROM permissions WHERE id = $1`

	p, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return permission.Record{}, common.ErrNotFound
	}
	if err != nil {
		return permission.Record{}, fmt.Errorf("failed to get permission: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, owner string) ([]permission.Record, error) {
	return r.list(ctx, `SELECT `+selectColumns+` FROM permissions WHERE owner = $1 ORDER BY created_at, id`, owner)
}

func (r *PostgresRepository) ListBySpender(ctx context.Context, spender string) ([]permission.Record, error) {
	return r.list(ctx, `SELECT `+selectColumns+` FROM permissions WHERE spender = $1 ORDER BY created_at, id`, spender)
}

func (r *PostgresRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM permissions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count permissions: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, arg string) ([]permission.Record, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to select permissions: %w", err)
	}
	defer rows.Close()

	result := []permission.Record{}
	for rows.Next() {
		p, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (permission.Record, error) {
	var (
		p                    permission.Record
		amount, spent, scope string
		expiry, createdAt    int64
		resource             sql.NullString
	)
	if err := s.Scan(&p.ID, &p.Owner, &p.Spender, &amount, &spent, &expiry, &p.Revoked, &scope, &resource, &createdAt); err != nil {
		return p, err
	}

	var err error
	if p.Amount, err = strconv.ParseUint(amount, 10, 64); err != nil {
		return p, fmt.Errorf("%w: amount %q", common.ErrCorruptData, amount)
	}
	if p.Spent, err = strconv.ParseUint(spent, 10, 64); err != nil {
		return p, fmt.Errorf("%w: spent %q", common.ErrCorruptData, spent)
	}
	p.Scope = permission.Scope(scope)
	p.Expiry = time.Unix(expiry, 0).UTC()
	p.CreatedAt = time.Unix(createdAt, 0).UTC()

	if resource.Valid {
		var res permission.Resource
		if err := json.Unmarshal([]byte(resource.String), &res); err != nil {
			return p, fmt.Errorf("%w: resource: %v", common.ErrCorruptData, err)
		}
		p.Resource = &res
	}
	return p, nil
}

func resourceArg(res *permission.Resource) (any, error) {
	if res == nil {
		return nil, nil
	}
	b, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to encode resource: %w", err)
	}
	return string(b), nil
}
