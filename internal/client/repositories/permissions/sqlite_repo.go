package permissions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/expiryx/internal/client/models"
	"github.com/dmitrijs2005/expiryx/internal/codec"
	"github.com/dmitrijs2005/expiryx/internal/common"
	"github.com/dmitrijs2005/expiryx/internal/dbx"
	"github.com/dmitrijs2005/expiryx/internal/permission"
)

const selectColumns = `SELECT id, record, confirmed, pending, last_confirmed, version FROM permissions`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

var _ Repository = (*SQLiteRepository)(nil)

type row struct {
	id            string
	record        []byte
	confirmed     []byte
	pending       []byte
	lastConfirmed int64
	version       int64
}

func (r row) decode() (models.SyncEntry, error) {
	e := models.SyncEntry{Version: r.version}
	if err := codec.Unmarshal(r.record, &e.Record); err != nil {
		return e, fmt.Errorf("record: %w", err)
	}
	if e.Record.ID != r.id {
		return e, fmt.Errorf("record id %q stored under %q", e.Record.ID, r.id)
	}
	if len(r.confirmed) > 0 {
		var c permission.Record
		if err := codec.Unmarshal(r.confirmed, &c); err != nil {
			return e, fmt.Errorf("confirmed: %w", err)
		}
		e.Confirmed = &c
	}
	if len(r.pending) > 0 {
		var p models.PendingMutation
		if err := codec.Unmarshal(r.pending, &p); err != nil {
			return e, fmt.Errorf("pending: %w", err)
		}
		e.Pending = &p
	}
	if r.lastConfirmed != 0 {
		e.LastConfirmed = time.Unix(0, r.lastConfirmed).UTC()
	}
	return e, nil
}

func encode(e models.SyncEntry) (record, confirmed, pending []byte, lastConfirmed int64, err error) {
	if record, err = codec.Marshal(e.Record); err != nil {
		return
	}
	if e.Confirmed != nil {
		if confirmed, err = codec.Marshal(*e.Confirmed); err != nil {
			return
		}
	}
	if e.Pending != nil {
		if pending, err = codec.Marshal(*e.Pending); err != nil {
			return
		}
	}
	if !e.LastConfirmed.IsZero() {
		lastConfirmed = e.LastConfirmed.UnixNano()
	}
	return
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (models.SyncEntry, error) {
	var rw row
	err := r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id).
		Scan(&rw.id, &rw.record, &rw.confirmed, &rw.pending, &rw.lastConfirmed, &rw.version)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SyncEntry{}, common.ErrNotFound
	}
	if err != nil {
		return models.SyncEntry{}, fmt.Errorf("failed to get permission %s: %w", id, err)
	}

	e, err := rw.decode()
	if err != nil {
		return models.SyncEntry{}, &CorruptError{IDs: []string{id}, Err: err}
	}
	return e, nil
}

func (r *SQLiteRepository) GetAllForPrincipal(ctx context.Context, principal string) ([]models.SyncEntry, error) {
	p := permission.NormalizeAddress(principal)
	return r.query(ctx, selectColumns+` WHERE owner = ? OR spender = ? ORDER BY id`, p, p)
}

func (r *SQLiteRepository) All(ctx context.Context) ([]models.SyncEntry, error) {
	return r.query(ctx, selectColumns+` ORDER BY id`)
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]models.SyncEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select permissions: %w", err)
	}
	defer rows.Close()

	var (
		result  []models.SyncEntry
		badIDs  []string
		badErrs []error
	)
	for rows.Next() {
		var rw row
		if err := rows.Scan(&rw.id, &rw.record, &rw.confirmed, &rw.pending, &rw.lastConfirmed, &rw.version); err != nil {
			return nil, fmt.Errorf("failed to scan permission row: %w", err)
		}
		e, err := rw.decode()
		if err != nil {
			badIDs, badErrs = append(badIDs, rw.id), append(badErrs, err)
			continue
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permission rows: %w", err)
	}
	return result, corrupt(badIDs, badErrs)
}

func (r *SQLiteRepository) Upsert(ctx context.Context, e models.SyncEntry, expected int64) (models.SyncEntry, error) {
	record, confirmed, pending, lastConfirmed, err := encode(e)
	if err != nil {
		return models.SyncEntry{}, fmt.Errorf("failed to encode permission %s: %w", e.ID(), err)
	}

	if expected == 0 {
		err = dbx.ExecOne(ctx, r.db, common.ErrVersionConflict, `
			INSERT INTO permissions (id, owner, spender, record, confirmed, pending, last_confirmed, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT(id) DO NOTHING`,
			e.ID(), e.Record.Owner, e.Record.Spender, record, confirmed, pending, lastConfirmed)
	} else {
		err = dbx.ExecOne(ctx, r.db, common.ErrVersionConflict, `
			UPDATE permissions
			SET owner = ?, spender = ?, record = ?, confirmed = ?, pending = ?, last_confirmed = ?, version = version + 1
			WHERE id = ? AND version = ?`,
			e.Record.Owner, e.Record.Spender, record, confirmed, pending, lastConfirmed, e.ID(), expected)
	}
	if errors.Is(err, common.ErrVersionConflict) {
		return models.SyncEntry{}, err
	}
	if err != nil {
		return models.SyncEntry{}, fmt.Errorf("failed to upsert permission %s: %w", e.ID(), err)
	}

	e.Version = expected + 1
	return e, nil
}

func (r *SQLiteRepository) RemoveVersion(ctx context.Context, id string, expected int64) error {
	err := dbx.ExecOne(ctx, r.db, common.ErrVersionConflict, `DELETE FROM permissions WHERE id = ? AND version = ?`, id, expected)
	if err != nil && !errors.Is(err, common.ErrVersionConflict) {
		return fmt.Errorf("failed to remove permission %s: %w", id, err)
	}
	return err
}

func (r *SQLiteRepository) Remove(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM permissions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove permission %s: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM permissions`); err != nil {
		return fmt.Errorf("failed to clear permissions: %w", err)
	}
	return nil
}
