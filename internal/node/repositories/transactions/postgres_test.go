package transactions

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/expiryx/internal/codec"
	"github.com/dmitrijs2005/expiryx/internal/common"
	"github.com/dmitrijs2005/expiryx/internal/node/models"
	"github.com/dmitrijs2005/expiryx/internal/permission"
	"github.com/dmitrijs2005/expiryx/internal/txn"
)

var at = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock, db
}

func sampleTx() models.Tx {
	r := permission.Record{ID: "p-1", Owner: "0xa11ce", Spender: "0xb0b", Amount: 10, Expiry: at.Add(time.Hour), Scope: permission.ScopeView, CreatedAt: at}
	return models.Tx{
		Ref: "0xabc", Kind: txn.KindGrant, Sender: "0xa11ce", PermissionID: "p-1",
		Payload: []byte{0xa1}, State: models.TxSuccess, Height: 4, Result: &r, SubmittedAt: at,
	}
}

func TestInsert(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)
	tx := sampleTx()
	result, err := codec.Marshal(tx.Result)
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO transactions .* ON CONFLICT \(ref\) DO NOTHING`).
		WithArgs("0xabc", "grant", "0xa11ce", "p-1", []byte{0xa1}, "success", "", int64(4), result, at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Insert(context.Background(), tx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_DuplicateRef(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectExec(`INSERT INTO transactions`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Insert(context.Background(), sampleTx())
	assert.ErrorIs(t, err, common.ErrVersionConflict)
}

func TestGet(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)
	want := sampleTx()
	result, err := codec.Marshal(want.Result)
	require.NoError(t, err)

	cols := []string{"ref", "kind", "sender", "permission_id", "payload", "state", "reason", "height", "result", "submitted_at"}
	mock.ExpectQuery(`SELECT .* FROM transactions WHERE ref = \$1`).
		WithArgs("0xabc").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("0xabc", "grant", "0xa11ce", "p-1", []byte{0xa1}, "success", "", int64(4), result, at))
	mock.ExpectQuery(`SELECT .* FROM transactions`).
		WithArgs("0xdead").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("0xdead", "spend", "0xb0b", "p-1", []byte{0xa1}, "rejected", "permission_expired", int64(5), nil, at))
	mock.ExpectQuery(`SELECT .* FROM transactions`).
		WithArgs("0xnone").
		WillReturnError(sql.ErrNoRows)

	got, err := repo.Get(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	rejected, err := repo.Get(context.Background(), "0xdead")
	require.NoError(t, err)
	assert.Nil(t, rejected.Result)
	assert.Equal(t, "permission_expired", rejected.Reason)

	_, err = repo.Get(context.Background(), "0xnone")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}
