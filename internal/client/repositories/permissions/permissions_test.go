package permissions

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/expiryx/internal/client/models"
	"github.com/dmitrijs2005/expiryx/internal/common"
	"github.com/dmitrijs2005/expiryx/internal/permission"

	_ "modernc.org/sqlite"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const schema = `
CREATE TABLE permissions (
  id             TEXT PRIMARY KEY,
  owner          TEXT NOT NULL,
  spender        TEXT NOT NULL,
  record         BLOB NOT NULL,
  confirmed      BLOB,
  pending        BLOB,
  last_confirmed INTEGER NOT NULL DEFAULT 0,
  version        INTEGER NOT NULL
);`

type backend struct {
	repo Repository
	// corrupt stores an undecodable value for id owned by owner.
	corrupt func(t *testing.T, id, owner string)
}

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(schema)
	require.NoError(t, err)
	return db
}

func backends(t *testing.T) map[string]backend {
	db := setupDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return map[string]backend{
		"sqlite": {
			repo: NewSQLiteRepository(db),
			corrupt: func(t *testing.T, id, owner string) {
				_, err := db.Exec(`INSERT INTO permissions (id, owner, spender, record, version) VALUES (?, ?, '0xdead', x'ff00', 1)`, id, owner)
				require.NoError(t, err)
			},
		},
		"redis": {
			repo: NewRedisRepository(rdb, "t:"),
			corrupt: func(t *testing.T, id, owner string) {
				require.NoError(t, mr.Set("t:perm:"+id, "\xff\x00"))
				_, err := mr.SAdd("t:owner:"+owner, id)
				require.NoError(t, err)
				_, err = mr.SAdd("t:perm-ids", id)
				require.NoError(t, err)
			},
		},
	}
}

func entry(id, owner, spender string) models.SyncEntry {
	r := permission.Record{
		ID: id, Owner: owner, Spender: spender, Amount: 100,
		Expiry: now.Add(time.Hour), Scope: permission.ScopeView, CreatedAt: now,
	}
	return models.SyncEntry{Record: r, Confirmed: &r, LastConfirmed: now}
}

func TestUpsert_CompareAndSet(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := b.repo

			e := entry("p1", "0xa", "0xb")
			e.Record.Resource = &permission.Resource{Name: "a.pdf", Size: 3}
			e.Pending = &models.PendingMutation{Intent: models.IntentSpend, Amount: 5, SubmittedAt: now}

			v1, err := r.Upsert(ctx, e, 0)
			require.NoError(t, err)
			assert.EqualValues(t, 1, v1.Version)

			_, err = r.Upsert(ctx, e, 0)
			require.ErrorIs(t, err, common.ErrVersionConflict)

			got, err := r.Get(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, v1, got)

			next := got.Confirm(got.Record, now.Add(time.Minute))
			next.Record.Spent = 5
			v2, err := r.Upsert(ctx, next, 1)
			require.NoError(t, err)
			assert.EqualValues(t, 2, v2.Version)

			_, err = r.Upsert(ctx, next, 1)
			require.ErrorIs(t, err, common.ErrVersionConflict)
			_, err = r.Upsert(ctx, entry("ghost", "0xa", "0xb"), 3)
			require.ErrorIs(t, err, common.ErrVersionConflict)

			got, err = r.Get(ctx, "p1")
			require.NoError(t, err)
			assert.Nil(t, got.Pending)
			assert.EqualValues(t, 5, got.Record.Spent)
			assert.Equal(t, now.Add(time.Minute), got.LastConfirmed)
		})
	}
}

func TestUpsert_ConcurrentWritersOneWins(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base, err := b.repo.Upsert(ctx, entry("p1", "0xa", "0xb"), 0)
			require.NoError(t, err)

			const writers = 8
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins int
			)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(spent uint64) {
					defer wg.Done()
					e := base.Clone()
					e.Record.Spent = spent
					_, err := b.repo.Upsert(ctx, e, base.Version)
					if err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
						return
					}
					assert.ErrorIs(t, err, common.ErrVersionConflict)
				}(uint64(i + 1))
			}
			wg.Wait()
			assert.Equal(t, 1, wins)

			got, err := b.repo.Get(ctx, "p1")
			require.NoError(t, err)
			assert.EqualValues(t, 2, got.Version)
		})
	}
}

func TestGetAllForPrincipal(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, e := range []models.SyncEntry{
				entry("c", "0xa", "0xb"),
				entry("a", "0xb", "0xa"),
				entry("b", "0xc", "0xd"),
			} {
				_, err := b.repo.Upsert(ctx, e, 0)
				require.NoError(t, err)
			}

			got, err := b.repo.GetAllForPrincipal(ctx, "0xA")
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "a", got[0].ID())
			assert.Equal(t, "c", got[1].ID())

			all, err := b.repo.All(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 3)
		})
	}
}

func TestRemove(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e, err := b.repo.Upsert(ctx, entry("p1", "0xa", "0xb"), 0)
			require.NoError(t, err)

			require.ErrorIs(t, b.repo.RemoveVersion(ctx, "p1", e.Version+1), common.ErrVersionConflict)
			require.NoError(t, b.repo.RemoveVersion(ctx, "p1", e.Version))
			_, err = b.repo.Get(ctx, "p1")
			require.ErrorIs(t, err, common.ErrNotFound)

			got, err := b.repo.GetAllForPrincipal(ctx, "0xa")
			require.NoError(t, err)
			assert.Empty(t, got)

			_, err = b.repo.Upsert(ctx, entry("p2", "0xa", "0xb"), 0)
			require.NoError(t, err)
			require.NoError(t, b.repo.Remove(ctx, "p2"))
			require.NoError(t, b.repo.Remove(ctx, "p2"))

			_, err = b.repo.Upsert(ctx, entry("p3", "0xa", "0xb"), 0)
			require.NoError(t, err)
			require.NoError(t, b.repo.Clear(ctx))
			all, err := b.repo.All(ctx)
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestCorruptRows(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := b.repo.Upsert(ctx, entry("good", "0xa", "0xb"), 0)
			require.NoError(t, err)
			b.corrupt(t, "bad", "0xa")

			_, err = b.repo.Get(ctx, "bad")
			require.ErrorIs(t, err, common.ErrCorruptData)

			got, err := b.repo.GetAllForPrincipal(ctx, "0xa")
			var ce *CorruptError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, []string{"bad"}, ce.IDs)
			require.Len(t, got, 1)
			assert.Equal(t, "good", got[0].ID())

			require.NoError(t, b.repo.Remove(ctx, "bad"))
			_, err = b.repo.GetAllForPrincipal(ctx, "0xa")
			require.NoError(t, err)
		})
	}
}
