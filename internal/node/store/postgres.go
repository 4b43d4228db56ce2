package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/expiryx/internal/dbx"
	"github.com/dmitrijs2005/expiryx/internal/node/models"
	"github.com/dmitrijs2005/expiryx/internal/node/repositories/repomanager"
	"github.com/dmitrijs2005/expiryx/internal/permission"
)

// Postgres is the durable Store. Reads go straight to the pool, Commit
// runs in one serializable transaction.
type Postgres struct {
	db    *sql.DB
	repos repomanager.RepositoryManager
}

// OpenPostgres connects with the pgx driver and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	s := NewPostgres(db, repomanager.NewPostgresRepositoryManager())
	if err := s.repos.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	return s, nil
}

func NewPostgres(db *sql.DB, repos repomanager.RepositoryManager) *Postgres {
	return &Postgres{db: db, repos: repos}
}

func (s *Postgres) Permission(ctx context.Context, id string) (permission.Record, error) {
	return s.repos.Permissions(s.db).Get(ctx, id)
}

func (s *Postgres) ByOwner(ctx context.Context, owner string) ([]permission.Record, error) {
	return s.repos.Permissions(s.db).ListByOwner(ctx, owner)
}

func (s *Postgres) BySpender(ctx context.Context, spender string) ([]permission.Record, error) {
	return s.repos.Permissions(s.db).ListBySpender(ctx, spender)
}

func (s *Postgres) CountPermissions(ctx context.Context) (int64, error) {
	return s.repos.Permissions(s.db).Count(ctx)
}

func (s *Postgres) Transaction(ctx context.Context, ref string) (models.Tx, error) {
	return s.repos.Transactions(s.db).Get(ctx, ref)
}

func (s *Postgres) Height(ctx context.Context) (int64, error) {
	return s.repos.Blocks(s.db).Height(ctx)
}

func (s *Postgres) Commit(ctx context.Context, b models.Block) error {
	return dbx.WithTx(ctx, s.db, &sql.TxOptions{Isolation: sql.LevelSerializable}, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repos.Blocks(tx).Insert(ctx, b.Height, b.ProducedAt, len(b.Txs)); err != nil {
			return err
		}
		for _, r := range b.Permissions {
			if err := s.repos.Permissions(tx).Upsert(ctx, r, b.Height); err != nil {
				return err
			}
		}
		for _, t := range b.Txs {
			if err := s.repos.Transactions(tx).Insert(ctx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Postgres) Close() error {
	return s.db.Close()
}
