package cache

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrijs2005/expiryx/internal/client/migrations"
	"github.com/dmitrijs2005/expiryx/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/expiryx/internal/client/repositories/permissions"
	"github.com/dmitrijs2005/expiryx/internal/dbx"

	_ "modernc.org/sqlite"
)

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type Config struct {
	Backend string
	// DSN of the SQLite database file.
	DSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Backend is an opened storage with its repositories.
type Backend struct {
	Permissions permissions.Repository
	Metadata    metadata.Repository

	// atomic runs fn against repositories that commit together where the
	// storage supports it.
	atomic func(ctx context.Context, fn func(p permissions.Repository, m metadata.Repository) error) error
	close  func() error
}

func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// Open connects the configured backend and prepares its schema.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	switch cfg.Backend {
	case BackendSQLite, "":
		db, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := RunMigrations(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate cache database: %w", err)
		}
		return NewSQLiteBackend(db), nil

	case BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		b := NewRedisBackend(rdb, cfg.RedisPrefix)
		b.close = rdb.Close
		return b, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}

// NewSQLiteBackend wraps a migrated database. The caller keeps ownership
// of db unless it closes the backend.
func NewSQLiteBackend(db *sql.DB) *Backend {
	return &Backend{
		Permissions: permissions.NewSQLiteRepository(db),
		Metadata:    metadata.NewSQLiteRepository(db),
		atomic: func(ctx context.Context, fn func(permissions.Repository, metadata.Repository) error) error {
			return dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
				return fn(permissions.NewSQLiteRepository(tx), metadata.NewSQLiteRepository(tx))
			})
		},
		close: db.Close,
	}
}

func NewRedisBackend(rdb redis.UniversalClient, prefix string) *Backend {
	b := &Backend{
		Permissions: permissions.NewRedisRepository(rdb, prefix),
		Metadata:    metadata.NewRedisRepository(rdb, prefix),
	}
	b.atomic = func(ctx context.Context, fn func(permissions.Repository, metadata.Repository) error) error {
		return fn(b.Permissions, b.Metadata)
	}
	return b
}
