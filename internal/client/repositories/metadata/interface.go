// Package metadata stores small client-wide values: the cache schema
// version, the wallet keystore and per-principal sync stamps.
package metadata

import (
	"context"
	"strconv"
	"time"
)

const (
	KeySchemaVersion = "schema_version"
	KeyKeystore      = "keystore"
	keyLastSyncAt    = "last_sync_at:"
)

// KeyLastSyncAt is the key of the last successful sync of principal.
func KeyLastSyncAt(principal string) string {
	return keyLastSyncAt + principal
}

// Repository is a byte-valued key/value store. Get returns (nil, nil) for
// a missing key.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error
}

// GetTime reads a unix-nanosecond stamp; zero when missing.
func GetTime(ctx context.Context, r Repository, key string) (time.Time, error) {
	v, err := r.Get(ctx, key)
	if err != nil || v == nil {
		return time.Time{}, err
	}
	n, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return time.Time{}, nil
	}
	return time.Unix(0, n).UTC(), nil
}

func SetTime(ctx context.Context, r Repository, key string, t time.Time) error {
	return r.Set(ctx, key, []byte(strconv.FormatInt(t.UnixNano(), 10)))
}
