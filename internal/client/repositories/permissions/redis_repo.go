package permissions

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrijs2005/expiryx/internal/client/models"
	"github.com/dmitrijs2005/expiryx/internal/codec"
	"github.com/dmitrijs2005/expiryx/internal/common"
	"github.com/dmitrijs2005/expiryx/internal/permission"
)

// RedisRepository stores each entry as one CBOR value and keeps id sets per
// owner and spender. Compare-and-set runs under WATCH on the entry key.
type RedisRepository struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisRepository(rdb redis.UniversalClient, prefix string) *RedisRepository {
	return &RedisRepository{rdb: rdb, prefix: prefix}
}

var _ Repository = (*RedisRepository)(nil)

func (r *RedisRepository) entryKey(id string) string { return r.prefix + "perm:" + id }
func (r *RedisRepository) allKey() string            { return r.prefix + "perm-ids" }
func (r *RedisRepository) ownerKey(a string) string  { return r.prefix + "owner:" + a }
func (r *RedisRepository) spenderKey(a string) string {
	return r.prefix + "spender:" + a
}

func decodeEntry(id string, data []byte) (models.SyncEntry, error) {
	var e models.SyncEntry
	if err := codec.Unmarshal(data, &e); err != nil {
		return e, err
	}
	if e.Record.ID != id {
		return e, fmt.Errorf("record id %q stored under %q", e.Record.ID, id)
	}
	if e.Version <= 0 {
		return e, fmt.Errorf("invalid version %d", e.Version)
	}
	return e, nil
}

func (r *RedisRepository) Get(ctx context.Context, id string) (models.SyncEntry, error) {
	data, err := r.rdb.Get(ctx, r.entryKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.SyncEntry{}, common.ErrNotFound
	}
	if err != nil {
		return models.SyncEntry{}, fmt.Errorf("failed to get permission %s: %w", id, err)
	}
	e, err := decodeEntry(id, data)
	if err != nil {
		return models.SyncEntry{}, &CorruptError{IDs: []string{id}, Err: err}
	}
	return e, nil
}

func (r *RedisRepository) GetAllForPrincipal(ctx context.Context, principal string) ([]models.SyncEntry, error) {
	p := permission.NormalizeAddress(principal)
	ids, err := r.rdb.SUnion(ctx, r.ownerKey(p), r.spenderKey(p)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to select permissions: %w", err)
	}
	entries, err := r.load(ctx, ids)
	out := entries[:0]
	for _, e := range entries {
		if e.Record.Involves(p) {
			out = append(out, e)
		}
	}
	return out, err
}

func (r *RedisRepository) All(ctx context.Context) ([]models.SyncEntry, error) {
	ids, err := r.rdb.SMembers(ctx, r.allKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to select permissions: %w", err)
	}
	return r.load(ctx, ids)
}

// load fetches ids in id order. Ids whose value is gone are skipped; index
// sets may lag behind removals.
func (r *RedisRepository) load(ctx context.Context, ids []string) ([]models.SyncEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.entryKey(id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to select permissions: %w", err)
	}

	var (
		result  []models.SyncEntry
		badIDs  []string
		badErrs []error
	)
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		e, err := decodeEntry(ids[i], []byte(s))
		if err != nil {
			badIDs, badErrs = append(badIDs, ids[i]), append(badErrs, err)
			continue
		}
		result = append(result, e)
	}
	return result, corrupt(badIDs, badErrs)
}

func (r *RedisRepository) Upsert(ctx context.Context, e models.SyncEntry, expected int64) (models.SyncEntry, error) {
	id := e.ID()
	key := r.entryKey(id)
	e.Version = expected + 1
	data, err := codec.Marshal(e)
	if err != nil {
		return models.SyncEntry{}, fmt.Errorf("failed to encode permission %s: %w", id, err)
	}

	err = r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if expected != 0 {
				return common.ErrVersionConflict
			}
		case err != nil:
			return err
		default:
			stored, err := decodeEntry(id, cur)
			if err != nil {
				return &CorruptError{IDs: []string{id}, Err: err}
			}
			if stored.Version != expected {
				return common.ErrVersionConflict
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, r.allKey(), id)
			pipe.SAdd(ctx, r.ownerKey(e.Record.Owner), id)
			pipe.SAdd(ctx, r.spenderKey(e.Record.Spender), id)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return e, nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, common.ErrVersionConflict):
		return models.SyncEntry{}, common.ErrVersionConflict
	case errors.Is(err, common.ErrCorruptData):
		return models.SyncEntry{}, err
	default:
		return models.SyncEntry{}, fmt.Errorf("failed to upsert permission %s: %w", id, err)
	}
}

func (r *RedisRepository) RemoveVersion(ctx context.Context, id string, expected int64) error {
	key := r.entryKey(id)
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return common.ErrVersionConflict
		}
		if err != nil {
			return err
		}
		stored, err := decodeEntry(id, cur)
		if err != nil || stored.Version != expected {
			return common.ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			r.unlink(ctx, pipe, id, stored.Record)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, common.ErrVersionConflict):
		return common.ErrVersionConflict
	default:
		return fmt.Errorf("failed to remove permission %s: %w", id, err)
	}
}

func (r *RedisRepository) Remove(ctx context.Context, id string) error {
	var rec permission.Record
	if data, err := r.rdb.Get(ctx, r.entryKey(id)).Bytes(); err == nil {
		if e, err := decodeEntry(id, data); err == nil {
			rec = e.Record
		}
	}
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		r.unlink(ctx, pipe, id, rec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove permission %s: %w", id, err)
	}
	return nil
}

func (r *RedisRepository) unlink(ctx context.Context, pipe redis.Pipeliner, id string, rec permission.Record) {
	pipe.Del(ctx, r.entryKey(id))
	pipe.SRem(ctx, r.allKey(), id)
	if rec.Owner != "" {
		pipe.SRem(ctx, r.ownerKey(rec.Owner), id)
	}
	if rec.Spender != "" {
		pipe.SRem(ctx, r.spenderKey(rec.Spender), id)
	}
}

func (r *RedisRepository) Clear(ctx context.Context) error {
	for _, pattern := range []string{r.prefix + "perm:*", r.prefix + "owner:*", r.prefix + "spender:*"} {
		iter := r.rdb.Scan(ctx, 0, pattern, 256).Iterator()
		for iter.Next(ctx) {
			if err := r.rdb.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("failed to clear permissions: %w", err)
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to clear permissions: %w", err)
		}
	}
	if err := r.rdb.Del(ctx, r.allKey()).Err(); err != nil {
		return fmt.Errorf("failed to clear permissions: %w", err)
	}
	return nil
}
