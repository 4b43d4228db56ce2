// Package cache is the local durable mirror of ledger state. It owns the
// single recovery path for bad data: undecodable entries are dropped and
// reported so they can be refetched from the ledger, and a schema version
// mismatch clears the cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/dmitrijs2005/expiryx/internal/client/models"
	"github.com/dmitrijs2005/expiryx/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/expiryx/internal/client/repositories/permissions"
	"github.com/dmitrijs2005/expiryx/internal/common"
	"github.com/dmitrijs2005/expiryx/internal/logging"
	"github.com/dmitrijs2005/expiryx/internal/permission"
)

// SchemaVersion changes whenever the encoding of cached entries changes.
const SchemaVersion = "1"

// maxUpdateAttempts bounds the retries of Update under contention.
const maxUpdateAttempts = 16

// ErrNoChange, returned by an Update callback, leaves the entry untouched.
var ErrNoChange = errors.New("no change")

type Store struct {
	backend *Backend
	repo    permissions.Repository
	log     logging.Logger

	mu        sync.RWMutex
	onCorrupt func(ids []string)
}

func New(b *Backend, log logging.Logger) *Store {
	if log == nil {
		log = logging.Nop()
	}
	return &Store{backend: b, repo: b.Permissions, log: log.With("module", "cache")}
}

// OnCorrupt registers fn to be told about entries dropped as corrupt.
func (s *Store) OnCorrupt(fn func(ids []string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCorrupt = fn
}

// Init clears the cache when it was written by another schema version.
func (s *Store) Init(ctx context.Context) error {
	v, err := s.backend.Metadata.Get(ctx, metadata.KeySchemaVersion)
	if err != nil {
		return err
	}
	if string(v) == SchemaVersion {
		return nil
	}
	s.log.Warn(ctx, "cache schema changed, clearing", "found", string(v), "want", SchemaVersion)
	return s.Reset(ctx)
}

// Reset drops every entry and stamps the current schema version.
func (s *Store) Reset(ctx context.Context) error {
	return s.backend.atomic(ctx, func(p permissions.Repository, m metadata.Repository) error {
		if err := p.Clear(ctx); err != nil {
			return err
		}
		return m.Set(ctx, metadata.KeySchemaVersion, []byte(SchemaVersion))
	})
}

// recover drops the entries named by a corrupt-data error and reports
// them. Other errors are returned unchanged.
func (s *Store) recover(ctx context.Context, err error) error {
	var ce *permissions.CorruptError
	if !errors.As(err, &ce) {
		return err
	}
	for _, id := range ce.IDs {
		if rerr := s.repo.Remove(ctx, id); rerr != nil {
			return rerr
		}
	}
	s.log.Warn(ctx, "dropped corrupt cache entries", "ids", ce.IDs, "error", ce.Err)

	s.mu.RLock()
	fn := s.onCorrupt
	s.mu.RUnlock()
	if fn != nil {
		fn(ce.IDs)
	}
	return nil
}

// Get returns common.ErrNotFound for a missing or dropped entry.
func (s *Store) Get(ctx context.Context, id string) (models.SyncEntry, error) {
	e, err := s.repo.Get(ctx, id)
	if err == nil {
		return e, nil
	}
	if rerr := s.recover(ctx, err); rerr != nil {
		return models.SyncEntry{}, rerr
	}
	return models.SyncEntry{}, common.ErrNotFound
}

func (s *Store) GetAllForPrincipal(ctx context.Context, principal string) ([]models.SyncEntry, error) {
	es, err := s.repo.GetAllForPrincipal(ctx, principal)
	if err != nil {
		if rerr := s.recover(ctx, err); rerr != nil {
			return nil, rerr
		}
	}
	return es, nil
}

func (s *Store) All(ctx context.Context) ([]models.SyncEntry, error) {
	es, err := s.repo.All(ctx)
	if err != nil {
		if rerr := s.recover(ctx, err); rerr != nil {
			return nil, rerr
		}
	}
	return es, nil
}

// Upsert is a compare-and-set on the entry version; see
// permissions.Repository.
func (s *Store) Upsert(ctx context.Context, e models.SyncEntry, expected int64) (models.SyncEntry, error) {
	out, err := s.repo.Upsert(ctx, e, expected)
	if err != nil && errors.Is(err, common.ErrCorruptData) {
		if rerr := s.recover(ctx, err); rerr != nil {
			return models.SyncEntry{}, rerr
		}
		return models.SyncEntry{}, common.ErrVersionConflict
	}
	return out, err
}

func (s *Store) Remove(ctx context.Context, id string) error {
	return s.repo.Remove(ctx, id)
}

// RemoveVersion deletes id if it still has version expected.
func (s *Store) RemoveVersion(ctx context.Context, id string, expected int64) error {
	return s.repo.RemoveVersion(ctx, id, expected)
}

// Update atomically replaces the entry id with fn's result. fn receives nil
// when there is no entry, may return nil to delete it, or ErrNoChange to
// leave it. fn is re-run when a concurrent writer wins the race. The
// second result is false when no entry exists afterwards.
func (s *Store) Update(ctx context.Context, id string, fn func(cur *models.SyncEntry) (*models.SyncEntry, error)) (models.SyncEntry, bool, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		var (
			cur      *models.SyncEntry
			expected int64
		)
		e, err := s.Get(ctx, id)
		switch {
		case err == nil:
			c := e.Clone()
			cur, expected = &c, e.Version
		case !errors.Is(err, common.ErrNotFound):
			return models.SyncEntry{}, false, err
		}

		next, err := fn(cur)
		if errors.Is(err, ErrNoChange) {
			if cur == nil {
				return models.SyncEntry{}, false, nil
			}
			return e, true, nil
		}
		if err != nil {
			return models.SyncEntry{}, false, err
		}

		if next == nil {
			if cur == nil {
				return models.SyncEntry{}, false, nil
			}
			err = s.repo.RemoveVersion(ctx, id, expected)
			if err == nil {
				return models.SyncEntry{}, false, nil
			}
		} else {
			if next.ID() != id {
				return models.SyncEntry{}, false, fmt.Errorf("%w: update of %s returned %s", common.ErrInternal, id, next.ID())
			}
			var stored models.SyncEntry
			stored, err = s.Upsert(ctx, *next, expected)
			if err == nil {
				return stored, true, nil
			}
		}
		if !errors.Is(err, common.ErrVersionConflict) {
			return models.SyncEntry{}, false, err
		}
	}
	return models.SyncEntry{}, false, fmt.Errorf("update %s: %w", id, common.ErrVersionConflict)
}

// Prune drops settled entries in a terminal state whose end lies more than
// olderThan before now. Expired entries end at their expiry, revoked and
// fully spent ones at their last confirmation.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration, now time.Time) (int, error) {
	all, err := s.All(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := now.Add(-olderThan)

	pruned := 0
	for _, e := range all {
		if e.IsPending() {
			continue
		}
		var end time.Time
		switch e.Record.Status(now) {
		case permission.StatusActive:
			continue
		case permission.StatusExpired:
			end = e.Record.Expiry
		default:
			end = e.LastConfirmed
		}
		if !end.Before(cutoff) {
			continue
		}
		err := s.repo.RemoveVersion(ctx, e.ID(), e.Version)
		if errors.Is(err, common.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return pruned, err
		}
		pruned++
	}
	if pruned > 0 {
		s.log.Info(ctx, "pruned cache entries", "count", pruned)
	}
	return pruned, nil
}

// Export writes every entry as zstd-compressed JSON lines and returns how
// many were written.
func (s *Store) Export(ctx context.Context, w io.Writer) (int, error) {
	all, err := s.All(ctx)
	if err != nil {
		return 0, err
	}

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return 0, fmt.Errorf("failed to start export: %w", err)
	}
	enc := json.NewEncoder(zw)
	for _, e := range all {
		if err := enc.Encode(e); err != nil {
			_ = zw.Close()
			return 0, fmt.Errorf("failed to export %s: %w", e.ID(), err)
		}
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("failed to finish export: %w", err)
	}
	return len(all), nil
}

// ReadExport decodes an archive written by Export.
func ReadExport(r io.Reader) ([]models.SyncEntry, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var out []models.SyncEntry
	dec := json.NewDecoder(zr)
	for {
		var e models.SyncEntry
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read export: %w", err)
		}
		out = append(out, e)
	}
}

// MarkSynced stamps the last successful sync of principal.
func (s *Store) MarkSynced(ctx context.Context, principal string, at time.Time) error {
	return metadata.SetTime(ctx, s.backend.Metadata, metadata.KeyLastSyncAt(principal), at)
}

func (s *Store) LastSynced(ctx context.Context, principal string) (time.Time, error) {
	return metadata.GetTime(ctx, s.backend.Metadata, metadata.KeyLastSyncAt(principal))
}

// Metadata exposes the key/value store sharing the cache storage.
func (s *Store) Metadata() metadata.Repository {
	return s.backend.Metadata
}
