// Package permissions persists the cached sync state of permissions. Every
// write is a compare-and-set on the entry version.
package permissions

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/expiryx/internal/client/models"
	"github.com/dmitrijs2005/expiryx/internal/common"
)

// Repository is the storage contract of the local cache.
//
// Upsert stores e if the stored version equals expected (0: the entry must
// not exist) and returns it with the new version. A mismatch yields
// common.ErrVersionConflict. Reads of undecodable rows return a
// *CorruptError.
type Repository interface {
	Get(ctx context.Context, id string) (models.SyncEntry, error)
	GetAllForPrincipal(ctx context.Context, principal string) ([]models.SyncEntry, error)
	All(ctx context.Context) ([]models.SyncEntry, error)
	Upsert(ctx context.Context, e models.SyncEntry, expected int64) (models.SyncEntry, error)
	// RemoveVersion deletes id only if its version still equals expected.
	RemoveVersion(ctx context.Context, id string, expected int64) error
	// Remove deletes id unconditionally; a missing id is not an error.
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// CorruptError lists rows that could not be decoded. Entries that did
// decode are still returned alongside it.
type CorruptError struct {
	IDs []string
	Err error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("%v: permissions %s: %v", common.ErrCorruptData, strings.Join(e.IDs, ", "), e.Err)
}

func (e *CorruptError) Unwrap() []error {
	return []error{common.ErrCorruptData, e.Err}
}

func corrupt(ids []string, errs []error) error {
	if len(ids) == 0 {
		return nil
	}
	return &CorruptError{IDs: ids, Err: errs[0]}
}
