package services

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/dmitrijs2005/expiryx/internal/client/cache"
	"github.com/dmitrijs2005/expiryx/internal/client/lifecycle"
	"github.com/dmitrijs2005/expiryx/internal/client/models"
	"github.com/dmitrijs2005/expiryx/internal/client/syncer"
	"github.com/dmitrijs2005/expiryx/internal/permission"
)

// ListFilter narrows List. Empty fields match everything.
type ListFilter struct {
	// Role is "owner" or "spender".
	Role string
	// Status is a derived status name, e.g. "active".
	Status string
}

// PermissionService defines the permission operations of the UI.
//
// Contract:
//   - Request* validate and submit an intent and return the record as
//     confirmed by the ledger, or a *lifecycle.Error.
//   - List, Get and Summary read the local cache; status is derived at
//     call time.
//   - Refresh reconciles the cache with the ledger now.
//   - OnRecordsChanged delivers views whenever the principal's cached
//     records change.
type PermissionService interface {
	Principal() string

	RequestGrant(ctx context.Context, req lifecycle.GrantRequest) (permission.Record, error)
	RequestSpend(ctx context.Context, id string, amount uint64, recipient string) (permission.Record, error)
	RequestRevoke(ctx context.Context, id string) (permission.Record, error)
	RequestExtend(ctx context.Context, id string, newExpiry time.Time) (permission.Record, error)

	OnRecordsChanged(fn func([]models.PermissionView)) (cancel func())
	List(ctx context.Context, f ListFilter) ([]models.PermissionView, error)
	Get(ctx context.Context, id string) (models.PermissionView, error)
	Refresh(ctx context.Context) (syncer.TickResult, error)
	RefreshOne(ctx context.Context, id string) (models.PermissionView, error)
	Summary(ctx context.Context) (models.Summary, error)
	LastSynced(ctx context.Context) (time.Time, error)

	Export(ctx context.Context, w io.Writer) (int, error)
	Prune(ctx context.Context, olderThan time.Duration) (int, error)
}

type permissionService struct {
	machine *lifecycle.Machine
	engine  *syncer.Engine
	store   *cache.Store
}

func NewPermissionService(m *lifecycle.Machine, e *syncer.Engine, s *cache.Store) PermissionService {
	return &permissionService{machine: m, engine: e, store: s}
}

func (s *permissionService) Principal() string {
	return s.machine.Principal()
}

func (s *permissionService) RequestGrant(ctx context.Context, req lifecycle.GrantRequest) (permission.Record, error) {
	return s.machine.Grant(ctx, req)
}

func (s *permissionService) RequestSpend(ctx context.Context, id string, amount uint64, recipient string) (permission.Record, error) {
	return s.machine.Spend(ctx, id, amount, recipient)
}

func (s *permissionService) RequestRevoke(ctx context.Context, id string) (permission.Record, error) {
	return s.machine.Revoke(ctx, id)
}

func (s *permissionService) RequestExtend(ctx context.Context, id string, newExpiry time.Time) (permission.Record, error) {
	return s.machine.Extend(ctx, id, newExpiry)
}

func (s *permissionService) OnRecordsChanged(fn func([]models.PermissionView)) func() {
	principal := s.Principal()
	return s.engine.OnRecordsChanged(principal, func(es []models.SyncEntry) {
		fn(s.views(es))
	})
}

func (s *permissionService) views(es []models.SyncEntry) []models.PermissionView {
	now := s.machine.Now()
	principal := s.Principal()
	out := make([]models.PermissionView, 0, len(es))
	for _, e := range es {
		out = append(out, models.NewPermissionView(e, principal, now))
	}
	slices.SortFunc(out, func(a, b models.PermissionView) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// List returns the cached permissions of the principal, newest first.
func (s *permissionService) List(ctx context.Context, f ListFilter) ([]models.PermissionView, error) {
	es, err := s.machine.Records(ctx)
	if err != nil {
		return nil, err
	}
	views := s.views(es)
	if f.Role == "" && f.Status == "" {
		return views, nil
	}

	out := views[:0]
	for _, v := range views {
		if f.Role != "" && !strings.EqualFold(v.Role, f.Role) {
			continue
		}
		if f.Status != "" && !strings.EqualFold(v.Status.String(), f.Status) {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *permissionService) Get(ctx context.Context, id string) (models.PermissionView, error) {
	e, err := s.machine.Record(ctx, id)
	if err != nil {
		return models.PermissionView{}, err
	}
	return models.NewPermissionView(e, s.Principal(), s.machine.Now()), nil
}

func (s *permissionService) Refresh(ctx context.Context) (syncer.TickResult, error) {
	return s.machine.Sync(ctx)
}

func (s *permissionService) RefreshOne(ctx context.Context, id string) (models.PermissionView, error) {
	e, err := s.machine.Refresh(ctx, id)
	if err != nil {
		return models.PermissionView{}, err
	}
	return models.NewPermissionView(e, s.Principal(), s.machine.Now()), nil
}

func (s *permissionService) Summary(ctx context.Context) (models.Summary, error) {
	views, err := s.List(ctx, ListFilter{})
	if err != nil {
		return models.Summary{}, err
	}
	return models.Summarize(views), nil
}

func (s *permissionService) LastSynced(ctx context.Context) (time.Time, error) {
	return s.store.LastSynced(ctx, s.Principal())
}

// Export writes the whole cache as a compressed archive.
func (s *permissionService) Export(ctx context.Context, w io.Writer) (int, error) {
	n, err := s.store.Export(ctx, w)
	if err != nil {
		return n, fmt.Errorf("export error: %w", err)
	}
	return n, nil
}

// Prune drops settled, terminal permissions that ended more than olderThan
// ago from the cache. The ledger keeps them.
func (s *permissionService) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := s.store.Prune(ctx, olderThan, s.machine.Now())
	if err != nil {
		return n, fmt.Errorf("prune error: %w", err)
	}
	return n, nil
}
