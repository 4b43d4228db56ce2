// Package lifecycle validates permission intents against the freshest known
// record and drives them through the sync engine. Every operation runs on
// behalf of the principal the ledger adapter is bound to.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/expiryx/internal/client/ledger"
	"github.com/dmitrijs2005/expiryx/internal/client/models"
	"github.com/dmitrijs2005/expiryx/internal/client/syncer"
	"github.com/dmitrijs2005/expiryx/internal/logging"
	"github.com/dmitrijs2005/expiryx/internal/permission"
)

// GrantRequest is a new permission from the bound principal to Spender.
type GrantRequest struct {
	Spender  string
	Amount   uint64
	Expiry   time.Time
	Scope    permission.Scope
	Resource *permission.Resource
}

type Machine struct {
	engine *syncer.Engine
	now    func() time.Time
	newID  func() string
	log    logging.Logger
}

type Option func(*Machine)

// WithClock sets the clock status is derived against.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func WithIDs(newID func() string) Option {
	return func(m *Machine) { m.newID = newID }
}

func WithLogger(l logging.Logger) Option {
	return func(m *Machine) { m.log = l }
}

func New(engine *syncer.Engine, opts ...Option) *Machine {
	m := &Machine{
		engine: engine,
		now:    time.Now,
		newID:  uuid.NewString,
		log:    logging.Nop(),
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With("module", "lifecycle")
	return m
}

// Principal is the address every intent is issued by.
func (m *Machine) Principal() string {
	return permission.NormalizeAddress(m.engine.Adapter().Principal())
}

func (m *Machine) Now() time.Time {
	return m.now()
}

// Grant creates a permission from the principal to req.Spender and returns
// the record as confirmed by the ledger.
func (m *Machine) Grant(ctx context.Context, req GrantRequest) (permission.Record, error) {
	const op = "grant"

	owner := m.Principal()
	expiry := permission.NormalizeExpiry(req.Expiry)
	if err := permission.ValidateGrant(owner, req.Spender, req.Amount, expiry, m.now()); err != nil {
		return permission.Record{}, newError(op, "", KindValidation, err)
	}
	scope, err := permission.ParseScope(string(req.Scope))
	if err != nil {
		return permission.Record{}, newError(op, "", KindValidation, fmt.Errorf("%w: %v", permission.ErrInvalidScope, err))
	}

	spec := ledger.GrantSpec{
		ID:       m.newID(),
		Spender:  permission.NormalizeAddress(req.Spender),
		Amount:   req.Amount,
		Expiry:   expiry,
		Scope:    scope,
		Resource: req.Resource,
	}
	r, err := m.engine.Grant(ctx, spec)
	if err != nil {
		return permission.Record{}, wrap(op, spec.ID, err)
	}
	m.log.Info(ctx, "permission granted", "id", r.ID, "spender", r.Spender, "amount", r.Amount)
	return r, nil
}

// Spend draws amount from id as its spender. The record is re-validated
// against the clock at call time. When the ledger rejects the spend on
// state the cache had not seen yet, the record is refetched and validated
// once more; that validation failure is what the caller gets.
func (m *Machine) Spend(ctx context.Context, id string, amount uint64, recipient string) (permission.Record, error) {
	const op = "spend"

	if recipient != "" {
		if err := permission.ValidateAddress(recipient); err != nil {
			return permission.Record{}, newError(op, id, KindValidation, fmt.Errorf("recipient: %w", err))
		}
		recipient = permission.NormalizeAddress(recipient)
	}

	e, err := m.engine.Record(ctx, id)
	if err != nil {
		return permission.Record{}, wrap(op, id, err)
	}
	if err := m.validateSpend(e.Record, amount); err != nil {
		return permission.Record{}, newError(op, id, KindValidation, err)
	}

	r, err := m.engine.Spend(ctx, id, amount, recipient)
	if err == nil {
		return r, nil
	}
	if !staleRejection(err) {
		return permission.Record{}, wrap(op, id, err)
	}

	m.log.Info(ctx, "spend rejected on stale state, refetching", "id", id, "error", err)
	e, rerr := m.engine.Refresh(ctx, id)
	if rerr != nil {
		return permission.Record{}, wrap(op, id, rerr)
	}
	if verr := m.validateSpend(e.Record, amount); verr != nil {
		return permission.Record{}, newError(op, id, KindValidation, verr)
	}
	return permission.Record{}, newError(op, id, KindStaleRetryExhausted, err)
}

func (m *Machine) validateSpend(r permission.Record, amount uint64) error {
	if err := permission.ValidateSpender(r, m.Principal()); err != nil {
		return err
	}
	return permission.ValidateSpend(r, amount, m.now())
}

// staleRejection reports a ledger rejection caused by state newer than the
// local view.
func staleRejection(err error) bool {
	if !errors.Is(err, ledger.ErrRejected) {
		return false
	}
	return errors.Is(err, permission.ErrInsufficientAllowance) ||
		errors.Is(err, permission.ErrPermissionRevoked) ||
		errors.Is(err, permission.ErrPermissionExpired) ||
		errors.Is(err, permission.ErrPermissionFullySpent)
}

// Revoke revokes id as its owner. Revoking an already revoked permission
// succeeds without a submission. A revocation still awaiting the ledger is
// waited for first.
func (m *Machine) Revoke(ctx context.Context, id string) (permission.Record, error) {
	const op = "revoke"

	e, err := m.engine.Record(ctx, id)
	if err != nil {
		return permission.Record{}, wrap(op, id, err)
	}
	err = permission.ValidateRevoke(e.Record, m.Principal())
	if errors.Is(err, permission.ErrAlreadyRevoked) && e.IsPending() {
		if e, err = m.engine.Settled(ctx, id); err != nil {
			return permission.Record{}, wrap(op, id, err)
		}
		err = permission.ValidateRevoke(e.Record, m.Principal())
	}
	if errors.Is(err, permission.ErrAlreadyRevoked) {
		return e.Record, nil
	}
	if err != nil {
		return permission.Record{}, newError(op, id, KindValidation, err)
	}

	r, err := m.engine.Revoke(ctx, id)
	if err == nil {
		m.log.Info(ctx, "permission revoked", "id", id)
		return r, nil
	}
	if errors.Is(err, ledger.ErrRejected) && errors.Is(err, permission.ErrAlreadyRevoked) {
		// Revoked elsewhere since the last sync.
		e, rerr := m.engine.Refresh(ctx, id)
		if rerr != nil {
			return permission.Record{}, wrap(op, id, rerr)
		}
		return e.Record, nil
	}
	return permission.Record{}, wrap(op, id, err)
}

// Extend moves the expiry of an active permission forward. Ledgers without
// the extend capability fail with KindUnsupported.
func (m *Machine) Extend(ctx context.Context, id string, newExpiry time.Time) (permission.Record, error) {
	const op = "extend"

	caps, err := m.engine.Adapter().Capabilities(ctx)
	if err != nil {
		return permission.Record{}, wrap(op, id, err)
	}
	if !caps.Extend {
		return permission.Record{}, newError(op, id, KindUnsupported, ledger.ErrUnsupported)
	}

	e, err := m.engine.Record(ctx, id)
	if err != nil {
		return permission.Record{}, wrap(op, id, err)
	}
	newExpiry = permission.NormalizeExpiry(newExpiry)
	if err := permission.ValidateExtend(e.Record, m.Principal(), newExpiry, m.now()); err != nil {
		return permission.Record{}, newError(op, id, KindValidation, err)
	}

	r, err := m.engine.Extend(ctx, id, newExpiry)
	if err != nil {
		return permission.Record{}, wrap(op, id, err)
	}
	m.log.Info(ctx, "permission extended", "id", id, "expiry", r.Expiry)
	return r, nil
}

// Record returns the freshest known state of id: the cache, or the ledger
// when the cache does not have it.
func (m *Machine) Record(ctx context.Context, id string) (models.SyncEntry, error) {
	e, err := m.engine.Record(ctx, id)
	if err != nil {
		return models.SyncEntry{}, wrap("get", id, err)
	}
	return e, nil
}

// Records returns the cached permissions the principal owns or may spend.
func (m *Machine) Records(ctx context.Context) ([]models.SyncEntry, error) {
	es, err := m.engine.Records(ctx, m.Principal())
	if err != nil {
		return nil, wrap("list", "", err)
	}
	return es, nil
}

// Refresh reloads id from the ledger.
func (m *Machine) Refresh(ctx context.Context, id string) (models.SyncEntry, error) {
	e, err := m.engine.Refresh(ctx, id)
	if err != nil {
		return models.SyncEntry{}, wrap("refresh", id, err)
	}
	return e, nil
}

// Sync reconciles all of the principal's permissions now.
func (m *Machine) Sync(ctx context.Context) (syncer.TickResult, error) {
	res, err := m.engine.Sync(ctx, m.Principal())
	if err != nil {
		return res, wrap("sync", "", err)
	}
	return res, nil
}
