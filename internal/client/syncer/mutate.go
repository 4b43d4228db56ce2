package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/expiryx/internal/client/cache"
	"github.com/dmitrijs2005/expiryx/internal/client/ledger"
	"github.com/dmitrijs2005/expiryx/internal/client/models"
	"github.com/dmitrijs2005/expiryx/internal/common"
	"github.com/dmitrijs2005/expiryx/internal/permission"
)

// mutation is one local intent: how to apply it to the cache optimistically
// and how to submit it.
type mutation struct {
	intent  models.Intent
	id      string
	apply   func(cur *models.SyncEntry, now time.Time) (*models.SyncEntry, error)
	submit  func(ctx context.Context) (ledger.Receipt, error)
	pending models.PendingMutation
}

type outcome struct {
	record permission.Record
	err    error
}

// Grant caches spec as a pending record owned by the adapter's principal
// and submits it.
func (e *Engine) Grant(ctx context.Context, spec ledger.GrantSpec) (permission.Record, error) {
	owner := permission.NormalizeAddress(e.adapter.Principal())
	return e.mutate(ctx, mutation{
		intent:  models.IntentGrant,
		id:      spec.ID,
		pending: models.PendingMutation{Intent: models.IntentGrant, Amount: spec.Amount},
		apply: func(cur *models.SyncEntry, now time.Time) (*models.SyncEntry, error) {
			if cur != nil {
				return nil, fmt.Errorf("grant %s: %w", spec.ID, common.ErrVersionConflict)
			}
			var res *permission.Resource
			if spec.Resource != nil {
				r := *spec.Resource
				res = &r
			}
			return &models.SyncEntry{Record: permission.Record{
				ID:        spec.ID,
				Owner:     owner,
				Spender:   permission.NormalizeAddress(spec.Spender),
				Amount:    spec.Amount,
				Expiry:    permission.NormalizeExpiry(spec.Expiry),
				Scope:     spec.Scope,
				Resource:  res,
				CreatedAt: now.UTC().Truncate(time.Second),
			}}, nil
		},
		submit: func(ctx context.Context) (ledger.Receipt, error) {
			return e.adapter.SubmitGrant(ctx, spec)
		},
	})
}

// Spend records amount as spent on id and submits the spend.
func (e *Engine) Spend(ctx context.Context, id string, amount uint64, recipient string) (permission.Record, error) {
	return e.mutate(ctx, mutation{
		intent:  models.IntentSpend,
		id:      id,
		pending: models.PendingMutation{Intent: models.IntentSpend, Amount: amount},
		apply: func(cur *models.SyncEntry, _ time.Time) (*models.SyncEntry, error) {
			if cur == nil {
				return nil, fmt.Errorf("spend %s: %w", id, common.ErrNotFound)
			}
			if rem := cur.Record.Remaining(); amount > rem {
				cur.Record.Spent = cur.Record.Amount
			} else {
				cur.Record.Spent += amount
			}
			return cur, nil
		},
		submit: func(ctx context.Context) (ledger.Receipt, error) {
			return e.adapter.SubmitSpend(ctx, id, amount, recipient)
		},
	})
}

// Revoke marks id revoked and submits the revocation.
func (e *Engine) Revoke(ctx context.Context, id string) (permission.Record, error) {
	return e.mutate(ctx, mutation{
		intent:  models.IntentRevoke,
		id:      id,
		pending: models.PendingMutation{Intent: models.IntentRevoke},
		apply: func(cur *models.SyncEntry, _ time.Time) (*models.SyncEntry, error) {
			if cur == nil {
				return nil, fmt.Errorf("revoke %s: %w", id, common.ErrNotFound)
			}
			cur.Record.Revoked = true
			return cur, nil
		},
		submit: func(ctx context.Context) (ledger.Receipt, error) {
			return e.adapter.SubmitRevoke(ctx, id)
		},
	})
}

// Extend moves the expiry of id to newExpiry and submits the extension.
func (e *Engine) Extend(ctx context.Context, id string, newExpiry time.Time) (permission.Record, error) {
	newExpiry = permission.NormalizeExpiry(newExpiry)
	return e.mutate(ctx, mutation{
		intent:  models.IntentExtend,
		id:      id,
		pending: models.PendingMutation{Intent: models.IntentExtend, NewExpiry: newExpiry},
		apply: func(cur *models.SyncEntry, _ time.Time) (*models.SyncEntry, error) {
			if cur == nil {
				return nil, fmt.Errorf("extend %s: %w", id, common.ErrNotFound)
			}
			cur.Record.Expiry = newExpiry
			return cur, nil
		},
		submit: func(ctx context.Context) (ledger.Receipt, error) {
			return e.adapter.SubmitExtend(ctx, id, newExpiry)
		},
	})
}

// mutate writes the optimistic value, then submits in the background. The
// submission always settles the cache, whatever happens to the caller. The
// caller waits at most SubmitTimeout for the outcome.
func (e *Engine) mutate(ctx context.Context, m mutation) (permission.Record, error) {
	release, err := e.lock(ctx, m.id)
	if err != nil {
		return permission.Record{}, fmt.Errorf("%s %s: %w", m.intent, m.id, err)
	}
	if !e.enter() {
		release()
		return permission.Record{}, ErrClosed
	}

	now := e.now()
	pending := m.pending
	pending.SubmittedAt = now.UTC()

	optimistic, _, err := e.store.Update(ctx, m.id, func(cur *models.SyncEntry) (*models.SyncEntry, error) {
		next, err := m.apply(cur, now)
		if err != nil || next == nil {
			return next, err
		}
		next.Pending = &pending
		return next, nil
	})
	if err != nil {
		release()
		e.wg.Done()
		return permission.Record{}, err
	}
	e.notify(ctx, optimistic.Record.Owner, optimistic.Record.Spender)

	done := make(chan outcome, 1)
	sctx := context.WithoutCancel(ctx)
	go func() {
		defer e.wg.Done()

		rc, err := m.submit(sctx)
		rec, serr := e.settle(sctx, m, rc, err)
		if serr != nil {
			e.log.Error(sctx, "cannot settle mutation", "id", m.id, "intent", m.intent, "error", serr)
		}
		release()

		e.metrics.Mutations.WithLabelValues(string(m.intent), outcomeLabel(err)).Inc()
		done <- outcome{record: rec, err: err}

		if err != nil && !errors.Is(err, ledger.ErrRejected) {
			// The ledger may have applied it after all.
			if _, rerr := e.Refresh(sctx, m.id); rerr != nil && !errors.Is(rerr, common.ErrNotFound) {
				e.log.Warn(sctx, "refresh after uncertain submission failed", "id", m.id, "error", rerr)
			}
		}
	}()

	timer := time.NewTimer(e.cfg.SubmitTimeout)
	defer timer.Stop()

	select {
	case o := <-done:
		if o.err != nil {
			return permission.Record{}, fmt.Errorf("%s %s: %w", m.intent, m.id, submitError(o.err))
		}
		return o.record, nil
	case <-timer.C:
		e.log.Warn(ctx, "submission still running", "id", m.id, "intent", m.intent, "waited", e.cfg.SubmitTimeout)
		return permission.Record{}, fmt.Errorf("%s %s: %w", m.intent, m.id, ErrSubmissionUncertain)
	case <-ctx.Done():
		return permission.Record{}, fmt.Errorf("%s %s: %w: %w", m.intent, m.id, ErrSubmissionUncertain, ctx.Err())
	}
}

// settle replaces the optimistic entry with the ledger outcome: the
// confirmed value on success, the last confirmed one otherwise. A grant
// the ledger never confirmed is removed.
func (e *Engine) settle(ctx context.Context, m mutation, rc ledger.Receipt, subErr error) (permission.Record, error) {
	now := e.now()
	settled, ok, err := e.store.Update(ctx, m.id, func(cur *models.SyncEntry) (*models.SyncEntry, error) {
		if subErr != nil {
			if cur == nil {
				return nil, cache.ErrNoChange
			}
			if cur.Confirmed == nil {
				return nil, nil
			}
			cur.Record = cur.Confirmed.Clone()
			cur.Pending = nil
			return cur, nil
		}

		if rc.Record != nil {
			var next models.SyncEntry
			if cur != nil {
				next = *cur
			}
			next = next.Confirm(*rc.Record, now)
			return &next, nil
		}

		// A revocation receipt carries no record.
		if cur == nil {
			return nil, cache.ErrNoChange
		}
		base := cur.Record
		if cur.Confirmed != nil {
			base = *cur.Confirmed
		}
		base.Revoked = true
		next := cur.Confirm(base, now)
		return &next, nil
	})
	if err != nil {
		return permission.Record{}, err
	}

	if subErr != nil {
		e.log.Info(ctx, "mutation rolled back", "id", m.id, "intent", m.intent, "error", subErr)
	} else {
		e.log.Info(ctx, "mutation confirmed", "id", m.id, "intent", m.intent, "tx", rc.TxRef)
	}

	if ok {
		e.notify(ctx, settled.Record.Owner, settled.Record.Spender)
		return settled.Record, nil
	}
	if rc.Record != nil {
		return *rc.Record, nil
	}
	// Removed grant: tell the owner it is gone.
	e.notify(ctx, e.adapter.Principal())
	return permission.Record{}, nil
}

// submitError maps a submission failure onto the engine's two outcomes.
func submitError(err error) error {
	if kind, ok := ledger.KindOf(err); ok {
		switch kind {
		case ledger.KindTimeout, ledger.KindUnreachable, ledger.KindMalformed:
			return fmt.Errorf("%w: %w", ErrSubmissionUncertain, err)
		}
		return fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrSubmissionUncertain, err)
	}
	return fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "confirmed"
	case errors.Is(submitError(err), ErrSubmissionUncertain):
		return "uncertain"
	default:
		return "rejected"
	}
}
