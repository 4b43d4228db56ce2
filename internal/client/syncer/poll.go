package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/expiryx/internal/client/ledger"
	"github.com/dmitrijs2005/expiryx/internal/client/models"
	"github.com/dmitrijs2005/expiryx/internal/common"
	"github.com/dmitrijs2005/expiryx/internal/permission"
)

// TickResult summarizes one reconciliation pass.
type TickResult struct {
	Fetched    int
	Reconciled int
	Discarded  int
}

// Run polls the ledger for principal every PollInterval until ctx is done
// or the engine is closed. The first tick starts at once. A tick that comes
// due while the previous one is still running is skipped. Cancelling ctx
// cancels the running tick unless a Sync caller still waits for it.
func (e *Engine) Run(ctx context.Context, principal string) error {
	principal = permission.NormalizeAddress(principal)
	e.log.Info(ctx, "polling started", "principal", principal, "interval", e.cfg.PollInterval)

	t := time.NewTicker(e.cfg.PollInterval)
	defer t.Stop()

	e.startTick(ctx, principal)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.base.Done():
			return ErrClosed
		case <-t.C:
			e.startTick(ctx, principal)
		}
	}
}

func (e *Engine) startTick(ctx context.Context, principal string) {
	if e.ticking(principal) {
		e.metrics.Skipped.Inc()
		e.log.Debug(ctx, "tick skipped, previous one still running", "principal", principal)
		return
	}
	go func() {
		_, err := e.Sync(ctx, principal)
		if err != nil && !errors.Is(err, ErrClosed) && ctx.Err() == nil {
			e.log.Warn(ctx, "tick failed", "principal", principal, "error", err)
		}
	}()
}

// flight is one running tick of a principal, shared by every Sync caller
// that joins it. The tick is cancelled when the last caller leaves.
type flight struct {
	cancel context.CancelFunc
	done   chan struct{}
	refs   int

	res TickResult
	err error
}

func (e *Engine) ticking(principal string) bool {
	e.flightsMu.Lock()
	defer e.flightsMu.Unlock()
	_, ok := e.flights[principal]
	return ok
}

// Sync reconciles principal's records now, joining a tick already in
// flight. Cancelling ctx abandons the wait; the tick itself is cancelled
// once no caller waits for it any more.
func (e *Engine) Sync(ctx context.Context, principal string) (TickResult, error) {
	principal = permission.NormalizeAddress(principal)
	f := e.join(principal)
	defer e.leave(principal, f)

	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		return TickResult{}, ctx.Err()
	}
}

func (e *Engine) join(principal string) *flight {
	e.flightsMu.Lock()
	defer e.flightsMu.Unlock()
	if f, ok := e.flights[principal]; ok {
		f.refs++
		return f
	}

	ctx, cancel := context.WithCancel(e.base)
	f := &flight{cancel: cancel, done: make(chan struct{}), refs: 1}
	e.flights[principal] = f
	go func() {
		defer cancel()
		f.res, f.err = e.runTick(ctx, principal)

		e.flightsMu.Lock()
		if e.flights[principal] == f {
			delete(e.flights, principal)
		}
		e.flightsMu.Unlock()
		close(f.done)
	}()
	return f
}

func (e *Engine) leave(principal string, f *flight) {
	e.flightsMu.Lock()
	defer e.flightsMu.Unlock()
	f.refs--
	if f.refs > 0 {
		return
	}
	f.cancel()
	if e.flights[principal] == f {
		delete(e.flights, principal)
	}
}

func (e *Engine) runTick(ctx context.Context, principal string) (TickResult, error) {
	if !e.enter() {
		return TickResult{}, ErrClosed
	}
	defer e.wg.Done()

	res, err := e.tick(ctx, principal)
	if err != nil {
		e.metrics.Ticks.WithLabelValues("error").Inc()
		return res, err
	}
	e.metrics.Ticks.WithLabelValues("ok").Inc()
	return res, nil
}

func (e *Engine) tick(ctx context.Context, principal string) (TickResult, error) {
	var res TickResult

	// Versions are captured before the fetch so that any local write made
	// while the fetch is outstanding makes the fetched value lose the CAS.
	cached, err := e.store.GetAllForPrincipal(ctx, principal)
	if err != nil {
		return res, fmt.Errorf("snapshot cache: %w", err)
	}
	snapshot := make(map[string]models.SyncEntry, len(cached))
	for _, c := range cached {
		snapshot[c.ID()] = c
	}

	var owned, spendable []permission.Record
	err = e.fetch(ctx, func(ctx context.Context) error {
		var err error
		owned, err = e.adapter.FetchRecordsByOwner(ctx, principal)
		return err
	})
	if err != nil {
		return res, fmt.Errorf("fetch by owner: %w", err)
	}
	err = e.fetch(ctx, func(ctx context.Context) error {
		var err error
		spendable, err = e.adapter.FetchRecordsBySpender(ctx, principal)
		return err
	})
	if err != nil {
		return res, fmt.Errorf("fetch by spender: %w", err)
	}

	merged := make(map[string]permission.Record, len(owned)+len(spendable))
	order := make([]string, 0, len(owned)+len(spendable))
	for _, r := range append(owned, spendable...) {
		if _, ok := merged[r.ID]; !ok {
			order = append(order, r.ID)
		}
		merged[r.ID] = r
	}
	res.Fetched = len(order)

	now := e.now()
	for _, id := range order {
		var snap *models.SyncEntry
		if s, ok := snapshot[id]; ok {
			snap = &s
		}
		ok, err := e.reconcile(ctx, merged[id], snap, now)
		if err != nil {
			return res, err
		}
		if ok {
			res.Reconciled++
		} else {
			res.Discarded++
		}
	}

	if err := e.store.MarkSynced(ctx, principal, now); err != nil {
		e.log.Warn(ctx, "cannot stamp sync time", "principal", principal, "error", err)
	}
	e.log.Debug(ctx, "tick reconciled", "principal", principal,
		"fetched", res.Fetched, "reconciled", res.Reconciled, "discarded", res.Discarded)
	e.notify(ctx, principal)
	return res, nil
}

// reconcile writes the fetched record r over snap, the entry as it was
// before r was requested (nil when absent). It reports false when r was
// discarded as stale.
func (e *Engine) reconcile(ctx context.Context, r permission.Record, snap *models.SyncEntry, now time.Time) (bool, error) {
	next := models.SyncEntry{}.Confirm(r, now)
	var expected int64
	if snap != nil {
		if snap.IsPending() || regressed(snap.Confirmed, r) {
			e.discard(ctx, r.ID, snap)
			return false, nil
		}
		next = snap.Confirm(r, now)
		expected = snap.Version
	}

	_, err := e.store.Upsert(ctx, next, expected)
	if errors.Is(err, common.ErrVersionConflict) {
		e.discard(ctx, r.ID, snap)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reconcile %s: %w", r.ID, err)
	}
	return true, nil
}

func (e *Engine) discard(ctx context.Context, id string, snap *models.SyncEntry) {
	e.metrics.Discarded.Inc()
	args := []any{"id", id}
	if snap != nil && snap.Pending != nil {
		args = append(args, "pending", snap.Pending.Intent)
	}
	e.log.Debug(ctx, "stale ledger value discarded", args...)
}

// regressed reports a fetched record older than what the ledger already
// confirmed: spends and revocations never go back, nor does an extension.
func regressed(confirmed *permission.Record, r permission.Record) bool {
	if confirmed == nil {
		return false
	}
	return r.Spent < confirmed.Spent ||
		(confirmed.Revoked && !r.Revoked) ||
		r.Expiry.Before(confirmed.Expiry)
}

// fetch runs a ledger read under the read retry policy. Only unreachable
// and timed out attempts are retried; each attempt gets FetchTimeout.
func (e *Engine) fetch(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.NewExponential(e.cfg.RetryBase)
	b = retry.WithCappedDuration(e.cfg.RetryCap, b)
	b = retry.WithMaxRetries(uint64(e.cfg.RetryAttempts-1), b)

	return retry.Do(ctx, b, func(ctx context.Context) error {
		actx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
		defer cancel()

		err := fn(actx)
		if err != nil && ledger.Retryable(err) {
			e.log.Debug(ctx, "ledger read failed, retrying", "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

// Record returns the cached entry of id, falling back to the ledger.
func (e *Engine) Record(ctx context.Context, id string) (models.SyncEntry, error) {
	c, err := e.store.Get(ctx, id)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return models.SyncEntry{}, err
	}
	return e.Refresh(ctx, id)
}

// Settled waits until no mutation of id is in flight and returns the entry
// as it was left.
func (e *Engine) Settled(ctx context.Context, id string) (models.SyncEntry, error) {
	release, err := e.lock(ctx, id)
	if err != nil {
		return models.SyncEntry{}, fmt.Errorf("wait for %s: %w", id, err)
	}
	release()
	return e.Record(ctx, id)
}

// Records returns the cached entries where principal is owner or spender.
func (e *Engine) Records(ctx context.Context, principal string) ([]models.SyncEntry, error) {
	return e.store.GetAllForPrincipal(ctx, permission.NormalizeAddress(principal))
}

// Refresh fetches id from the ledger and reconciles it into the cache. It
// returns common.ErrNotFound when neither the ledger nor the cache knows
// the record. A local pending value is kept over the fetched one.
func (e *Engine) Refresh(ctx context.Context, id string) (models.SyncEntry, error) {
	var snap *models.SyncEntry
	c, err := e.store.Get(ctx, id)
	switch {
	case err == nil:
		snap = &c
	case !errors.Is(err, common.ErrNotFound):
		return models.SyncEntry{}, err
	}

	var (
		r     permission.Record
		found bool
	)
	err = e.fetch(ctx, func(ctx context.Context) error {
		var err error
		r, found, err = e.adapter.FetchRecord(ctx, id)
		return err
	})
	if err != nil {
		return models.SyncEntry{}, fmt.Errorf("refresh %s: %w", id, err)
	}
	if !found {
		if snap != nil {
			return *snap, nil
		}
		return models.SyncEntry{}, fmt.Errorf("refresh %s: %w", id, common.ErrNotFound)
	}

	ok, err := e.reconcile(ctx, r, snap, e.now())
	if err != nil {
		return models.SyncEntry{}, err
	}
	if ok {
		e.notify(ctx, r.Owner, r.Spender)
	}
	return e.store.Get(ctx, id)
}
