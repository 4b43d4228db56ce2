// Package syncer keeps the local cache consistent with the ledger. It polls
// the ledger per principal, applies local mutations optimistically and
// settles them once the ledger confirms or rejects, and tells subscribers
// when a principal's cached records change.
//
// Conflicts are resolved by compare-and-set on the cache entry version: a
// poll result is written only if the entry has not moved since the poll
// began and carries no pending mutation.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/expiryx/internal/client/cache"
	"github.com/dmitrijs2005/expiryx/internal/client/ledger"
	"github.com/dmitrijs2005/expiryx/internal/client/models"
	"github.com/dmitrijs2005/expiryx/internal/logging"
	"github.com/dmitrijs2005/expiryx/internal/permission"
)

var (
	// ErrSubmissionFailed means the ledger definitely did not apply the
	// mutation. The optimistic write has been rolled back.
	ErrSubmissionFailed = errors.New("submission failed")

	// ErrSubmissionUncertain means the outcome is unknown to the caller.
	// The submission keeps running and the cache is settled when it ends.
	ErrSubmissionUncertain = errors.New("submission outcome uncertain")

	ErrClosed = errors.New("sync engine closed")
)

type Engine struct {
	adapter ledger.Adapter
	store   *cache.Store
	cfg     Config
	log     logging.Logger
	now     func() time.Time
	metrics *Metrics

	flightsMu sync.Mutex
	flights   map[string]*flight

	locksMu sync.Mutex
	locks   map[string]*recordLock

	subsMu  sync.RWMutex
	subs    map[string]map[uint64]func([]models.SyncEntry)
	nextSub uint64

	// base is the parent of every tick and is cancelled by Close.
	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func New(adapter ledger.Adapter, store *cache.Store, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		adapter: adapter,
		store:   store,
		cfg:     cfg.withDefaults(),
		log:     logging.Nop(),
		now:     time.Now,
		flights: make(map[string]*flight),
		locks:   make(map[string]*recordLock),
		subs:    make(map[string]map[uint64]func([]models.SyncEntry)),
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	e.log = e.log.With("module", "syncer")
	e.base, e.cancel = context.WithCancel(context.Background())
	return e
}

// Adapter returns the ledger the engine talks to.
func (e *Engine) Adapter() ledger.Adapter {
	return e.adapter
}

func (e *Engine) Store() *cache.Store {
	return e.store
}

// Close stops background ticks and waits for every in-flight submission to
// settle the cache.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}

// enter registers a unit of background work. It fails once Close began.
func (e *Engine) enter() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.wg.Add(1)
	return true
}

// recordLock is held by at most one mutation; refs counts the holder and
// the waiters.
type recordLock struct {
	ch   chan struct{}
	refs int
}

// lock takes the mutation lock of id. Only one mutation per record is in
// flight, from the optimistic write until the submission settles.
func (e *Engine) lock(ctx context.Context, id string) (func(), error) {
	e.locksMu.Lock()
	l, ok := e.locks[id]
	if !ok {
		l = &recordLock{ch: make(chan struct{}, 1)}
		e.locks[id] = l
	}
	l.refs++
	e.locksMu.Unlock()

	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.ch
				e.unref(id, l)
			})
		}, nil
	case <-ctx.Done():
		e.unref(id, l)
		return nil, ctx.Err()
	}
}

// unref drops the lock of id once nobody holds or waits for it.
func (e *Engine) unref(id string, l *recordLock) {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l.refs--
	if l.refs == 0 && e.locks[id] == l {
		delete(e.locks, id)
	}
}

// OnRecordsChanged registers fn to receive the cached entries of principal
// after each reconciliation or settled mutation that touches them. fn runs
// synchronously on the engine's goroutine and must not block.
func (e *Engine) OnRecordsChanged(principal string, fn func([]models.SyncEntry)) (cancel func()) {
	principal = permission.NormalizeAddress(principal)

	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	e.nextSub++
	id := e.nextSub
	if e.subs[principal] == nil {
		e.subs[principal] = make(map[uint64]func([]models.SyncEntry))
	}
	e.subs[principal][id] = fn

	return func() {
		e.subsMu.Lock()
		defer e.subsMu.Unlock()
		delete(e.subs[principal], id)
		if len(e.subs[principal]) == 0 {
			delete(e.subs, principal)
		}
	}
}

func (e *Engine) subscribers(principal string) []func([]models.SyncEntry) {
	e.subsMu.RLock()
	defer e.subsMu.RUnlock()
	out := make([]func([]models.SyncEntry), 0, len(e.subs[principal]))
	for _, fn := range e.subs[principal] {
		out = append(out, fn)
	}
	return out
}

// notify pushes the current entries of each principal to its subscribers.
func (e *Engine) notify(ctx context.Context, principals ...string) {
	seen := make(map[string]bool, len(principals))
	for _, p := range principals {
		p = permission.NormalizeAddress(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true

		fns := e.subscribers(p)
		if len(fns) == 0 {
			continue
		}
		entries, err := e.store.GetAllForPrincipal(ctx, p)
		if err != nil {
			e.log.Warn(ctx, "cannot load entries for subscribers", "principal", p, "error", err)
			continue
		}
		for _, fn := range fns {
			fn(entries)
		}
	}
}
