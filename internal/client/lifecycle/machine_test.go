package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/expiryx/internal/client/cache"
	"github.com/dmitrijs2005/expiryx/internal/client/ledger"
	"github.com/dmitrijs2005/expiryx/internal/client/ledger/simulated"
	"github.com/dmitrijs2005/expiryx/internal/client/syncer"
	"github.com/dmitrijs2005/expiryx/internal/permission"
)

const (
	owner   = "0xa11ce"
	spender = "0xb0b"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newLedger(t *testing.T, clk *clock, opts simulated.Options) *simulated.Ledger {
	t.Helper()
	opts.Now = clk.Now
	l, err := simulated.Open(opts)
	require.NoError(t, err)
	return l
}

// newClient builds one client of the ledger: its own cache, engine and
// machine, acting as the principal a is bound to.
func newClient(t *testing.T, a ledger.Adapter, clk *clock) *Machine {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, cache.RunMigrations(context.Background(), db))
	store := cache.New(cache.NewSQLiteBackend(db), nil)
	require.NoError(t, store.Init(context.Background()))

	e := syncer.New(a, store, syncer.Config{RetryBase: time.Millisecond, RetryCap: time.Millisecond},
		syncer.WithClock(clk.Now))
	t.Cleanup(e.Close)

	n := 0
	return New(e, WithClock(clk.Now), WithIDs(func() string {
		n++
		return fmt.Sprintf("perm-%d", n)
	}))
}

func grant(t *testing.T, m *Machine, amount uint64, expiry time.Time) permission.Record {
	t.Helper()
	r, err := m.Grant(context.Background(), GrantRequest{Spender: spender, Amount: amount, Expiry: expiry})
	require.NoError(t, err)
	return r
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	got, ok := KindOf(err)
	require.True(t, ok, "not a lifecycle error: %v", err)
	assert.Equal(t, kind, got, "error: %v", err)
}

func TestRecord_ExpiresWithTime(t *testing.T) {
	clk := newClock()
	l := newLedger(t, clk, simulated.Options{})
	o := newClient(t, l.As(owner), clk)

	r := grant(t, o, 100, clk.Now().Add(time.Hour))
	assert.Equal(t, permission.StatusActive, r.Status(clk.Now()))

	clk.Advance(3601 * time.Second)
	e, err := o.Record(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, permission.StatusExpired, e.Record.Status(o.Now()))
}

func TestGrant_RoundTrip(t *testing.T) {
	clk := newClock()
	l := newLedger(t, clk, simulated.Options{})
	o := newClient(t, l.As(owner), clk)
	expiry := clk.Now().Add(2 * time.Hour)

	r, err := o.Grant(context.Background(), GrantRequest{
		Spender: "0xB0B", Amount: 250, Expiry: expiry, Scope: permission.ScopeDownload,
		Resource: &permission.Resource{Name: "report.pdf", Size: 1024, MediaType: "application/pdf", ContentRef: "obj/1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "perm-1", r.ID)

	got, ok, err := l.As(spender).FetchRecord(context.Background(), r.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, owner, got.Owner)
	assert.Equal(t, spender, got.Spender)
	assert.EqualValues(t, 250, got.Amount)
	assert.True(t, expiry.Equal(got.Expiry))
	assert.Equal(t, permission.ScopeDownload, got.Scope)
	require.NotNil(t, got.Resource)
	assert.Equal(t, "report.pdf", got.Resource.Name)
}

func TestGrant_Validation(t *testing.T) {
	clk := newClock()
	l := newLedger(t, clk, simulated.Options{})
	o := newClient(t, l.As(owner), clk)
	ctx := context.Background()
	later := clk.Now().Add(time.Hour)

	tests := []struct {
		name string
		req  GrantRequest
		want error
	}{
		{"zero amount", GrantRequest{Spender: spender, Amount: 0, Expiry: later}, permission.ErrInvalidAmount},
		{"past expiry", GrantRequest{Spender: spender, Amount: 1, Expiry: clk.Now()}, permission.ErrInvalidExpiry},
		{"self grant", GrantRequest{Spender: "0xA11CE", Amount: 1, Expiry: later}, permission.ErrInvalidSpender},
		{"bad address", GrantRequest{Spender: "bob", Amount: 1, Expiry: later}, permission.ErrInvalidSpender},
		{"bad scope", GrantRequest{Spender: spender, Amount: 1, Expiry: later, Scope: "admin"}, permission.ErrInvalidScope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Grant(ctx, tt.req)
			requireKind(t, err, KindValidation)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
	assert.Empty(t, l.Transactions(), "nothing reaches the ledger")
}

func TestSpend_InsufficientAllowance(t *testing.T) {
	clk := newClock()
	l := newLedger(t, clk, simulated.Options{})
	o := newClient(t, l.As(owner), clk)
	s := newClient(t, l.As(spender), clk)
	ctx := context.Background()

	r := grant(t, o, 100, clk.Now().Add(time.Hour))

	got, err := s.Spend(ctx, r.ID, 60, "")
	require.NoError(t, err)
	assert.EqualValues(t, 60, got.Spent)
	assert.Equal(t, permission.StatusActive, got.Status(clk.Now()))

	_, err = s.Spend(ctx, r.ID, 50, "")
	requireKind(t, err, KindValidation)
	assert.ErrorIs(t, err, permission.ErrInsufficientAllowance)

	e, err := s.Record(ctx, r.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 60, e.Record.Spent)
	onLedger, _, err := l.As(spender).FetchRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 60, onLedger.Spent)
}

func TestSpend_AfterExpiry(t *testing.T) {
	clk := newClock()
	l := newLedger(t, clk, simulated.Options{})
	o := newClient(t, l.As(owner), clk)
	s := newClient(t, l.As(spender), clk)
	ctx := context.Background()

	r := grant(t, o, 100, clk.Now().Add(10*time.Second))

	clk.Advance(5 * time.Second)
	_, err := s.Spend(ctx, r.ID, 10, "")
	require.NoError(t, err)

	clk.Advance(6 * time.Second)
	_, err = s.Spend(ctx, r.ID, 10, "")
	requireKind(t, err, KindValidation)
	assert.ErrorIs(t, err, permission.ErrPermissionExpired)
}

func TestSpend_ConcurrentSpendsFromTwoClients(t *testing.T) {
	clk := newClock()
	l := newLedger(t, clk, simulated.Options{TransactionDelay: 30 * time.Millisecond})
	o := newClient(t, l.As(owner), clk)
	ctx := context.Background()
	r := grant(t, o, 100, clk.Now().Add(time.Hour))

	clients := []*Machine{newClient(t, l.As(spender), clk), newClient(t, l.As(spender), clk)}
	for _, c := range clients {
		_, err := c.Sync(ctx)
		require.NoError(t, err)
	}

	errs := make([]error, len(clients))
	var wg sync.WaitGroup
	for i, c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Spend(ctx, r.ID, 60, "")
		}()
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			assert.ErrorIs(t, err, permission.ErrInsufficientAllowance)
			requireKind(t, err, KindValidation)
		}
	}
	assert.Equal(t, 1, failed, "exactly one spend wins: %v", errs)

	onLedger, _, err := l.As(spender).FetchRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 60, onLedger.Spent)
	for _, c := range clients {
		e, err := c.Record(ctx, r.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 60, e.Record.Spent)
	}
}

func TestSpend_ConcurrentSpendsFromOneClient(t *testing.T) {
	clk := newClock()
	l := newLedger(t, clk, simulated.Options{TransactionDelay: 20 * time.Millisecond})
	o := newClient(t, l.As(owner), clk)
	s := newClient(t, l.As(spender), clk)
	ctx := context.Background()
	r := grant(t, o, 100, clk.Now().Add(time.Hour))
	_, err := s.Sync(ctx)
	require.NoError(t, err)

	errs := make(chan error, 2)
	for range 2 {
		go func() {
			_, err := s.Spend(ctx, r.ID, 60, "")
			errs <- err
		}()
	}

	var failures []error
	for range 2 {
		if err := <-errs; err != nil {
			failures = append(failures, err)
		}
	}
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], permission.ErrInsufficientAllowance)

	onLedger, _, err := l.As(spender).FetchRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 60, onLedger.Spent)
}

// pausingAdapter captures a poll result and holds it until released, so a
// mutation can land between the ledger read and the reconciliation.
type pausingAdapter struct {
	ledger.Adapter
	fetched chan struct{}
	release chan struct{}
}

func (p *pausingAdapter) FetchRecordsByOwner(ctx context.Context, o string) ([]permission.Record, error) {
	rs, err := p.Adapter.FetchRecordsByOwner(ctx, o)
	if p.fetched != nil {
		close(p.fetched)
		<-p.release
		p.fetched = nil
	}
	return rs, err
}

func TestSync_StalePollAfterRevoke(t *testing.T) {
	clk := newClock()
	l := newLedger(t, clk, simulated.Options{})
	pa := &pausingAdapter{Adapter: l.As(owner)}
	o := newClient(t, pa, clk)
	ctx := context.Background()
	r := grant(t, o, 100, clk.Now().Add(time.Hour))

	pa.fetched = make(chan struct{})
	pa.release = make(chan struct{})
	fetched := pa.fetched

	type result struct {
		res syncer.TickResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := o.Sync(ctx)
		done <- result{res, err}
	}()
	<-fetched

	revoked, err := o.Revoke(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, revoked.Revoked)

	close(pa.release)
	tick := <-done
	require.NoError(t, tick.err)
	assert.Equal(t, 1, tick.res.Discarded)

	e, err := o.Record(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, permission.StatusRevoked, e.Record.Status(clk.Now()))
	assert.False(t, e.IsPending())
}

func TestRevoke_Idempotent(t *testing.T) {
	clk := newClock()
	l := newLedger(t, clk, simulated.Options{})
	o := newClient(t, l.As(owner), clk)
	ctx := context.Background()
	r := grant(t, o, 100, clk.Now().Add(time.Hour))

	first, err := o.Revoke(ctx, r.ID)
	require.NoError(t, err)
	txs := len(l.Transactions())

	second, err := o.Revoke(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Revoked, second.Revoked)
	assert.Len(t, l.Transactions(), txs, "second revoke is a no-op")
}

func TestRevoke_AlreadyRevokedElsewhere(t *testing.T) {
	clk := newClock()
	l := newLedger(t, clk, simulated.Options{})
	o := newClient(t, l.As(owner), clk)
	ctx := context.Background()
	r := grant(t, o, 100, clk.Now().Add(time.Hour))

	_, err := l.As(owner).SubmitRevoke(ctx, r.ID)
	require.NoError(t, err)

	got, err := o.Revoke(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, got.Revoked)

	e, err := o.Record(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, e.Record.Revoked)
	assert.False(t, e.IsPending())
}

// heldRevokeAdapter holds the first revocation until gate closes and then
// rejects it. Later revocations reach the ledger.
type heldRevokeAdapter struct {
	ledger.Adapter
	entered chan struct{}
	gate    chan struct{}

	mu    sync.Mutex
	calls int
}

func (h *heldRevokeAdapter) SubmitRevoke(ctx context.Context, id string) (ledger.Receipt, error) {
	h.mu.Lock()
	h.calls++
	first := h.calls == 1
	h.mu.Unlock()

	if first {
		close(h.entered)
		<-h.gate
		return ledger.Receipt{}, ledger.Rejected("revoke", string(permission.ReasonNotAuthorized))
	}
	return h.Adapter.SubmitRevoke(ctx, id)
}

func TestRevoke_WaitsForPendingRevocation(t *testing.T) {
	clk := newClock()
	l := newLedger(t, clk, simulated.Options{})
	ha := &heldRevokeAdapter{Adapter: l.As(owner), entered: make(chan struct{}), gate: make(chan struct{})}
	o := newClient(t, ha, clk)
	ctx := context.Background()
	r := grant(t, o, 100, clk.Now().Add(time.Hour))

	first := make(chan error, 1)
	go func() {
		_, err := o.Revoke(ctx, r.ID)
		first <- err
	}()
	<-ha.entered

	type result struct {
		rec permission.Record
		err error
	}
	second := make(chan result, 1)
	go func() {
		rec, err := o.Revoke(ctx, r.ID)
		second <- result{rec, err}
	}()

	select {
	case res := <-second:
		t.Fatalf("second revoke returned before the first settled: %+v", res)
	case <-time.After(50 * time.Millisecond):
	}

	close(ha.gate)
	requireKind(t, <-first, KindSubmissionFailed)

	res := <-second
	require.NoError(t, res.err)
	assert.True(t, res.rec.Revoked)

	onLedger, found, err := l.As(owner).FetchRecord(ctx, r.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, onLedger.Revoked, "the second revoke reached the ledger")
}

func TestRevoke_NotOwner(t *testing.T) {
	clk := newClock()
	l := newLedger(t, clk, simulated.Options{})
	o := newClient(t, l.As(owner), clk)
	s := newClient(t, l.As(spender), clk)
	r := grant(t, o, 100, clk.Now().Add(time.Hour))

	_, err := s.Revoke(context.Background(), r.ID)
	requireKind(t, err, KindValidation)
	assert.ErrorIs(t, err, permission.ErrNotAuthorized)
}

func TestRevokedNeverSpendable(t *testing.T) {
	clk := newClock()
	l := newLedger(t, clk, simulated.Options{})
	o := newClient(t, l.As(owner), clk)
	s := newClient(t, l.As(spender), clk)
	ctx := context.Background()
	r := grant(t, o, 100, clk.Now().Add(time.Hour))

	// The spender caches the record before the revoke, so its view is stale.
	_, err := s.Record(ctx, r.ID)
	require.NoError(t, err)
	_, err = o.Revoke(ctx, r.ID)
	require.NoError(t, err)

	for _, amount := range []uint64{1, 50, 100} {
		_, err := s.Spend(ctx, r.ID, amount, "")
		requireKind(t, err, KindValidation)
		assert.ErrorIs(t, err, permission.ErrPermissionRevoked)
	}
	onLedger, _, err := l.As(spender).FetchRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Zero(t, onLedger.Spent)
}

func TestSpend_OnlyBySpender(t *testing.T) {
	clk := newClock()
	l := newLedger(t, clk, simulated.Options{})
	o := newClient(t, l.As(owner), clk)
	r := grant(t, o, 100, clk.Now().Add(time.Hour))

	_, err := o.Spend(context.Background(), r.ID, 1, "")
	requireKind(t, err, KindValidation)
	assert.ErrorIs(t, err, permission.ErrNotAuthorized)
}

func TestSpend_UnknownPermission(t *testing.T) {
	clk := newClock()
	l := newLedger(t, clk, simulated.Options{})
	s := newClient(t, l.As(spender), clk)

	_, err := s.Spend(context.Background(), "nope", 1, "")
	requireKind(t, err, KindNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSpend_InvalidRecipient(t *testing.T) {
	clk := newClock()
	l := newLedger(t, clk, simulated.Options{})
	s := newClient(t, l.As(spender), clk)

	_, err := s.Spend(context.Background(), "p", 1, "not-an-address")
	requireKind(t, err, KindValidation)
}

func TestSpend_SpentStaysWithinBounds(t *testing.T) {
	clk := newClock()
	l := newLedger(t, clk, simulated.Options{})
	o := newClient(t, l.As(owner), clk)
	s := newClient(t, l.As(spender), clk)
	ctx := context.Background()
	r := grant(t, o, 1000, clk.Now().Add(time.Hour))

	rng := rand.New(rand.NewSource(7))
	var last uint64
	for i := 0; i < 40; i++ {
		_, _ = s.Spend(ctx, r.ID, uint64(rng.Intn(120)), "")

		e, err := s.Record(ctx, r.ID)
		require.NoError(t, err)
		assert.LessOrEqual(t, e.Record.Spent, e.Record.Amount)
		assert.GreaterOrEqual(t, e.Record.Spent, last, "spent never decreases")
		last = e.Record.Spent
	}
	onLedger, _, err := l.As(spender).FetchRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, last, onLedger.Spent)
}

// scriptedAdapter fails spend submissions with a fixed error.
type scriptedAdapter struct {
	ledger.Adapter
	spendErr error
}

func (s *scriptedAdapter) SubmitSpend(ctx context.Context, id string, amount uint64, recipient string) (ledger.Receipt, error) {
	return ledger.Receipt{}, s.spendErr
}

func TestSpend_StaleRetryExhausted(t *testing.T) {
	clk := newClock()
	l := newLedger(t, clk, simulated.Options{})
	o := newClient(t, l.As(owner), clk)
	r := grant(t, o, 100, clk.Now().Add(time.Hour))

	s := newClient(t, &scriptedAdapter{
		Adapter:  l.As(spender),
		spendErr: ledger.Rejected("spend", string(permission.ReasonInsufficientAllowance)),
	}, clk)

	_, err := s.Spend(context.Background(), r.ID, 10, "")
	requireKind(t, err, KindStaleRetryExhausted)
	assert.ErrorIs(t, err, ErrStaleRetryExhausted)
	assert.ErrorIs(t, err, ledger.ErrRejected)
}

func TestSpend_SubmissionOutcomes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"timeout", ledger.Wrap("spend", ledger.KindTimeout, context.DeadlineExceeded), KindSubmissionUncertain},
		{"unreachable", ledger.Wrap("spend", ledger.KindUnreachable, errors.New("connection reset")), KindSubmissionUncertain},
		{"malformed", ledger.Wrap("spend", ledger.KindMalformed, errors.New("bad json")), KindSubmissionUncertain},
		{"not authorized", ledger.Rejected("spend", string(permission.ReasonNotAuthorized)), KindSubmissionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := newClock()
			l := newLedger(t, clk, simulated.Options{})
			o := newClient(t, l.As(owner), clk)
			r := grant(t, o, 100, clk.Now().Add(time.Hour))
			s := newClient(t, &scriptedAdapter{Adapter: l.As(spender), spendErr: tt.err}, clk)
			ctx := context.Background()

			_, err := s.Spend(ctx, r.ID, 10, "")
			requireKind(t, err, tt.kind)

			require.Eventually(t, func() bool {
				e, err := s.Record(ctx, r.ID)
				return err == nil && !e.IsPending() && e.Record.Spent == 0
			}, 2*time.Second, 5*time.Millisecond, "optimistic spend rolled back")
		})
	}
}

func TestExtend(t *testing.T) {
	clk := newClock()
	l := newLedger(t, clk, simulated.Options{AllowExtend: true})
	o := newClient(t, l.As(owner), clk)
	ctx := context.Background()
	r := grant(t, o, 100, clk.Now().Add(time.Hour))

	_, err := o.Extend(ctx, r.ID, r.Expiry)
	requireKind(t, err, KindValidation)
	assert.ErrorIs(t, err, permission.ErrInvalidExpiry)

	got, err := o.Extend(ctx, r.ID, r.Expiry.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, got.Expiry.Equal(r.Expiry.Add(24*time.Hour)))

	clk.Advance(48 * time.Hour)
	_, err = o.Extend(ctx, r.ID, clk.Now().Add(time.Hour))
	requireKind(t, err, KindValidation)
	assert.ErrorIs(t, err, permission.ErrPermissionExpired)
}

func TestExtend_Unsupported(t *testing.T) {
	clk := newClock()
	l := newLedger(t, clk, simulated.Options{})
	o := newClient(t, l.As(owner), clk)
	r := grant(t, o, 100, clk.Now().Add(time.Hour))

	_, err := o.Extend(context.Background(), r.ID, r.Expiry.Add(time.Hour))
	requireKind(t, err, KindUnsupported)
	assert.ErrorIs(t, err, ledger.ErrUnsupported)

	e, err := o.Record(context.Background(), r.ID)
	require.NoError(t, err)
	assert.True(t, e.Record.Expiry.Equal(r.Expiry), "no local-only extension")
}

func TestError_Message(t *testing.T) {
	err := newError("spend", "p1", KindValidation, permission.ErrPermissionExpired)
	assert.Equal(t, "spend p1: validation failed: permission expired", err.Error())
	assert.Equal(t, "list: internal error: boom", newError("list", "", KindInternal, errors.New("boom")).Error())
}
