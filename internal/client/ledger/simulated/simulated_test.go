package simulated

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/expiryx/internal/client/ledger"
	"github.com/dmitrijs2005/expiryx/internal/common"
	"github.com/dmitrijs2005/expiryx/internal/permission"
)

const (
	owner   = "0xa11ce"
	spender = "0xb0b"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openLedger(t *testing.T, opts Options) *Ledger {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() time.Time { return t0 }
	}
	l, err := Open(opts)
	require.NoError(t, err)
	return l
}

func grant(t *testing.T, a ledger.Adapter, id string, amount uint64) permission.Record {
	t.Helper()
	rc, err := a.SubmitGrant(context.Background(), ledger.GrantSpec{
		ID: id, Spender: spender, Amount: amount, Expiry: t0.Add(time.Hour), Scope: permission.ScopeView,
	})
	require.NoError(t, err)
	require.NotNil(t, rc.Record)
	require.NotEmpty(t, rc.TxRef)
	return *rc.Record
}

func TestLifecycleOnSimulatedLedger(t *testing.T) {
	l := openLedger(t, Options{})
	o, s := l.As(owner), l.As(spender)
	ctx := context.Background()

	r := grant(t, o, "p1", 100)
	assert.Equal(t, owner, r.Owner)
	assert.Equal(t, spender, r.Spender)
	assert.Equal(t, t0.Add(time.Hour), r.Expiry)
	assert.Equal(t, t0, r.CreatedAt)

	rc, err := s.SubmitSpend(ctx, "p1", 60, "")
	require.NoError(t, err)
	assert.EqualValues(t, 60, rc.Record.Spent)

	_, err = s.SubmitSpend(ctx, "p1", 50, "")
	require.ErrorIs(t, err, ledger.ErrRejected)
	assert.ErrorIs(t, err, permission.ErrInsufficientAllowance)

	_, err = o.SubmitSpend(ctx, "p1", 1, "")
	assert.ErrorIs(t, err, permission.ErrNotAuthorized)

	_, err = s.SubmitRevoke(ctx, "p1")
	assert.ErrorIs(t, err, permission.ErrNotAuthorized)

	rc, err = o.SubmitRevoke(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, rc.Record)

	_, err = o.SubmitRevoke(ctx, "p1")
	assert.ErrorIs(t, err, permission.ErrAlreadyRevoked)

	got, ok, err := s.FetchRecord(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Revoked)
	assert.EqualValues(t, 60, got.Spent)

	_, ok, err = s.FetchRecord(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	log := l.Transactions()
	require.Len(t, log, 7)
	assert.False(t, log[0].Rejected)
	assert.True(t, log[2].Rejected)
	assert.Equal(t, "insufficient_allowance", log[2].Reason)
}

func TestGrant_DuplicateID(t *testing.T) {
	l := openLedger(t, Options{})
	grant(t, l.As(owner), "p1", 10)

	_, err := l.As(owner).SubmitGrant(context.Background(), ledger.GrantSpec{
		ID: "p1", Spender: spender, Amount: 10, Expiry: t0.Add(time.Hour),
	})
	reason, _ := ledger.ReasonOf(err)
	assert.Equal(t, "already_exists", reason)
}

func TestExtend_Capability(t *testing.T) {
	ctx := context.Background()

	l := openLedger(t, Options{})
	caps, err := l.As(owner).Capabilities(ctx)
	require.NoError(t, err)
	assert.False(t, caps.Extend)
	grant(t, l.As(owner), "p1", 10)
	_, err = l.As(owner).SubmitExtend(ctx, "p1", t0.Add(2*time.Hour))
	reason, _ := ledger.ReasonOf(err)
	assert.Equal(t, "unsupported_operation", reason)

	l = openLedger(t, Options{AllowExtend: true})
	grant(t, l.As(owner), "p1", 10)
	rc, err := l.As(owner).SubmitExtend(ctx, "p1", t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(2*time.Hour), rc.Record.Expiry)
}

func TestFetchByPrincipal(t *testing.T) {
	l := openLedger(t, Options{})
	grant(t, l.As(owner), "b", 10)
	grant(t, l.As(owner), "a", 10)
	_, err := l.As(spender).SubmitGrant(context.Background(), ledger.GrantSpec{
		ID: "c", Spender: owner, Amount: 5, Expiry: t0.Add(time.Hour),
	})
	require.NoError(t, err)

	owned, err := l.As(spender).FetchRecordsByOwner(context.Background(), "0xA11CE")
	require.NoError(t, err)
	require.Len(t, owned, 2)
	assert.Equal(t, "a", owned[0].ID)

	spending, err := l.As(owner).FetchRecordsBySpender(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, spending, 1)
	assert.Equal(t, "c", spending[0].ID)
}

func TestDelay_HonoursContext(t *testing.T) {
	l := openLedger(t, Options{TransactionDelay: time.Hour, ConnectionDelay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := l.As(owner).SubmitGrant(ctx, ledger.GrantSpec{ID: "p1", Spender: spender, Amount: 1, Expiry: t0.Add(time.Hour)})
	require.ErrorIs(t, err, ledger.ErrTimeout)
	assert.Zero(t, l.Status().TotalPermissions)

	_, err = l.As(owner).FetchRecordsByOwner(ctx, owner)
	assert.ErrorIs(t, err, ledger.ErrTimeout)
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")

	l := openLedger(t, Options{StatePath: path})
	grant(t, l.As(owner), "p1", 100)
	_, err := l.As(spender).SubmitSpend(context.Background(), "p1", 30, "")
	require.NoError(t, err)

	reopened := openLedger(t, Options{StatePath: path})
	st := reopened.Status()
	assert.Equal(t, 1, st.TotalPermissions)
	assert.EqualValues(t, 2, st.Height)

	r, ok, err := reopened.As(owner).FetchRecord(context.Background(), "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 30, r.Spent)

	require.NoError(t, reopened.Clear())
	again := openLedger(t, Options{StatePath: path})
	assert.Zero(t, again.Status().TotalPermissions)
}

func TestOpen_CorruptState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Open(Options{StatePath: path})
	assert.ErrorIs(t, err, common.ErrCorruptData)
}

const seed = `{
  // two defaults, one of them already revoked
  "permissions": [
    {"id": "seed-1", "owner": "0xA11CE", "spender": "0xb0b", "amount": "1.5", "expires_in": "720h"},
    {"owner": "0xa11ce", "spender": "0xc0ffee", "amount": "2", "spent": "0.5", "expires_in": "1h",
     "revoked": true, "scope": "download"},
  ],
}`

func TestOpen_Seed(t *testing.T) {
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.jsonc")
	require.NoError(t, os.WriteFile(seedPath, []byte(seed), 0o600))
	statePath := filepath.Join(dir, "ledger.json")

	l := openLedger(t, Options{StatePath: statePath, SeedPath: seedPath})
	assert.Equal(t, 2, l.Status().TotalPermissions)

	r, ok, err := l.As(owner).FetchRecord(context.Background(), "seed-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 150_000_000, r.Amount)
	assert.Equal(t, owner, r.Owner)
	assert.Equal(t, t0.Add(720*time.Hour), r.Expiry)

	// saved state wins over the seed on the next start
	require.NoError(t, l.Clear())
	l = openLedger(t, Options{StatePath: statePath, SeedPath: seedPath})
	assert.Zero(t, l.Status().TotalPermissions)
}

func TestParseSeed_Invalid(t *testing.T) {
	_, err := ParseSeed([]byte(`{"permissions":[{"owner":"0xa","spender":"0xb","amount":"1","spent":"2"}]}`), t0)
	assert.Error(t, err)

	_, err = ParseSeed([]byte(`{"permissions":[{"owner":"alice","spender":"0xb","amount":"1"}]}`), t0)
	assert.Error(t, err)
}

func TestExport(t *testing.T) {
	l := openLedger(t, Options{Network: "devnet"})
	grant(t, l.As(owner), "p1", 100)

	var buf bytes.Buffer
	require.NoError(t, l.Export(&buf))

	var snap snapshot
	require.NoError(t, json.Unmarshal(buf.Bytes(), &snap))
	assert.Equal(t, "devnet", snap.Network)
	require.Len(t, snap.Permissions, 1)
	require.NotNil(t, snap.ExportedAt)
}
