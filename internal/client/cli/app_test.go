package cli

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/expiryx/internal/client/cache"
	"github.com/dmitrijs2005/expiryx/internal/client/config"
	"github.com/dmitrijs2005/expiryx/internal/client/ledger"
	"github.com/dmitrijs2005/expiryx/internal/client/ledger/simulated"
	"github.com/dmitrijs2005/expiryx/internal/client/services"
	"github.com/dmitrijs2005/expiryx/internal/common"
	"github.com/dmitrijs2005/expiryx/internal/logging"
	"github.com/dmitrijs2005/expiryx/internal/permission"
)

func newTestApp(t *testing.T, input string) (*App, *bytes.Buffer) {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	require.NoError(t, cache.RunMigrations(ctx, db))
	b := cache.NewSQLiteBackend(db)
	store := cache.New(b, nil)
	require.NoError(t, store.Init(ctx))

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.Simulated = config.Simulated{AllowExtend: true}
	cfg.OnlineCheckInterval = time.Hour

	sim, err := simulated.Open(cfg.SimulatedOptions())
	require.NoError(t, err)

	var out bytes.Buffer
	a := &App{
		config:  cfg,
		log:     logging.Nop(),
		reader:  bufio.NewReader(strings.NewReader(input)),
		out:     &out,
		backend: b,
		store:   store,
		wallets: services.NewWalletService(b.Metadata),
		sim:     sim,
	}
	t.Cleanup(a.Close)
	return a, &out
}

func stubPassword(t *testing.T, pass string) {
	t.Helper()
	old := getPassword
	getPassword = func(string, io.Writer) ([]byte, error) { return []byte(pass), nil }
	t.Cleanup(func() { getPassword = old })
}

func onlyID(t *testing.T, a *App) string {
	t.Helper()
	views, err := a.current().permissions.List(context.Background(), services.ListFilter{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	return views[0].ID
}

func TestApp_PermissionFlow(t *testing.T) {
	ctx := context.Background()
	a, out := newTestApp(t, "y\n")
	stubPassword(t, "correct horse")

	assert.False(t, a.unlocked())
	assert.Equal(t, "locked", a.status())
	assert.ErrorIs(t, a.Grant(ctx, []string{"0xb0b", "1", "1h"}), common.ErrWalletLocked)

	require.NoError(t, a.Wallet(ctx, []string{"create"}))
	require.True(t, a.unlocked())
	assert.Contains(t, out.String(), "Wallet created: 0x")
	principal := a.current().principal

	require.NoError(t, a.Grant(ctx, []string{"0xb0b", "1.5", "2h", "full"}))
	assert.Contains(t, out.String(), "Granted ")
	id := onlyID(t, a)

	out.Reset()
	require.NoError(t, a.List(ctx, []string{"owner", "active"}))
	assert.Contains(t, out.String(), id)
	assert.Contains(t, out.String(), "to 0xb0b")
	assert.Contains(t, out.String(), "1.5/1.5")

	out.Reset()
	require.NoError(t, a.Show(ctx, []string{id}))
	assert.Contains(t, out.String(), "Owner:")
	assert.Contains(t, out.String(), principal)

	require.NoError(t, a.Extend(ctx, []string{id, "3d"}))
	require.NoError(t, a.Revoke(ctx, []string{id}))

	out.Reset()
	require.NoError(t, a.Summary(ctx, nil))
	assert.Contains(t, out.String(), "revoked:")
	assert.Contains(t, out.String(), "Total:")

	out.Reset()
	require.NoError(t, a.Refresh(ctx, nil))
	assert.Contains(t, out.String(), "Synced: ")

	path := filepath.Join(t.TempDir(), "cache.zst")
	require.NoError(t, a.Export(ctx, []string{path}))
	f, err := os.Open(path)
	require.NoError(t, err)
	entries, err := cache.ReadExport(f)
	_ = f.Close()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Record.Revoked)

	require.NoError(t, a.Sim(ctx, []string{"clear"}))
	assert.Zero(t, a.sim.Status().TotalPermissions)

	require.NoError(t, a.Lock(ctx))
	assert.False(t, a.unlocked())
}

func TestApp_WalletUnlock(t *testing.T) {
	ctx := context.Background()
	a, out := newTestApp(t, "")

	stubPassword(t, "pw")
	assert.ErrorIs(t, a.Wallet(ctx, []string{"unlock"}), common.ErrWalletMissing)
	require.NoError(t, a.Wallet(ctx, []string{"create"}))
	require.NoError(t, a.Lock(ctx))

	stubPassword(t, "nope")
	assert.ErrorIs(t, a.Wallet(ctx, []string{"unlock"}), common.ErrWrongPassphrase)
	assert.False(t, a.unlocked())

	stubPassword(t, "pw")
	require.NoError(t, a.Wallet(ctx, []string{"unlock"}))
	assert.True(t, a.unlocked())
	assert.Contains(t, out.String(), "Unlocked 0x")

	out.Reset()
	require.NoError(t, a.Wallet(ctx, []string{"address"}))
	assert.Equal(t, a.current().principal+"\n", out.String())
}

func TestApp_Usage(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestApp(t, "")
	stubPassword(t, "pw")
	require.NoError(t, a.Wallet(ctx, []string{"create"}))

	for _, call := range []func() error{
		func() error { return a.Wallet(ctx, nil) },
		func() error { return a.Grant(ctx, []string{"0xb0b"}) },
		func() error { return a.Spend(ctx, []string{"id"}) },
		func() error { return a.List(ctx, []string{"pending"}) },
		func() error { return a.Refresh(ctx, []string{"a", "b"}) },
		func() error { return a.Sim(ctx, []string{"explode"}) },
	} {
		assert.ErrorIs(t, call(), errUsage)
	}

	assert.ErrorIs(t, a.Grant(ctx, []string{"0xb0b", "-1", "1h"}), permission.ErrInvalidAmount)
	assert.ErrorIs(t, a.Grant(ctx, []string{"0xb0b", "1", "whenever"}), permission.ErrInvalidExpiry)
	assert.ErrorIs(t, a.Share(ctx, []string{"f.txt", "0xb0b", "1", "1h"}), ledger.ErrUnsupported)
}

func TestApp_LinkState(t *testing.T) {
	a, _ := newTestApp(t, "")
	a.session = &session{principal: "0x0123456789abcdef"}
	defer func() { a.session = nil }()

	assert.Equal(t, "0x0123...cdef", a.status())
	a.setLink(LinkOnline)
	assert.Equal(t, "0x0123...cdef online", a.status())
	a.setLink(LinkOffline)
	assert.Equal(t, "0x0123...cdef offline", a.status())
}
