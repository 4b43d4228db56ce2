package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/expiryx/internal/client/config"
	"github.com/dmitrijs2005/expiryx/internal/client/lifecycle"
	"github.com/dmitrijs2005/expiryx/internal/client/services"
	"github.com/dmitrijs2005/expiryx/internal/common"
	"github.com/dmitrijs2005/expiryx/internal/filex"
	"github.com/dmitrijs2005/expiryx/internal/netx"
	"github.com/dmitrijs2005/expiryx/internal/permission"
)

// getPassword is an indirection used to facilitate testing.
var getPassword = GetPassword

var (
	errUsage  = errors.New("usage")
	errLocked = fmt.Errorf("%w: run 'wallet unlock' first", common.ErrWalletLocked)
)

const defaultPruneAge = 30 * 24 * time.Hour

// userError is a message for the user as is.
type userError string

func (e userError) Error() string { return string(e) }

func (a *App) requireSession() (*session, error) {
	s := a.current()
	if s == nil {
		return nil, errLocked
	}
	return s, nil
}

// Wallet handles "wallet create|unlock|address".
func (a *App) Wallet(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	switch args[0] {
	case "create":
		return a.walletCreate(ctx)
	case "unlock":
		return a.walletUnlock(ctx)
	case "address":
		addr, err := a.wallets.Address(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, addr)
		return nil
	}
	return errUsage
}

func (a *App) walletCreate(ctx context.Context) error {
	pass, err := getPassword("New passphrase", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pass)
	again, err := getPassword("Repeat passphrase", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(again)
	if string(pass) != string(again) {
		return userError("Passphrases do not match.")
	}

	addr, err := a.wallets.Create(ctx, pass)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Wallet created: %s\n", addr)

	key, err := a.wallets.Unlock(ctx, pass)
	if err != nil {
		return err
	}
	return a.startSession(ctx, key)
}

func (a *App) walletUnlock(ctx context.Context) error {
	pass, err := getPassword("Passphrase", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pass)

	key, err := a.wallets.Unlock(ctx, pass)
	if err != nil {
		return err
	}
	if err := a.startSession(ctx, key); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Unlocked %s\n", a.current().principal)
	return nil
}

// Lock ends the session. The cache stays.
func (a *App) Lock(ctx context.Context) error {
	a.endSession()
	fmt.Fprintln(a.out, "Locked.")
	return nil
}

func (a *App) printRecord(verb string, r permission.Record) {
	fmt.Fprintf(a.out, "%s %s (%s of %s left, expires %s)\n",
		verb, r.ID, permission.FormatAmount(r.Remaining()), permission.FormatAmount(r.Amount), r.Expiry.Format(time.RFC3339))
}

// Grant handles "grant <spender> <amount> <expiry> [scope]".
func (a *App) Grant(ctx context.Context, args []string) error {
	if len(args) < 3 || len(args) > 4 {
		return errUsage
	}
	s, err := a.requireSession()
	if err != nil {
		return err
	}
	req, err := grantRequest(args, time.Now())
	if err != nil {
		return err
	}
	r, err := s.permissions.RequestGrant(ctx, req)
	if err != nil {
		return err
	}
	a.printRecord("Granted", r)
	return nil
}

func grantRequest(args []string, now time.Time) (lifecycle.GrantRequest, error) {
	amount, err := permission.ParseAmount(args[1])
	if err != nil {
		return lifecycle.GrantRequest{}, err
	}
	expiry, err := ParseExpiry(args[2], now)
	if err != nil {
		return lifecycle.GrantRequest{}, err
	}
	req := lifecycle.GrantRequest{Spender: args[0], Amount: amount, Expiry: expiry}
	if len(args) == 4 {
		req.Scope = permission.Scope(args[3])
	}
	return req, nil
}

// Share handles "share <file> <spender> <amount> <expiry> [scope]": the file
// is uploaded and attached to a new grant.
func (a *App) Share(ctx context.Context, args []string) error {
	if len(args) < 4 || len(args) > 5 {
		return errUsage
	}
	s, err := a.requireSession()
	if err != nil {
		return err
	}
	req, err := grantRequest(args[1:], time.Now())
	if err != nil {
		return err
	}
	if req.Scope == "" {
		req.Scope = permission.ScopeDownload
	}

	res, err := s.resources.Upload(ctx, args[0])
	if err != nil {
		return err
	}
	req.Resource = &res
	r, err := s.permissions.RequestGrant(ctx, req)
	if err != nil {
		return err
	}
	a.printRecord("Shared "+res.Name+" as", r)
	return nil
}

// Spend handles "spend <id> <amount> [recipient]".
func (a *App) Spend(ctx context.Context, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errUsage
	}
	s, err := a.requireSession()
	if err != nil {
		return err
	}
	amount, err := permission.ParseAmount(args[1])
	if err != nil {
		return err
	}
	var recipient string
	if len(args) == 3 {
		recipient = args[2]
	}
	r, err := s.permissions.RequestSpend(ctx, args[0], amount, recipient)
	if err != nil {
		return err
	}
	a.printRecord("Spent on", r)
	return nil
}

// Revoke handles "revoke <id>".
func (a *App) Revoke(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	s, err := a.requireSession()
	if err != nil {
		return err
	}
	r, err := s.permissions.RequestRevoke(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Revoked %s\n", r.ID)
	return nil
}

// Extend handles "extend <id> <expiry>".
func (a *App) Extend(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	s, err := a.requireSession()
	if err != nil {
		return err
	}
	expiry, err := ParseExpiry(args[1], time.Now())
	if err != nil {
		return err
	}
	r, err := s.permissions.RequestExtend(ctx, args[0], expiry)
	if err != nil {
		return err
	}
	a.printRecord("Extended", r)
	return nil
}

// listFilter reads "[owner|spender] [status]" in any order.
func listFilter(args []string) (services.ListFilter, error) {
	var f services.ListFilter
	for _, arg := range args {
		arg = strings.ToLower(arg)
		switch arg {
		case "owner", "spender":
			f.Role = arg
			continue
		}
		if _, err := permission.ParseStatus(arg); err != nil {
			return f, errUsage
		}
		f.Status = arg
	}
	return f, nil
}

// List handles "list [owner|spender] [status]".
func (a *App) List(ctx context.Context, args []string) error {
	s, err := a.requireSession()
	if err != nil {
		return err
	}
	f, err := listFilter(args)
	if err != nil {
		return err
	}
	views, err := s.permissions.List(ctx, f)
	if err != nil {
		return err
	}
	renderList(a.out, views)
	return nil
}

// Show handles "show <id>".
func (a *App) Show(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	s, err := a.requireSession()
	if err != nil {
		return err
	}
	v, err := s.permissions.Get(ctx, args[0])
	if err != nil {
		return err
	}
	renderView(a.out, v)
	return nil
}

// Refresh handles "refresh [id]".
func (a *App) Refresh(ctx context.Context, args []string) error {
	if len(args) > 1 {
		return errUsage
	}
	s, err := a.requireSession()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		v, err := s.permissions.RefreshOne(ctx, args[0])
		if err != nil {
			return err
		}
		renderView(a.out, v)
		return nil
	}
	res, err := s.permissions.Refresh(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Synced: %d fetched, %d updated, %d kept for pending changes\n", res.Fetched, res.Reconciled, res.Discarded)
	return nil
}

// Summary handles "summary".
func (a *App) Summary(ctx context.Context, args []string) error {
	s, err := a.requireSession()
	if err != nil {
		return err
	}
	sum, err := s.permissions.Summary(ctx)
	if err != nil {
		return err
	}
	at, err := s.permissions.LastSynced(ctx)
	if err != nil {
		return err
	}
	renderSummary(a.out, sum, at)
	return nil
}

// Download handles "download <id> [dir]".
func (a *App) Download(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errUsage
	}
	s, err := a.requireSession()
	if err != nil {
		return err
	}
	v, err := s.permissions.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if v.Resource == nil {
		return userError("This permission has no attached file.")
	}
	url, err := s.resources.DownloadURL(ctx, v.ID)
	if err != nil {
		return err
	}

	dir := "download"
	if len(args) == 2 {
		dir = args[1]
	}
	abs, err := filex.EnsureDir(dir)
	if err != nil {
		return err
	}
	path := filepath.Join(abs, filepath.Base(v.Resource.Name))
	n, err := netx.DownloadFromPresignedURL(ctx, nil, url, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Saved %s (%d bytes)\n", path, n)
	return nil
}

// Export handles "export <file>": the cache as zstd-compressed JSON lines.
func (a *App) Export(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	f, err := os.OpenFile(args[0], os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	n, err := a.store.Export(ctx, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Exported %d permissions to %s\n", n, args[0])
	return nil
}

// Prune handles "prune [age]".
func (a *App) Prune(ctx context.Context, args []string) error {
	if len(args) > 1 {
		return errUsage
	}
	age := defaultPruneAge
	if len(args) == 1 {
		d, err := ParseDuration(args[0])
		if err != nil {
			return err
		}
		age = d
	}
	n, err := a.store.Prune(ctx, age, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Pruned %d permissions that ended more than %s ago\n", n, humanizeDuration(age))
	return nil
}

// Status handles "status".
func (a *App) Status(ctx context.Context, args []string) error {
	fmt.Fprintf(a.out, "Mode: %s\n", a.config.Mode)
	if a.config.Mode == config.ModeRemote {
		fmt.Fprintf(a.out, "Ledger: %s\n", a.config.LedgerAddr)
	}

	s := a.current()
	if s == nil {
		fmt.Fprintln(a.out, "Wallet: locked")
	} else {
		a.mu.Lock()
		link := a.link
		a.mu.Unlock()
		fmt.Fprintf(a.out, "Wallet: %s\n", s.principal)
		fmt.Fprintf(a.out, "Link: %s\n", orDash(string(link)))
		caps, err := s.adapter.Capabilities(ctx)
		if err == nil {
			fmt.Fprintf(a.out, "Network: %s (contract %s, extend %t)\n", caps.Network, caps.Contract, caps.Extend)
		}
		if at, err := a.store.LastSynced(ctx, s.principal); err == nil && !at.IsZero() {
			fmt.Fprintf(a.out, "Last sync: %s\n", at.Format(time.RFC3339))
		}
	}

	if a.sim != nil {
		st := a.sim.Status()
		fmt.Fprintf(a.out, "Simulated ledger: %d permissions, height %d, state %s\n", st.TotalPermissions, st.Height, orDash(st.StatePath))
	}
	return nil
}

// Sim handles "sim export <file>" and "sim clear".
func (a *App) Sim(ctx context.Context, args []string) error {
	if a.sim == nil {
		return userError("Simulator controls need simulated mode.")
	}
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "export":
		if len(args) != 2 {
			return errUsage
		}
		f, err := os.OpenFile(args[1], os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return err
		}
		err = a.sim.Export(f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Simulated ledger exported to %s\n", args[1])
		return nil

	case "clear":
		ok, err := GetConfirmation(a.reader, "Delete every permission and transaction of the simulated ledger?", a.out)
		if err != nil || !ok {
			return err
		}
		if err := a.sim.Clear(); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Simulated ledger cleared.")
		return nil
	}
	return errUsage
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
