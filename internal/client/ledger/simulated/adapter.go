package simulated

import (
	"context"
	"time"

	"github.com/dmitrijs2005/expiryx/internal/client/ledger"
	"github.com/dmitrijs2005/expiryx/internal/permission"
	"github.com/dmitrijs2005/expiryx/internal/txn"
)

// Adapter is the ledger.Adapter view of a Ledger for one principal.
type Adapter struct {
	l         *Ledger
	principal string
}

var _ ledger.Adapter = (*Adapter)(nil)

func (a *Adapter) Principal() string {
	return a.principal
}

func (a *Adapter) Capabilities(ctx context.Context) (ledger.Capabilities, error) {
	return ledger.Capabilities{
		Extend:   a.l.opts.AllowExtend,
		Network:  a.l.opts.Network,
		Contract: a.l.opts.Contract,
	}, nil
}

func (a *Adapter) SubmitGrant(ctx context.Context, spec ledger.GrantSpec) (ledger.Receipt, error) {
	return a.submit(ctx, "grant", ledger.GrantTransaction(spec), a.l.opts.TransactionDelay)
}

func (a *Adapter) SubmitSpend(ctx context.Context, id string, amount uint64, recipient string) (ledger.Receipt, error) {
	return a.submit(ctx, "spend", ledger.SpendTransaction(id, amount, recipient), a.l.opts.TransactionDelay)
}

func (a *Adapter) SubmitRevoke(ctx context.Context, id string) (ledger.Receipt, error) {
	r, err := a.submit(ctx, "revoke", ledger.RevokeTransaction(id), a.l.opts.RevokeDelay)
	r.Record = nil
	return r, err
}

func (a *Adapter) SubmitExtend(ctx context.Context, id string, newExpiry time.Time) (ledger.Receipt, error) {
	return a.submit(ctx, "extend", ledger.ExtendTransaction(id, newExpiry), a.l.opts.TransactionDelay)
}

func (a *Adapter) submit(ctx context.Context, op string, tx txn.Transaction, delay time.Duration) (ledger.Receipt, error) {
	if err := wait(ctx, op, delay); err != nil {
		return ledger.Receipt{}, err
	}
	tx.Sender = a.principal
	return a.l.execute(ctx, op, tx)
}

func (a *Adapter) FetchRecordsByOwner(ctx context.Context, owner string) ([]permission.Record, error) {
	if err := wait(ctx, "fetch_by_owner", a.l.opts.ConnectionDelay); err != nil {
		return nil, err
	}
	owner = permission.NormalizeAddress(owner)
	return a.l.list(func(r permission.Record) bool { return r.Owner == owner }), nil
}

func (a *Adapter) FetchRecordsBySpender(ctx context.Context, spender string) ([]permission.Record, error) {
	if err := wait(ctx, "fetch_by_spender", a.l.opts.ConnectionDelay); err != nil {
		return nil, err
	}
	spender = permission.NormalizeAddress(spender)
	return a.l.list(func(r permission.Record) bool { return r.Spender == spender }), nil
}

func (a *Adapter) FetchRecord(ctx context.Context, id string) (permission.Record, bool, error) {
	if err := wait(ctx, "fetch", a.l.opts.ConnectionDelay); err != nil {
		return permission.Record{}, false, err
	}
	r, ok := a.l.get(id)
	return r, ok, nil
}
