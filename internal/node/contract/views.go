package contract

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/expiryx/internal/common"
	"github.com/dmitrijs2005/expiryx/internal/node/models"
	"github.com/dmitrijs2005/expiryx/internal/permission"
	"github.com/dmitrijs2005/expiryx/internal/txn"
)

// TxStatus is the state of a broadcast transaction.
type TxStatus struct {
	Ref    string
	State  string
	Reason string
	Height int64
	Record *permission.Record
}

// Transaction reports a queued transaction as pending. Unknown refs are
// common.ErrNotFound.
func (c *Contract) Transaction(ctx context.Context, ref string) (TxStatus, error) {
	c.mu.Lock()
	_, pending := c.known[ref]
	c.mu.Unlock()
	if pending {
		return TxStatus{Ref: ref, State: models.TxPending}, nil
	}

	tx, err := c.store.Transaction(ctx, ref)
	if err != nil {
		return TxStatus{}, err
	}
	return TxStatus{Ref: tx.Ref, State: tx.State, Reason: tx.Reason, Height: tx.Height, Record: tx.Result}, nil
}

func (c *Contract) Permission(ctx context.Context, id string) (permission.Record, error) {
	return c.store.Permission(ctx, id)
}

func (c *Contract) ByOwner(ctx context.Context, owner string) ([]permission.Record, error) {
	return c.store.ByOwner(ctx, permission.NormalizeAddress(owner))
}

func (c *Contract) BySpender(ctx context.Context, spender string) ([]permission.Record, error) {
	return c.store.BySpender(ctx, permission.NormalizeAddress(spender))
}

// IsValid reports whether id exists and is active now.
func (c *Contract) IsValid(ctx context.Context, id string) (bool, error) {
	r, err := c.store.Permission(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return r.IsValid(c.opts.Now()), nil
}

// Remaining is the allowance left on id; zero unless it is active.
func (c *Contract) Remaining(ctx context.Context, id string) (uint64, error) {
	r, err := c.store.Permission(ctx, id)
	if err != nil {
		return 0, err
	}
	if !r.IsValid(c.opts.Now()) {
		return 0, nil
	}
	return r.Remaining(), nil
}

type Stats struct {
	TotalPermissions int64
	Height           int64
}

func (c *Contract) Stats(ctx context.Context) (Stats, error) {
	n, err := c.store.CountPermissions(ctx)
	if err != nil {
		return Stats{}, err
	}
	h, err := c.store.Height(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{TotalPermissions: n, Height: h}, nil
}

// Requester verifies a signed access request and returns the address that
// signed it together with the permission it names.
func (c *Contract) Requester(signed string) (sender, permissionID string, err error) {
	tx, err := txn.Verify(signed, c.opts.Now)
	if err != nil {
		return "", "", &txn.Rejection{Reason: txn.ReasonBadSignature, Msg: err.Error()}
	}
	if tx.Kind != txn.KindAccess {
		return "", "", &txn.Rejection{Reason: txn.ReasonMalformed, Msg: "not an access request"}
	}
	return permission.NormalizeAddress(tx.Sender), tx.PermissionID, nil
}

// AuthorizeDownload returns the resource attached to the permission named
// in a signed access request, if its signer may download it now.
func (c *Contract) AuthorizeDownload(ctx context.Context, signed string) (permission.Resource, error) {
	sender, id, err := c.Requester(signed)
	if err != nil {
		return permission.Resource{}, err
	}
	r, err := c.store.Permission(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return permission.Resource{}, &txn.Rejection{Reason: txn.ReasonNotFound, Msg: id}
	}
	if err != nil {
		return permission.Resource{}, err
	}
	if r.Resource == nil {
		return permission.Resource{}, &txn.Rejection{Reason: txn.ReasonNotFound, Msg: "permission has no resource"}
	}
	if err := permission.ValidateDownload(r, sender, c.opts.Now()); err != nil {
		return permission.Resource{}, err
	}
	return *r.Resource, nil
}
