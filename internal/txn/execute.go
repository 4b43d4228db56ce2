package txn

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/expiryx/internal/permission"
)

// Ledger-only rejection reasons. Rule violations use permission.Reason.
const (
	ReasonAlreadyExists = "already_exists"
	ReasonNotFound      = "not_found"
	ReasonMalformed     = "malformed_transaction"
	ReasonUnsupported   = "unsupported_operation"
	ReasonBadSignature  = "bad_signature"
)

// Rejection is a ledger-side refusal that is not a permission rule.
type Rejection struct {
	Reason string
	Msg    string
}

func (r *Rejection) Error() string {
	if r.Msg == "" {
		return r.Reason
	}
	return r.Reason + ": " + r.Msg
}

// RejectionReason returns the wire reason for an execution error.
func RejectionReason(err error) (string, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	if reason, ok := permission.ReasonOf(err); ok {
		return string(reason), true
	}
	return "", false
}

// Rules toggles optional ledger features.
type Rules struct {
	AllowExtend bool
}

// Execute applies tx to cur (nil when the permission does not exist yet)
// at block time now and returns the new state of the permission.
func (rules Rules) Execute(tx Transaction, cur *permission.Record, now time.Time) (permission.Record, error) {
	sender := permission.NormalizeAddress(tx.Sender)
	if err := permission.ValidateAddress(sender); err != nil {
		return permission.Record{}, &Rejection{Reason: ReasonMalformed, Msg: err.Error()}
	}
	if tx.PermissionID == "" {
		return permission.Record{}, &Rejection{Reason: ReasonMalformed, Msg: "missing permission id"}
	}

	if tx.Kind == KindGrant {
		if cur != nil {
			return permission.Record{}, &Rejection{Reason: ReasonAlreadyExists, Msg: tx.PermissionID}
		}
		return grant(tx, sender, now)
	}

	if cur == nil {
		return permission.Record{}, &Rejection{Reason: ReasonNotFound, Msg: tx.PermissionID}
	}
	next := cur.Clone()

	switch tx.Kind {
	case KindSpend:
		if err := permission.ValidateSpender(next, sender); err != nil {
			return permission.Record{}, err
		}
		if err := permission.ValidateSpend(next, tx.Amount, now); err != nil {
			return permission.Record{}, err
		}
		if tx.Recipient != "" {
			if err := permission.ValidateAddress(tx.Recipient); err != nil {
				return permission.Record{}, &Rejection{Reason: ReasonMalformed, Msg: err.Error()}
			}
		}
		next.Spent += tx.Amount

	case KindRevoke:
		if err := permission.ValidateRevoke(next, sender); err != nil {
			return permission.Record{}, err
		}
		next.Revoked = true

	case KindExtend:
		if !rules.AllowExtend {
			return permission.Record{}, &Rejection{Reason: ReasonUnsupported, Msg: "extend is disabled"}
		}
		expiry := tx.ExpiryTime()
		if err := permission.ValidateExtend(next, sender, expiry, now); err != nil {
			return permission.Record{}, err
		}
		next.Expiry = expiry

	default:
		return permission.Record{}, &Rejection{Reason: ReasonUnsupported, Msg: fmt.Sprintf("kind %q", tx.Kind)}
	}

	return next, nil
}

func grant(tx Transaction, sender string, now time.Time) (permission.Record, error) {
	expiry := tx.ExpiryTime()
	if err := permission.ValidateGrant(sender, tx.Spender, tx.Amount, expiry, now); err != nil {
		return permission.Record{}, err
	}
	scope, err := permission.ParseScope(string(tx.Scope))
	if err != nil {
		return permission.Record{}, &permission.ValidationError{Reason: permission.ReasonInvalidScope, Msg: err.Error()}
	}

	r := permission.Record{
		ID:        tx.PermissionID,
		Owner:     sender,
		Spender:   permission.NormalizeAddress(tx.Spender),
		Amount:    tx.Amount,
		Expiry:    expiry,
		Scope:     scope,
		CreatedAt: now.UTC().Truncate(time.Second),
	}
	if tx.Resource != nil {
		res := *tx.Resource
		r.Resource = &res
	}
	return r, nil
}
