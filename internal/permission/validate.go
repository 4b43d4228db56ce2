package permission

import (
	"time"

	"github.com/dmitrijs2005/expiryx/internal/common"
)

// ValidateGrant checks a new permission from owner to spender.
func ValidateGrant(owner, spender string, amount uint64, expiry, now time.Time) error {
	if amount == 0 {
		return newError(ErrInvalidAmount, "amount must be positive")
	}
	if !expiry.After(now) {
		return newError(ErrInvalidExpiry, "expiry must be in the future")
	}
	if expiry.Sub(now) > common.MaxGrantHorizon {
		return newError(ErrInvalidExpiry, "expiry is more than one year ahead")
	}
	if err := ValidateAddress(spender); err != nil {
		return newError(ErrInvalidSpender, err.Error())
	}
	if NormalizeAddress(spender) == NormalizeAddress(owner) {
		return newError(ErrInvalidSpender, "cannot grant to yourself")
	}
	return nil
}

// ValidateSpend checks that amount can be drawn from r at now.
func ValidateSpend(r Record, amount uint64, now time.Time) error {
	if r.Revoked {
		return ErrPermissionRevoked
	}
	if !now.Before(r.Expiry) {
		return ErrPermissionExpired
	}
	if amount == 0 {
		return newError(ErrInvalidAmount, "amount must be positive")
	}
	// written this way so Spent+amount cannot overflow
	if r.Spent > r.Amount || amount > r.Amount-r.Spent {
		return ErrInsufficientAllowance
	}
	return nil
}

// ValidateRevoke checks that requester may revoke r. A second revoke is
// reported as ErrAlreadyRevoked so callers can tell it from a fresh one.
func ValidateRevoke(r Record, requester string) error {
	if NormalizeAddress(requester) != r.Owner {
		return ErrNotAuthorized
	}
	if r.Revoked {
		return ErrAlreadyRevoked
	}
	return nil
}

// ValidateExtend checks moving the expiry of an active permission forward.
func ValidateExtend(r Record, requester string, newExpiry, now time.Time) error {
	if NormalizeAddress(requester) != r.Owner {
		return ErrNotAuthorized
	}
	switch r.Status(now) {
	case StatusRevoked:
		return ErrPermissionRevoked
	case StatusExpired:
		return ErrPermissionExpired
	case StatusFullySpent:
		return ErrPermissionFullySpent
	}
	if !newExpiry.After(r.Expiry) {
		return newError(ErrInvalidExpiry, "new expiry must be after the current one")
	}
	if newExpiry.Sub(now) > common.MaxGrantHorizon {
		return newError(ErrInvalidExpiry, "expiry is more than one year ahead")
	}
	return nil
}

// ValidateSpender checks that requester is the spender of r.
func ValidateSpender(r Record, requester string) error {
	if NormalizeAddress(requester) != r.Spender {
		return ErrNotAuthorized
	}
	return nil
}

// ValidateDownload checks that requester may fetch the resource attached to
// r: the owner always, the spender only while r is active and its scope
// allows downloads.
func ValidateDownload(r Record, requester string, now time.Time) error {
	if NormalizeAddress(requester) == r.Owner {
		return nil
	}
	if err := ValidateSpender(r, requester); err != nil {
		return err
	}
	switch r.Status(now) {
	case StatusRevoked:
		return ErrPermissionRevoked
	case StatusExpired:
		return ErrPermissionExpired
	case StatusFullySpent:
		return ErrPermissionFullySpent
	}
	if !r.Scope.AllowsDownload() {
		return newError(ErrNotAuthorized, "scope "+string(r.Scope)+" does not allow downloads")
	}
	return nil
}
