package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/expiryx/internal/client/ledger"
	"github.com/dmitrijs2005/expiryx/internal/client/lifecycle"
	"github.com/dmitrijs2005/expiryx/internal/common"
	"github.com/dmitrijs2005/expiryx/internal/permission"
)

var reasonText = map[permission.Reason]string{
	permission.ReasonInvalidAmount:         "The amount must be greater than zero.",
	permission.ReasonInvalidExpiry:         "The expiry must be in the future and at most one year ahead.",
	permission.ReasonInvalidSpender:        "The spender address is invalid or is your own address.",
	permission.ReasonInvalidScope:          "Unknown access scope; use view, download or full.",
	permission.ReasonPermissionRevoked:     "This permission has been revoked.",
	permission.ReasonPermissionExpired:     "This permission has expired.",
	permission.ReasonPermissionFullySpent:  "This permission is fully spent.",
	permission.ReasonInsufficientAllowance: "Not enough allowance left for this amount.",
	permission.ReasonNotAuthorized:         "You are not allowed to do this with this permission.",
	permission.ReasonAlreadyRevoked:        "This permission is already revoked.",
}

// Describe turns any error returned by the services into a message for
// the user.
func Describe(err error) string {
	if err == nil {
		return ""
	}

	var ve *permission.ValidationError
	switch {
	case errors.Is(err, lifecycle.ErrSubmissionUncertain):
		return "The ledger has not confirmed the transaction yet. It may still go through; refresh before trying again."
	case errors.Is(err, lifecycle.ErrStaleRetryExhausted):
		return "The ledger rejected the transaction although the latest record allows it. Refresh and try again."
	case errors.As(err, &ve):
		if msg, ok := reasonText[ve.Reason]; ok {
			return msg
		}
		return ve.Error()
	case errors.Is(err, ledger.ErrUnsupported), errors.Is(err, lifecycle.ErrUnsupportedOperation):
		return "The connected ledger does not support this operation."
	case errors.Is(err, lifecycle.ErrNotFound), errors.Is(err, common.ErrNotFound):
		return "No such permission."
	case errors.Is(err, ledger.ErrRejected):
		if reason, ok := ledger.ReasonOf(err); ok {
			return fmt.Sprintf("The ledger rejected the transaction: %s.", reason)
		}
		return "The ledger rejected the transaction."
	case errors.Is(err, ledger.ErrUnreachable):
		return "The ledger is unreachable. Check the connection and try again."
	case errors.Is(err, ledger.ErrTimeout):
		return "The ledger did not answer in time. Try again later."
	case errors.Is(err, ledger.ErrMalformedResponse):
		return "The ledger sent a response that could not be understood."
	case errors.Is(err, common.ErrWalletMissing):
		return "No wallet yet. Create one first."
	case errors.Is(err, common.ErrWalletExists):
		return "A wallet already exists."
	case errors.Is(err, common.ErrWrongPassphrase):
		return "Wrong passphrase."
	case errors.Is(err, common.ErrWalletLocked):
		return "The wallet is locked."
	case errors.Is(err, common.ErrCorruptData):
		return "Local data was damaged and has been discarded; it will be reloaded from the ledger."
	case errors.Is(err, context.Canceled):
		return "Cancelled."
	case errors.Is(err, context.DeadlineExceeded):
		return "The operation timed out."
	}
	return fmt.Sprintf("Unexpected error: %v", err)
}
