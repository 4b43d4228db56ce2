package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/expiryx/internal/client/ledger"
	"github.com/dmitrijs2005/expiryx/internal/client/syncer"
	"github.com/dmitrijs2005/expiryx/internal/common"
	"github.com/dmitrijs2005/expiryx/internal/permission"
)

type Kind int

const (
	KindValidation Kind = iota + 1
	KindLedger
	KindUnsupported
	KindStaleRetryExhausted
	KindSubmissionUncertain
	KindSubmissionFailed
	KindNotFound
	KindInternal
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrLedger               = errors.New("ledger error")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrStaleRetryExhausted  = errors.New("stale retry exhausted")
	ErrSubmissionUncertain  = errors.New("submission uncertain")
	ErrSubmissionFailed     = errors.New("submission failed")
	ErrNotFound             = errors.New("permission not found")
	ErrInternal             = errors.New("internal error")
)

func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindLedger:
		return ErrLedger
	case KindUnsupported:
		return ErrUnsupportedOperation
	case KindStaleRetryExhausted:
		return ErrStaleRetryExhausted
	case KindSubmissionUncertain:
		return ErrSubmissionUncertain
	case KindSubmissionFailed:
		return ErrSubmissionFailed
	case KindNotFound:
		return ErrNotFound
	}
	return ErrInternal
}

func (k Kind) String() string {
	return k.sentinel().Error()
}

// Error is what every Machine operation returns on failure. errors.Is
// matches both the kind sentinel and anything in Err's chain, so
// errors.Is(err, permission.ErrInsufficientAllowance) works on a rejected
// spend as well as on one that failed local validation.
type Error struct {
	Op   string
	ID   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.ID, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind.sentinel(), e.Err}
}

// KindOf reports the kind of a lifecycle error anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind, true
	}
	return 0, false
}

func newError(op, id string, kind Kind, err error) *Error {
	return &Error{Op: op, ID: id, Kind: kind, Err: err}
}

// wrap classifies err, a failure of op on id. Submission outcomes are
// checked first: a rejected submission also carries the ledger's
// validation reason.
func wrap(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return err
	}

	var ve *permission.ValidationError
	kind := KindInternal
	switch {
	case errors.Is(err, syncer.ErrSubmissionUncertain):
		kind = KindSubmissionUncertain
	case errors.Is(err, syncer.ErrSubmissionFailed):
		kind = KindSubmissionFailed
	case errors.Is(err, ledger.ErrUnsupported):
		kind = KindUnsupported
	case errors.Is(err, common.ErrNotFound):
		kind = KindNotFound
	case errors.As(err, &ve):
		kind = KindValidation
	case errors.Is(err, ledger.ErrRejected),
		errors.Is(err, ledger.ErrUnreachable),
		errors.Is(err, ledger.ErrTimeout),
		errors.Is(err, ledger.ErrMalformedResponse),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		kind = KindLedger
	}
	return newError(op, id, kind, err)
}
