package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/expiryx/internal/permission"
)

type Kind int

const (
	KindUnreachable Kind = iota + 1
	KindTimeout
	KindRejected
	KindMalformed
	KindUnsupported
)

var (
	ErrUnreachable       = errors.New("ledger unreachable")
	ErrTimeout           = errors.New("ledger timeout")
	ErrRejected          = errors.New("ledger rejected transaction")
	ErrMalformedResponse = errors.New("malformed ledger response")
	ErrUnsupported       = errors.New("operation not supported by ledger")
)

func (k Kind) sentinel() error {
	switch k {
	case KindUnreachable:
		return ErrUnreachable
	case KindTimeout:
		return ErrTimeout
	case KindRejected:
		return ErrRejected
	case KindMalformed:
		return ErrMalformedResponse
	case KindUnsupported:
		return ErrUnsupported
	}
	return nil
}

func (k Kind) String() string {
	if s := k.sentinel(); s != nil {
		return s.Error()
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified ledger failure. For rejections Reason carries the
// ledger's reason verbatim; when it names a permission rule the matching
// permission.ValidationError is reachable through errors.Is.
type Error struct {
	Kind   Kind
	Op     string
	Reason string
	// TxRef is set when the transaction reached the ledger before failing.
	TxRef string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.String()
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	errs := []error{e.Kind.sentinel()}
	if e.Kind == KindRejected {
		if ve, ok := permission.ParseReason(e.Reason); ok {
			errs = append(errs, ve)
		}
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func Rejected(op, reason string) *Error {
	return &Error{Kind: KindRejected, Op: op, Reason: reason}
}

func Wrap(op string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Classify turns an arbitrary failure of op into a ledger error. Existing
// ledger errors pass through, an expired deadline becomes a timeout and a
// caller cancellation is returned as is.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(op, KindTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	}
	return Wrap(op, KindUnreachable, err)
}

// KindOf reports the kind of a ledger error anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind, true
	}
	return 0, false
}

// ReasonOf returns the rejection reason, if err is a rejection.
func ReasonOf(err error) (string, bool) {
	var le *Error
	if errors.As(err, &le) && le.Kind == KindRejected {
		return le.Reason, true
	}
	return "", false
}

// Retryable reports failures worth retrying for reads.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, ErrTimeout)
}
