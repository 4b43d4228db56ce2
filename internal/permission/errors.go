package permission

import "errors"

// Reason identifies a rule violation. Reasons travel verbatim as ledger
// rejection reasons, so they are stable strings.
type Reason string

const (
	ReasonInvalidAmount         Reason = "invalid_amount"
	ReasonInvalidExpiry         Reason = "invalid_expiry"
	ReasonInvalidSpender        Reason = "invalid_spender"
	ReasonInvalidScope          Reason = "invalid_scope"
	ReasonPermissionRevoked     Reason = "permission_revoked"
	ReasonPermissionExpired     Reason = "permission_expired"
	ReasonPermissionFullySpent  Reason = "permission_fully_spent"
	ReasonInsufficientAllowance Reason = "insufficient_allowance"
	ReasonNotAuthorized         Reason = "not_authorized"
	ReasonAlreadyRevoked        Reason = "already_revoked"
)

// ValidationError is a caller-input or state-precondition violation. It is
// never worth retrying with the same inputs.
type ValidationError struct {
	Reason Reason
	Msg    string
}

func (e *ValidationError) Error() string {
	if e.Msg == "" {
		return string(e.Reason)
	}
	return e.Msg
}

// Is matches any ValidationError with the same reason, so
// errors.Is(err, permission.ErrInsufficientAllowance) ignores the message.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Reason == e.Reason
}

var (
	ErrInvalidAmount         = &ValidationError{Reason: ReasonInvalidAmount, Msg: "invalid amount"}
	ErrInvalidExpiry         = &ValidationError{Reason: ReasonInvalidExpiry, Msg: "invalid expiry"}
	ErrInvalidSpender        = &ValidationError{Reason: ReasonInvalidSpender, Msg: "invalid spender"}
	ErrInvalidScope          = &ValidationError{Reason: ReasonInvalidScope, Msg: "invalid access scope"}
	ErrPermissionRevoked     = &ValidationError{Reason: ReasonPermissionRevoked, Msg: "permission revoked"}
	ErrPermissionExpired     = &ValidationError{Reason: ReasonPermissionExpired, Msg: "permission expired"}
	ErrPermissionFullySpent  = &ValidationError{Reason: ReasonPermissionFullySpent, Msg: "permission fully spent"}
	ErrInsufficientAllowance = &ValidationError{Reason: ReasonInsufficientAllowance, Msg: "insufficient allowance"}
	ErrNotAuthorized         = &ValidationError{Reason: ReasonNotAuthorized, Msg: "not authorized"}
	ErrAlreadyRevoked        = &ValidationError{Reason: ReasonAlreadyRevoked, Msg: "already revoked"}
)

var byReason = map[Reason]*ValidationError{}

func init() {
	for _, e := range []*ValidationError{
		ErrInvalidAmount, ErrInvalidExpiry, ErrInvalidSpender, ErrInvalidScope,
		ErrPermissionRevoked, ErrPermissionExpired, ErrPermissionFullySpent,
		ErrInsufficientAllowance, ErrNotAuthorized, ErrAlreadyRevoked,
	} {
		byReason[e.Reason] = e
	}
}

func newError(base *ValidationError, msg string) *ValidationError {
	return &ValidationError{Reason: base.Reason, Msg: base.Msg + ": " + msg}
}

// ParseReason maps a ledger rejection reason back to its validation error.
func ParseReason(reason string) (*ValidationError, bool) {
	e, ok := byReason[Reason(reason)]
	return e, ok
}

// ReasonOf extracts the reason of a ValidationError anywhere in err's chain.
func ReasonOf(err error) (Reason, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason, true
	}
	return "", false
}
