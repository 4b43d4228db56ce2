package permission

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/expiryx/internal/common"
)

// Status is derived from a record and the current time. It is never stored.
type Status int

const (
	StatusActive Status = iota
	StatusExpired
	StatusFullySpent
	StatusRevoked
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusExpired:
		return "expired"
	case StatusFullySpent:
		return "fully_spent"
	case StatusRevoked:
		return "revoked"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(name string) (Status, error) {
	for _, s := range []Status{StatusActive, StatusExpired, StatusFullySpent, StatusRevoked} {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s != StatusActive
}

// Scope is the capability granted to the spender over an attached resource.
type Scope string

const (
	ScopeView     Scope = "view"
	ScopeDownload Scope = "download"
	ScopeFull     Scope = "full"
)

// ParseScope accepts the scope names case-insensitively. An empty string
// means view.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeView:
		return ScopeView, nil
	case ScopeDownload:
		return ScopeDownload, nil
	case ScopeFull:
		return ScopeFull, nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

// AllowsDownload reports whether the spender may fetch the resource content.
func (s Scope) AllowsDownload() bool {
	return s == ScopeDownload || s == ScopeFull
}

// Resource describes an artifact shared through a permission. Its content is
// opaque here; ContentRef points into object storage.
type Resource struct {
	Name       string `json:"name" cbor:"name"`
	Size       int64  `json:"size" cbor:"size"`
	MediaType  string `json:"media_type" cbor:"media_type"`
	ContentRef string `json:"content_ref" cbor:"content_ref"`
}

// Record is a bounded, time-limited allowance from Owner to Spender.
type Record struct {
	ID        string    `json:"id" cbor:"id"`
	Owner     string    `json:"owner" cbor:"owner"`
	Spender   string    `json:"spender" cbor:"spender"`
	Amount    uint64    `json:"amount" cbor:"amount"`
	Spent     uint64    `json:"spent" cbor:"spent"`
	Expiry    time.Time `json:"expiry" cbor:"expiry"`
	Revoked   bool      `json:"revoked" cbor:"revoked"`
	Resource  *Resource `json:"resource,omitempty" cbor:"resource,omitempty"`
	Scope     Scope     `json:"scope" cbor:"scope"`
	CreatedAt time.Time `json:"created_at" cbor:"created_at"`
}

// DeriveStatus computes the status of r at now. Revocation wins over expiry,
// and expiry wins over exhaustion.
func DeriveStatus(r Record, now time.Time) Status {
	switch {
	case r.Revoked:
		return StatusRevoked
	case !now.Before(r.Expiry):
		return StatusExpired
	case r.Spent >= r.Amount:
		return StatusFullySpent
	default:
		return StatusActive
	}
}

func (r Record) Status(now time.Time) Status {
	return DeriveStatus(r, now)
}

// Remaining is the unspent part of the allowance.
func (r Record) Remaining() uint64 {
	if r.Spent >= r.Amount {
		return 0
	}
	return r.Amount - r.Spent
}

// IsValid reports whether the permission can still be used at now, i.e. it
// is not revoked and not expired.
func (r Record) IsValid(now time.Time) bool {
	return !r.Revoked && now.Before(r.Expiry)
}

// ExpiringSoon reports an active permission with at most a week left.
func (r Record) ExpiringSoon(now time.Time) bool {
	return r.Status(now) == StatusActive && r.Expiry.Sub(now) <= common.ExpiringSoonWindow
}

// TimeLeft is the duration until expiry, or zero once expired.
func (r Record) TimeLeft(now time.Time) time.Duration {
	if d := r.Expiry.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Involves reports whether principal is the owner or the spender.
func (r Record) Involves(principal string) bool {
	p := NormalizeAddress(principal)
	return r.Owner == p || r.Spender == p
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	if r.Resource != nil {
		res := *r.Resource
		r.Resource = &res
	}
	return r
}

// NormalizeExpiry returns t in UTC truncated to whole seconds, the
// precision kept by the ledger.
func NormalizeExpiry(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
