// Package models defines the client-side data models: the cached sync
// state of a permission and the view models rendered by the CLI and the
// dashboard API.
package models

import (
	"time"

	"github.com/dmitrijs2005/expiryx/internal/permission"
)

// Intent is the kind of a local mutation awaiting the ledger.
type Intent string

const (
	IntentGrant  Intent = "grant"
	IntentSpend  Intent = "spend"
	IntentRevoke Intent = "revoke"
	IntentExtend Intent = "extend"
)

// PendingMutation tags an optimistic cache write until the ledger settles
// the submission.
type PendingMutation struct {
	Intent      Intent    `json:"intent" cbor:"intent"`
	Amount      uint64    `json:"amount,omitempty" cbor:"amount,omitempty"`
	NewExpiry   time.Time `json:"new_expiry,omitempty" cbor:"new_expiry,omitempty"`
	SubmittedAt time.Time `json:"submitted_at" cbor:"submitted_at"`
	TxRef       string    `json:"tx_ref,omitempty" cbor:"tx_ref,omitempty"`
}

// SyncEntry is the cached state of one permission.
type SyncEntry struct {
	// Record is the current view, possibly optimistic.
	Record permission.Record `json:"record" cbor:"record"`

	// Confirmed is the last value confirmed by the ledger; nil for a grant
	// the ledger has not confirmed yet.
	Confirmed *permission.Record `json:"confirmed,omitempty" cbor:"confirmed,omitempty"`

	// LastConfirmed is when the ledger last confirmed this record.
	LastConfirmed time.Time `json:"last_confirmed" cbor:"last_confirmed"`

	Pending *PendingMutation `json:"pending,omitempty" cbor:"pending,omitempty"`

	// Version is bumped by every cache write and used for compare-and-set.
	Version int64 `json:"version" cbor:"version"`
}

func (e SyncEntry) ID() string {
	return e.Record.ID
}

// IsPending reports an in-flight local mutation.
func (e SyncEntry) IsPending() bool {
	return e.Pending != nil
}

// Clone returns a deep copy.
func (e SyncEntry) Clone() SyncEntry {
	e.Record = e.Record.Clone()
	if e.Confirmed != nil {
		c := e.Confirmed.Clone()
		e.Confirmed = &c
	}
	if e.Pending != nil {
		p := *e.Pending
		e.Pending = &p
	}
	return e
}

// Confirm replaces the entry with a ledger-confirmed record and clears any
// pending mutation.
func (e SyncEntry) Confirm(r permission.Record, at time.Time) SyncEntry {
	c := r.Clone()
	e.Record = r.Clone()
	e.Confirmed = &c
	e.LastConfirmed = at.UTC()
	e.Pending = nil
	return e
}
