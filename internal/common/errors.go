// Package common defines shared constants and sentinel errors used across
// the client and the ledger node. Callers should use errors.Is to match
// these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrCorruptData     = errors.New("corrupt data")

	// Service-level errors.
	ErrInternal = errors.New("internal error")

	// Wallet errors.
	ErrWalletLocked     = errors.New("wallet locked")
	ErrWalletMissing    = errors.New("wallet not created")
	ErrWalletExists     = errors.New("wallet already exists")
	ErrWrongPassphrase  = errors.New("wrong passphrase")
	ErrInvalidSignature = errors.New("invalid signature")
)
