// Package permission defines the permission record, its derived status and
// the pure validation rules for every lifecycle transition. Nothing in this
// package performs I/O; the same rules run on the client before submission
// and on the ledger when a transaction executes.
package permission
