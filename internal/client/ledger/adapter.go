// Package ledger defines the boundary between the client and a ledger of
// record: the Adapter contract, its capability set and the failure taxonomy
// shared by the remote and simulated implementations.
package ledger

import (
	"context"
	"time"

	"github.com/dmitrijs2005/expiryx/internal/permission"
	"github.com/dmitrijs2005/expiryx/internal/txn"
)

// Capabilities lists the optional features of a ledger.
type Capabilities struct {
	Extend    bool
	Resources bool
	Network   string
	Contract  string
}

// GrantSpec is a new permission as submitted by its owner. The owner is the
// principal the adapter is bound to.
type GrantSpec struct {
	ID       string
	Spender  string
	Amount   uint64
	Expiry   time.Time
	Scope    permission.Scope
	Resource *permission.Resource
}

// Receipt is a confirmed submission. Record is the ledger's view of the
// permission after the transaction; it is nil for revocations.
type Receipt struct {
	TxRef  string
	Record *permission.Record
}

// Adapter reads and writes permissions on behalf of one principal, the
// sender of every submission. Submissions block until the ledger confirms or
// rejects the transaction, or ctx is done.
type Adapter interface {
	Principal() string
	Capabilities(ctx context.Context) (Capabilities, error)

	SubmitGrant(ctx context.Context, spec GrantSpec) (Receipt, error)
	SubmitSpend(ctx context.Context, id string, amount uint64, recipient string) (Receipt, error)
	SubmitRevoke(ctx context.Context, id string) (Receipt, error)
	SubmitExtend(ctx context.Context, id string, newExpiry time.Time) (Receipt, error)

	FetchRecordsByOwner(ctx context.Context, owner string) ([]permission.Record, error)
	FetchRecordsBySpender(ctx context.Context, spender string) ([]permission.Record, error)
	// FetchRecord reports false when the ledger has no such permission.
	FetchRecord(ctx context.Context, id string) (permission.Record, bool, error)
}

// Signer is the wallet capability used by the remote adapter: it signs a
// transaction as Address and hands it to the ledger, returning the
// transaction reference.
type Signer interface {
	Address() string
	Submit(ctx context.Context, tx txn.Transaction) (string, error)
}

// GrantTransaction builds the grant payload for spec. Sender, nonce and
// issue time are stamped by whoever signs it.
func GrantTransaction(spec GrantSpec) txn.Transaction {
	return txn.Transaction{
		Kind:         txn.KindGrant,
		PermissionID: spec.ID,
		Spender:      permission.NormalizeAddress(spec.Spender),
		Amount:       spec.Amount,
		Expiry:       spec.Expiry.Unix(),
		Scope:        spec.Scope,
		Resource:     spec.Resource,
	}
}

func SpendTransaction(id string, amount uint64, recipient string) txn.Transaction {
	return txn.Transaction{
		Kind:         txn.KindSpend,
		PermissionID: id,
		Amount:       amount,
		Recipient:    permission.NormalizeAddress(recipient),
	}
}

func RevokeTransaction(id string) txn.Transaction {
	return txn.Transaction{Kind: txn.KindRevoke, PermissionID: id}
}

func ExtendTransaction(id string, newExpiry time.Time) txn.Transaction {
	return txn.Transaction{Kind: txn.KindExtend, PermissionID: id, Expiry: newExpiry.Unix()}
}
