// Package models holds the ledger node's persisted shapes.
package models

import (
	"time"

	"github.com/dmitrijs2005/expiryx/internal/permission"
	"github.com/dmitrijs2005/expiryx/internal/txn"
)

// Transaction states. They match the values reported over the wire.
const (
	TxPending  = "pending"
	TxSuccess  = "success"
	TxRejected = "rejected"
)

// Tx is one executed transaction of the log.
type Tx struct {
	Ref          string
	Kind         txn.Kind
	Sender       string
	PermissionID string
	// Payload is the CBOR encoding of the executed txn.Transaction.
	Payload []byte
	State   string
	Reason  string
	Height  int64
	// Result is the permission as this transaction left it; nil when
	// rejected.
	Result      *permission.Record
	SubmittedAt time.Time
}

// Block is the unit of commit: transactions executed together and the
// permissions they changed.
type Block struct {
	Height      int64
	ProducedAt  time.Time
	Txs         []Tx
	Permissions []permission.Record
}
