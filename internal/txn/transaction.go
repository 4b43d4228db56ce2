// Package txn defines the ledger transaction payload shared by the client
// and the ledger node: its canonical hash, its signed envelope and the rules
// the ledger applies when it executes one.
package txn

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"github.com/dmitrijs2005/expiryx/internal/codec"
	"github.com/dmitrijs2005/expiryx/internal/permission"
)

type Kind string

const (
	KindGrant  Kind = "grant"
	KindSpend  Kind = "spend"
	KindRevoke Kind = "revoke"
	KindExtend Kind = "extend"
	// KindAccess is never executed; it proves the sender's identity when
	// requesting a resource link.
	KindAccess Kind = "access"
)

// Transaction is the payload a principal signs. Expiry fields are unix
// seconds, the precision kept by the ledger.
type Transaction struct {
	Kind         Kind                 `json:"kind" cbor:"kind"`
	Sender       string               `json:"sender" cbor:"sender"`
	PermissionID string               `json:"permission_id" cbor:"permission_id"`
	Spender      string               `json:"spender,omitempty" cbor:"spender,omitempty"`
	Amount       uint64               `json:"amount,string,omitempty" cbor:"amount,omitempty"`
	Expiry       int64                `json:"expiry,omitempty" cbor:"expiry,omitempty"`
	Scope        permission.Scope     `json:"scope,omitempty" cbor:"scope,omitempty"`
	Resource     *permission.Resource `json:"resource,omitempty" cbor:"resource,omitempty"`
	Recipient    string               `json:"recipient,omitempty" cbor:"recipient,omitempty"`
	Nonce        string               `json:"nonce" cbor:"nonce"`
	IssuedAt     int64                `json:"issued_at" cbor:"issued_at"`
}

// Hash is the transaction reference: 0x-prefixed hex of the BLAKE3 digest of
// the deterministic CBOR encoding.
func (t Transaction) Hash() (string, error) {
	b, err := codec.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encode transaction: %w", err)
	}
	sum := blake3.Sum256(b)
	return "0x" + hex.EncodeToString(sum[:]), nil
}

// ExpiryTime returns Expiry as a UTC time.
func (t Transaction) ExpiryTime() time.Time {
	return time.Unix(t.Expiry, 0).UTC()
}

// AddressOf derives the account address of a public key.
func AddressOf(pub ed25519.PublicKey) string {
	sum := blake3.Sum256(pub)
	return "0x" + hex.EncodeToString(sum[:])
}
