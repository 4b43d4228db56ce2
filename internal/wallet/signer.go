package wallet

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/expiryx/internal/txn"
)

// Broadcaster hands a signed transaction to the ledger and returns its
// reference.
type Broadcaster interface {
	Broadcast(ctx context.Context, signed string) (string, error)
}

type Signer struct {
	key     ed25519.PrivateKey
	address string
	out     Broadcaster
	now     func() time.Time
}

func NewSigner(key ed25519.PrivateKey, out Broadcaster) *Signer {
	return &Signer{
		key:     key,
		address: txn.AddressOf(key.Public().(ed25519.PublicKey)),
		out:     out,
		now:     time.Now,
	}
}

func (s *Signer) Address() string {
	return s.address
}

// Submit stamps tx with the signer identity, signs it and broadcasts it.
func (s *Signer) Submit(ctx context.Context, tx txn.Transaction) (string, error) {
	signed, err := s.sign(tx)
	if err != nil {
		return "", err
	}
	return s.out.Broadcast(ctx, signed)
}

// AccessToken signs a non-executable access request for permissionID, used
// to obtain resource download links.
func (s *Signer) AccessToken(permissionID string) (string, error) {
	return s.sign(txn.Transaction{Kind: txn.KindAccess, PermissionID: permissionID})
}

func (s *Signer) sign(tx txn.Transaction) (string, error) {
	now := s.now()
	tx.Sender = s.address
	if tx.Nonce == "" {
		tx.Nonce = uuid.NewString()
	}
	if tx.IssuedAt == 0 {
		tx.IssuedAt = now.Unix()
	}
	return txn.Sign(tx, s.key, now)
}
