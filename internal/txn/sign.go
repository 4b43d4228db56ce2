package txn

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/expiryx/internal/common"
	"github.com/dmitrijs2005/expiryx/internal/permission"
)

// Validity is how long a signed transaction is accepted by the ledger.
const Validity = 2 * time.Minute

// Claims is the JWT body of a signed transaction. The public key travels
// with the token; the ledger checks it hashes to the sender address.
type Claims struct {
	jwt.RegisteredClaims
	PublicKey string      `json:"pub"`
	Tx        Transaction `json:"tx"`
}

// Sign wraps tx into an EdDSA-signed JWT.
func Sign(tx Transaction, key ed25519.PrivateKey, now time.Time) (string, error) {
	pub, ok := key.Public().(ed25519.PublicKey)
	if !ok {
		return "", errors.New("unexpected public key type")
	}
	if AddressOf(pub) != permission.NormalizeAddress(tx.Sender) {
		return "", fmt.Errorf("%w: key does not match sender %s", common.ErrInvalidSignature, tx.Sender)
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tx.Sender,
			ID:        tx.Nonce,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(Validity)),
		},
		PublicKey: base64.RawURLEncoding.EncodeToString(pub),
		Tx:        tx,
	}

	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key)
}

// Verify checks the signature and validity window of a signed transaction
// and returns its payload.
func Verify(token string, now func() time.Time) (Transaction, error) {
	if now == nil {
		now = time.Now
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		c, ok := t.Claims.(*Claims)
		if !ok {
			return nil, errors.New("unexpected claims type")
		}
		raw, err := base64.RawURLEncoding.DecodeString(c.PublicKey)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return nil, errors.New("malformed public key")
		}
		pub := ed25519.PublicKey(raw)
		sender := permission.NormalizeAddress(c.Tx.Sender)
		if AddressOf(pub) != sender || permission.NormalizeAddress(c.Subject) != sender {
			return nil, errors.New("public key does not match sender")
		}
		return pub, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithTimeFunc(now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: %v", common.ErrInvalidSignature, err)
	}

	return claims.Tx, nil
}
