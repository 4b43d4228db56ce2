// Package wallet provides the signing capability used by the remote ledger
// adapter: an ed25519 key kept in a passphrase-sealed keystore, and a
// Signer that turns transactions into signed envelopes and broadcasts them.
package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/expiryx/internal/common"
	"github.com/dmitrijs2005/expiryx/internal/cryptox"
	"github.com/dmitrijs2005/expiryx/internal/txn"
)

// Keystore is the persisted, sealed form of a wallet key. The seed is bound
// to the address, so a keystore cannot be re-labelled.
type Keystore struct {
	Address string
	Salt    []byte
	Nonce   []byte
	Sealed  []byte
}

// Create generates a new key and seals its seed under passphrase.
func Create(passphrase []byte) (Keystore, ed25519.PrivateKey, error) {
	if len(passphrase) == 0 {
		return Keystore{}, nil, errors.New("empty passphrase")
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keystore{}, nil, fmt.Errorf("generate key: %w", err)
	}
	address := txn.AddressOf(pub)

	salt, err := common.GenerateRandByteArray(cryptox.SaltSize)
	if err != nil {
		return Keystore{}, nil, fmt.Errorf("salt: %w", err)
	}

	kek := cryptox.DeriveKey(passphrase, salt)
	defer common.WipeByteArray(kek)

	sealed, nonce, err := cryptox.Seal(kek, priv.Seed(), []byte(address))
	if err != nil {
		return Keystore{}, nil, err
	}

	return Keystore{Address: address, Salt: salt, Nonce: nonce, Sealed: sealed}, priv, nil
}

// Unlock recovers the private key. A wrong passphrase yields
// common.ErrWrongPassphrase.
func (k Keystore) Unlock(passphrase []byte) (ed25519.PrivateKey, error) {
	if k.Address == "" {
		return nil, common.ErrWalletMissing
	}

	kek := cryptox.DeriveKey(passphrase, k.Salt)
	defer common.WipeByteArray(kek)

	seed, err := cryptox.Open(kek, k.Nonce, k.Sealed, []byte(k.Address))
	if err != nil {
		return nil, common.ErrWrongPassphrase
	}
	defer common.WipeByteArray(seed)

	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: keystore seed", common.ErrCorruptData)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	if txn.AddressOf(priv.Public().(ed25519.PublicKey)) != k.Address {
		return nil, fmt.Errorf("%w: keystore address", common.ErrCorruptData)
	}
	return priv, nil
}
