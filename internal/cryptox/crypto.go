// Package cryptox holds the passphrase-based sealing used by the wallet
// keystore: argon2id key derivation and XChaCha20-Poly1305 encryption.
package cryptox

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/dmitrijs2005/expiryx/internal/common"
)

const SaltSize = 16

var ErrOpen = errors.New("cannot open sealed data")

// DeriveKey stretches a passphrase into a 32-byte key with argon2id.
func DeriveKey(passphrase []byte, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, 32)
}

// Fingerprint is a short non-secret identifier of key material.
func Fingerprint(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:8]
}

// Seal encrypts plaintext under key, binding it to aad. A fresh random
// nonce is returned alongside the ciphertext.
func Seal(key, plaintext, aad []byte) (ciphertext, nonce []byte, err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, fmt.Errorf("new aead: %w", err)
	}

	nonce, err = common.GenerateRandByteArray(aead.NonceSize())
	if err != nil {
		return nil, nil, fmt.Errorf("nonce: %w", err)
	}

	return aead.Seal(nil, nonce, plaintext, aad), nonce, nil
}

// Open reverses Seal. A wrong key, nonce or aad yields ErrOpen.
func Open(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("new aead: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, ErrOpen
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}
