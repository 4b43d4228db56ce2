package services

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/dmitrijs2005/expiryx/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/expiryx/internal/codec"
	"github.com/dmitrijs2005/expiryx/internal/common"
	"github.com/dmitrijs2005/expiryx/internal/wallet"
)

// WalletService manages the local wallet keystore.
//
// Contract:
//   - Create generates a key, seals it under the passphrase and stores the
//     keystore; it refuses to overwrite an existing one.
//   - Unlock returns the private key, or common.ErrWrongPassphrase.
//   - Address is readable without the passphrase.
type WalletService interface {
	Exists(ctx context.Context) (bool, error)
	Address(ctx context.Context) (string, error)
	Create(ctx context.Context, passphrase []byte) (string, error)
	Unlock(ctx context.Context, passphrase []byte) (ed25519.PrivateKey, error)
	Forget(ctx context.Context) error
}

type walletService struct {
	meta metadata.Repository
}

func NewWalletService(meta metadata.Repository) WalletService {
	return &walletService{meta: meta}
}

func (s *walletService) load(ctx context.Context) (wallet.Keystore, error) {
	b, err := s.meta.Get(ctx, metadata.KeyKeystore)
	if err != nil {
		return wallet.Keystore{}, err
	}
	if b == nil {
		return wallet.Keystore{}, common.ErrWalletMissing
	}
	var ks wallet.Keystore
	if err := codec.Unmarshal(b, &ks); err != nil {
		return wallet.Keystore{}, fmt.Errorf("%w: keystore: %v", common.ErrCorruptData, err)
	}
	return ks, nil
}

func (s *walletService) Exists(ctx context.Context) (bool, error) {
	b, err := s.meta.Get(ctx, metadata.KeyKeystore)
	if err != nil {
		return false, err
	}
	return b != nil, nil
}

func (s *walletService) Address(ctx context.Context) (string, error) {
	ks, err := s.load(ctx)
	if err != nil {
		return "", err
	}
	return ks.Address, nil
}

func (s *walletService) Create(ctx context.Context, passphrase []byte) (string, error) {
	exists, err := s.Exists(ctx)
	if err != nil {
		return "", err
	}
	if exists {
		return "", common.ErrWalletExists
	}

	ks, priv, err := wallet.Create(passphrase)
	if err != nil {
		return "", fmt.Errorf("create wallet: %w", err)
	}
	common.WipeByteArray(priv)

	b, err := codec.Marshal(ks)
	if err != nil {
		return "", err
	}
	if err := s.meta.Set(ctx, metadata.KeyKeystore, b); err != nil {
		return "", fmt.Errorf("save keystore: %w", err)
	}
	return ks.Address, nil
}

func (s *walletService) Unlock(ctx context.Context, passphrase []byte) (ed25519.PrivateKey, error) {
	ks, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return ks.Unlock(passphrase)
}

func (s *walletService) Forget(ctx context.Context) error {
	return s.meta.Delete(ctx, metadata.KeyKeystore)
}
