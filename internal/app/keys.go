package app

import (
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsync/internal/config"
	"github.com/alanyoungcy/marketsync/internal/crypto"
)

// SealKey encrypts the configured raw wallet key with the configured
// password and writes it to path, which must not exist yet. The result is
// what wallet.encrypted_key_path expects.
func SealKey(cfg config.WalletConfig, path string) (common.Address, error) {
	if cfg.PrivateKey == "" {
		return common.Address{}, errors.New("app: seal key: wallet.private_key is not set")
	}
	if cfg.KeyPassword == "" {
		return common.Address{}, errors.New("app: seal key: wallet.key_password is not set")
	}

	wallet, err := crypto.NewKeyWalletFromHex(cfg.PrivateKey)
	if err != nil {
		return common.Address{}, fmt.Errorf("app: seal key: %w", err)
	}
	sealed, err := crypto.EncryptKey(cfg.PrivateKey, cfg.KeyPassword)
	if err != nil {
		return common.Address{}, fmt.Errorf("app: seal key: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return common.Address{}, fmt.Errorf("app: seal key: %w", err)
	}
	if _, err := f.Write(sealed); err != nil {
		f.Close()
		return common.Address{}, fmt.Errorf("app: seal key: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return common.Address{}, fmt.Errorf("app: seal key: close %s: %w", path, err)
	}
	return wallet.Address(), nil
}
