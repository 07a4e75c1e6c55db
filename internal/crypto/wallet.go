package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// KeyWallet signs ledger transactions with an in-memory secp256k1 key.
type KeyWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeyWallet wraps key. The key is not copied.
func NewKeyWallet(key *ecdsa.PrivateKey) (*KeyWallet, error) {
	if key == nil {
		return nil, errors.New("crypto/wallet: key is required")
	}
	return &KeyWallet{
		key:     key,
		address: ethcrypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// NewKeyWalletFromHex parses a hex private key and wraps it.
func NewKeyWalletFromHex(privateKeyHex string) (*KeyWallet, error) {
	key, err := parseKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	return NewKeyWallet(key)
}

// Address returns the account the wallet signs for.
func (w *KeyWallet) Address() common.Address {
	return w.address
}

// SignTx signs tx for chainID using the latest signer the chain supports
// (EIP-155 for legacy transactions).
func (w *KeyWallet) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("crypto/wallet: invalid chain id %v", chainID)
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), w.key)
	if err != nil {
		return nil, fmt.Errorf("crypto/wallet: signing: %w", err)
	}
	return signed, nil
}

// String never prints key material.
func (w *KeyWallet) String() string {
	return fmt.Sprintf("KeyWallet{address=%s}", w.address.Hex())
}

var _ domain.Wallet = (*KeyWallet)(nil)
