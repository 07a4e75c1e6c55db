// Package crypto manages the wallet key: loading it from config, sealing it
// at rest with a password, and signing ledger transactions with it.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	// currentVersion is the sealed-key JSON schema version.
	currentVersion = 1
)

// ErrNoKey is returned by LoadKey when no key source is configured. Callers
// treat it as "run read-only".
var ErrNoKey = errors.New("crypto: no wallet key configured")

// sealedKey is the on-disk format for an encrypted private key.
type sealedKey struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig names where LoadKey finds the wallet key.
type KeyConfig struct {
	// RawPrivateKey is a hex secp256k1 key, with or without 0x. Wins over
	// EncryptedKeyPath when both are set.
	RawPrivateKey string

	// EncryptedKeyPath is a JSON file produced by EncryptKey.
	EncryptedKeyPath string
	KeyPassword      string
}

// EncryptKey seals a hex private key with a password using PBKDF2-HMAC-SHA256
// and AES-256-GCM. The derived address is stored in clear so an operator can
// tell sealed files apart without the password.
func EncryptKey(privateKeyHex string, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	key, err := parseKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	keyBytes := ethcrypto.FromECDSA(key)

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	out := sealedKey{
		Version:    currentVersion,
		Address:    ethcrypto.PubkeyToAddress(key.PublicKey).Hex(),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	}
	return json.MarshalIndent(out, "", "  ")
}

// DecryptKey opens a blob produced by EncryptKey.
func DecryptKey(sealed []byte, password string) (*ecdsa.PrivateKey, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	var stored sealedKey
	if err := json.Unmarshal(sealed, &stored); err != nil {
		return nil, fmt.Errorf("crypto: parsing sealed key: %w", err)
	}
	if stored.Version != currentVersion {
		return nil, fmt.Errorf("crypto: unsupported sealed key version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}

	key, err := ethcrypto.ToECDSA(plaintext)
	if err != nil {
		return nil, fmt.Errorf("crypto: sealed key is not a valid secp256k1 key: %w", err)
	}
	if stored.Address != "" && !strings.EqualFold(stored.Address, ethcrypto.PubkeyToAddress(key.PublicKey).Hex()) {
		return nil, errors.New("crypto: sealed key does not match its recorded address")
	}
	return key, nil
}

// LoadKey resolves the wallet key. It returns ErrNoKey when neither source is
// configured.
func LoadKey(cfg KeyConfig) (*ecdsa.PrivateKey, error) {
	if cfg.RawPrivateKey != "" {
		return parseKey(cfg.RawPrivateKey)
	}

	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: reading sealed key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}

	return nil, ErrNoKey
}

func parseKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if _, err := hex.DecodeString(keyHex); err != nil {
		return nil, fmt.Errorf("crypto: private key is not valid hex: %w", err)
	}
	key, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return key, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}
