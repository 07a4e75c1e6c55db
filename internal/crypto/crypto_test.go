package crypto

import (
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Well-known development key (first Hardhat/Anvil account).
const (
	devKeyHex  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestNewKeyWalletFromHex(t *testing.T) {
	for _, in := range []string{devKeyHex, "0x" + devKeyHex, " 0x" + devKeyHex + "\n"} {
		w, err := NewKeyWalletFromHex(in)
		if err != nil {
			t.Fatalf("NewKeyWalletFromHex(%q) error = %v", in, err)
		}
		if got := w.Address(); got != common.HexToAddress(devAddress) {
			t.Errorf("Address() = %s; want %s", got.Hex(), devAddress)
		}
		if strings.Contains(w.String(), devKeyHex) {
			t.Errorf("String() leaks key material: %s", w.String())
		}
	}

	for _, bad := range []string{"", "zz", "0x1234"} {
		if _, err := NewKeyWalletFromHex(bad); err == nil {
			t.Errorf("NewKeyWalletFromHex(%q) error = nil; want error", bad)
		}
	}
}

func TestKeyWallet_SignTx(t *testing.T) {
	w, err := NewKeyWalletFromHex(devKeyHex)
	if err != nil {
		t.Fatal(err)
	}
	to := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	tx := types.NewTx(&types.LegacyTx{Nonce: 1, GasPrice: big.NewInt(1), Gas: 21000, To: &to, Value: big.NewInt(10)})
	chainID := big.NewInt(31337)

	signed, err := w.SignTx(tx, chainID)
	if err != nil {
		t.Fatalf("SignTx() error = %v", err)
	}
	if got := signed.ChainId(); got.Cmp(chainID) != 0 {
		t.Errorf("ChainId() = %s; want %s", got, chainID)
	}
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	if err != nil || sender != w.Address() {
		t.Errorf("Sender() = %s, %v; want %s", sender.Hex(), err, w.Address().Hex())
	}

	if _, err := w.SignTx(tx, nil); err == nil {
		t.Error("SignTx(nil chain id) error = nil; want error")
	}
}

func TestEncryptDecryptKey(t *testing.T) {
	sealed, err := EncryptKey("0x"+devKeyHex, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey() error = %v", err)
	}
	if strings.Contains(string(sealed), devKeyHex) {
		t.Fatal("sealed key contains plaintext key")
	}

	key, err := DecryptKey(sealed, "hunter2")
	if err != nil {
		t.Fatalf("DecryptKey() error = %v", err)
	}
	w, _ := NewKeyWallet(key)
	if w.Address() != common.HexToAddress(devAddress) {
		t.Errorf("decrypted address = %s; want %s", w.Address().Hex(), devAddress)
	}

	if _, err := DecryptKey(sealed, "wrong"); err == nil {
		t.Error("DecryptKey(wrong password) error = nil; want error")
	}
	if _, err := EncryptKey(devKeyHex, ""); err == nil {
		t.Error("EncryptKey(empty password) error = nil; want error")
	}
}

func TestLoadKey(t *testing.T) {
	if _, err := LoadKey(KeyConfig{}); !errors.Is(err, ErrNoKey) {
		t.Errorf("LoadKey(empty) error = %v; want ErrNoKey", err)
	}

	key, err := LoadKey(KeyConfig{RawPrivateKey: devKeyHex, EncryptedKeyPath: "/does/not/exist"})
	if err != nil {
		t.Fatalf("LoadKey(raw) error = %v", err)
	}
	if key.D.Sign() == 0 {
		t.Error("LoadKey(raw) returned zero key")
	}

	sealed, err := EncryptKey(devKeyHex, "pw")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "wallet.json")
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"}); err != nil {
		t.Errorf("LoadKey(file) error = %v", err)
	}
}
