package app

import (
	"errors"
	"testing"

	"github.com/alanyoungcy/marketsync/internal/config"
	"github.com/alanyoungcy/marketsync/internal/crypto"
)

func TestLoadWallet(t *testing.T) {
	if _, err := loadWallet(config.WalletConfig{}); !errors.Is(err, crypto.ErrNoKey) {
		t.Fatalf("loadWallet(empty) error = %v; want ErrNoKey", err)
	}

	w, err := loadWallet(config.WalletConfig{
		PrivateKey: "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
	})
	if err != nil {
		t.Fatalf("loadWallet() error = %v", err)
	}
	if got := w.Address().Hex(); got != "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266" {
		t.Errorf("address = %s", got)
	}

	if _, err := loadWallet(config.WalletConfig{PrivateKey: "zz"}); err == nil || errors.Is(err, crypto.ErrNoKey) {
		t.Errorf("loadWallet(bad key) error = %v; want parse error", err)
	}
}

func TestChainID(t *testing.T) {
	if chainID(0) != nil {
		t.Error("chainID(0) should defer to the node")
	}
	if got := chainID(31337); got.Int64() != 31337 {
		t.Errorf("chainID(31337) = %v", got)
	}
}

func TestSenders(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.NotifyConfig
		want []string
	}{
		{"none", config.NotifyConfig{}, nil},
		{"telegram needs chat", config.NotifyConfig{TelegramToken: "t"}, nil},
		{"both", config.NotifyConfig{TelegramToken: "t", TelegramChatID: "1", DiscordWebhookURL: "https://d"}, []string{"telegram", "discord"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := senders(tt.cfg)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d senders; want %d", len(got), len(tt.want))
			}
			for i, s := range got {
				if s.Name() != tt.want[i] {
					t.Errorf("sender %d = %s; want %s", i, s.Name(), tt.want[i])
				}
			}
		})
	}
}

func TestLoadABI_Default(t *testing.T) {
	parsed, err := loadABI("")
	if err != nil {
		t.Fatalf("loadABI() error = %v", err)
	}
	if _, ok := parsed.Methods["purchaseItem"]; !ok {
		t.Errorf("default ABI lacks purchaseItem; methods = %v", len(parsed.Methods))
	}
}
