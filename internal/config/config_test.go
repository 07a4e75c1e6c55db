package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const sampleTOML = `
mode = "sync"
log_level = "debug"

[ledger]
rpc_url = "http://node:8545"
contract_address = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
call_timeout = "3s"

[sync]
refresh_interval = "30s"
fetch_concurrency = 4

[redis]
enabled = true
addr = "redis:6379"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_MergesDefaultsFileAndEnv(t *testing.T) {
	t.Setenv("MARKET_SYNC_FETCH_CONCURRENCY", "2")
	t.Setenv("MARKET_NOTIFY_EVENTS", " item_sold , ")
	t.Setenv("MARKET_WALLET_PRIVATE_KEY", "0xabc")

	cfg, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Mode != "sync" || cfg.LogLevel != "debug" {
		t.Errorf("mode/log_level = %q/%q", cfg.Mode, cfg.LogLevel)
	}
	if cfg.Ledger.CallTimeout.Duration != 3*time.Second {
		t.Errorf("call_timeout = %v; want 3s", cfg.Ledger.CallTimeout)
	}
	if cfg.Ledger.Decimals != 18 {
		t.Errorf("decimals default = %d; want 18", cfg.Ledger.Decimals)
	}
	if cfg.Sync.RefreshInterval.Duration != 30*time.Second {
		t.Errorf("refresh_interval = %v", cfg.Sync.RefreshInterval)
	}
	if cfg.Sync.FetchConcurrency != 2 {
		t.Errorf("fetch_concurrency = %d; want env override 2", cfg.Sync.FetchConcurrency)
	}
	if diff := cmp.Diff([]string{"item_sold"}, cfg.Notify.Events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "redis:6379" || cfg.Redis.PoolSize != 20 {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	if cfg.ReadOnly() {
		t.Error("ReadOnly() = true with a private key set")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	_, err := Load(writeConfig(t, "[ledger]\nrpc_ulr = \"x\"\n"))
	if err == nil || !strings.Contains(err.Error(), "ledger.rpc_ulr") {
		t.Fatalf("Load() error = %v; want unknown key ledger.rpc_ulr", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Defaults()
		c.Ledger.ContractAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults with contract", func(*Config) {}, ""},
		{"bad mode", func(c *Config) { c.Mode = "trade" }, "unknown mode"},
		{"no contract", func(c *Config) { c.Ledger.ContractAddress = "" }, "contract_address"},
		{"zero contract", func(c *Config) { c.Ledger.ContractAddress = "0x0000000000000000000000000000000000000000" }, "zero address"},
		{"sealed key without password", func(c *Config) { c.Wallet.EncryptedKeyPath = "key.json" }, "key_password"},
		{"snapshot needs s3", func(c *Config) { c.Mode = "snapshot" }, "s3: must be enabled"},
		{"postgres pool", func(c *Config) {
			c.Postgres.Enabled = true
			c.Postgres.PoolMinConns = 20
		}, "pool_min_conns"},
		{"telegram half set", func(c *Config) { c.Notify.TelegramToken = "t" }, "telegram_chat_id"},
		{"zero concurrency", func(c *Config) { c.Sync.FetchConcurrency = 0 }, "fetch_concurrency"},
		{"zero max items", func(c *Config) { c.Sync.MaxItems = 0 }, "max_items"},
		{"zero max sessions", func(c *Config) { c.Sync.MaxSessions = 0 }, "max_sessions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v; want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRedactedConfig(t *testing.T) {
	c := Defaults()
	c.Wallet.PrivateKey = "0xsecret"
	c.Server.APIKey = "key"
	c.S3.SecretKey = "s3"

	r := RedactedConfig(&c)
	for name, got := range map[string]string{
		"private_key": r.Wallet.PrivateKey,
		"api_key":     r.Server.APIKey,
		"secret_key":  r.S3.SecretKey,
	} {
		if got != redacted {
			t.Errorf("%s = %q; want redacted", name, got)
		}
	}
	if r.Wallet.KeyPassword != "" {
		t.Error("empty secrets must stay empty")
	}
	if c.Wallet.PrivateKey != "0xsecret" {
		t.Error("RedactedConfig mutated the original")
	}
	r.Notify.Events[0] = "changed"
	if c.Notify.Events[0] == "changed" {
		t.Error("RedactedConfig shares the events slice")
	}
}
