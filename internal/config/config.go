// Package config defines the top-level configuration for the marketplace
// sync daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARKET_* environment variables.
type Config struct {
	Ledger   LedgerConfig   `toml:"ledger"`
	Wallet   WalletConfig   `toml:"wallet"`
	Sync     SyncConfig     `toml:"sync"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// LedgerConfig locates the marketplace contract.
type LedgerConfig struct {
	RPCURL string `toml:"rpc_url"`
	// ChainID of zero is fetched from the node at startup.
	ChainID         int64  `toml:"chain_id"`
	ContractAddress string `toml:"contract_address"`
	// ABIPath overrides the built-in contract ABI.
	ABIPath      string   `toml:"abi_path"`
	Decimals     int      `toml:"decimals"`
	CallTimeout  duration `toml:"call_timeout"`
	PollInterval duration `toml:"poll_interval"`
}

// WalletConfig holds the signing key. With neither source set the daemon
// runs read-only.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// SyncConfig tunes view refreshes and background jobs.
type SyncConfig struct {
	RefreshInterval   duration `toml:"refresh_interval"`
	FetchConcurrency  int      `toml:"fetch_concurrency"`
	AwaitConfirmation bool     `toml:"await_confirmation"`
	// SnapshotInterval of zero disables periodic snapshot export.
	SnapshotInterval duration `toml:"snapshot_interval"`
	LockTTL          duration `toml:"lock_ttl"`
	// MaxItems caps the item count accepted from the ledger for one refresh.
	MaxItems int `toml:"max_items"`
	// MaxSessions caps the per-account sessions kept for owned-view reads.
	MaxSessions int `toml:"max_sessions"`
}

// PostgresConfig holds activity-log database parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	ViewTTL    duration `toml:"view_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	SnapshotPrefix string `toml:"snapshot_prefix"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per RateWindow per client IP; it needs Redis.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			RPCURL:       "http://127.0.0.1:8545",
			Decimals:     18,
			CallTimeout:  duration{10 * time.Second},
			PollInterval: duration{2 * time.Second},
		},
		Sync: SyncConfig{
			RefreshInterval:  duration{15 * time.Second},
			FetchConcurrency: 8,
			SnapshotInterval: duration{time.Hour},
			LockTTL:          duration{2 * time.Minute},
			MaxItems:         100_000,
			MaxSessions:      64,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "marketsync",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "market:",
			ViewTTL:    duration{10 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "marketsync",
			ForcePathStyle: true,
			SnapshotPrefix: "snapshots/catalog",
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"item_listed", "item_sold"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":   true,
	"sync":     true,
	"full":     true,
	"snapshot": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ReadOnly reports whether no wallet key source is configured.
func (c *Config) ReadOnly() bool {
	return c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == ""
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, sync, full, snapshot)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ledger
	if c.Ledger.RPCURL == "" {
		errs = append(errs, "ledger: rpc_url must not be empty")
	}
	if !common.IsHexAddress(c.Ledger.ContractAddress) {
		errs = append(errs, fmt.Sprintf("ledger: contract_address %q is not a hex address", c.Ledger.ContractAddress))
	} else if common.HexToAddress(c.Ledger.ContractAddress) == (common.Address{}) {
		errs = append(errs, "ledger: contract_address must not be the zero address")
	}
	if c.Ledger.ChainID < 0 {
		errs = append(errs, "ledger: chain_id must be >= 0")
	}
	if c.Ledger.Decimals < 0 || c.Ledger.Decimals > 36 {
		errs = append(errs, fmt.Sprintf("ledger: decimals must be 0-36, got %d", c.Ledger.Decimals))
	}

	// Wallet
	if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// Sync
	if (mode == "sync" || mode == "full") && c.Sync.RefreshInterval.Duration <= 0 {
		errs = append(errs, "sync: refresh_interval must be > 0")
	}
	if c.Sync.FetchConcurrency < 1 {
		errs = append(errs, "sync: fetch_concurrency must be >= 1")
	}
	if c.Sync.MaxItems < 1 {
		errs = append(errs, "sync: max_items must be >= 1")
	}
	if c.Sync.MaxSessions < 1 {
		errs = append(errs, "sync: max_sessions must be >= 1")
	}
	if c.Sync.SnapshotInterval.Duration < 0 {
		errs = append(errs, "sync: snapshot_interval must be >= 0")
	}
	if mode == "snapshot" && !c.S3.Enabled {
		errs = append(errs, "s3: must be enabled for mode snapshot")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Server
	if mode == "server" || mode == "full" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
