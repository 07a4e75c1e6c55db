package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// envPrefix namespaces every environment override.
const envPrefix = "MARKET_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MARKET_* environment variable overrides, and
// returns the final Config. A missing file is not an error when path is
// empty. The returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MARKET_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Ledger ──
	setStr(&cfg.Ledger.RPCURL, "LEDGER_RPC_URL")
	setInt64(&cfg.Ledger.ChainID, "LEDGER_CHAIN_ID")
	setStr(&cfg.Ledger.ContractAddress, "LEDGER_CONTRACT_ADDRESS")
	setStr(&cfg.Ledger.ABIPath, "LEDGER_ABI_PATH")
	setInt(&cfg.Ledger.Decimals, "LEDGER_DECIMALS")
	setDuration(&cfg.Ledger.CallTimeout, "LEDGER_CALL_TIMEOUT")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "WALLET_KEY_PASSWORD")

	// ── Sync ──
	setDuration(&cfg.Sync.RefreshInterval, "SYNC_REFRESH_INTERVAL")
	setInt(&cfg.Sync.FetchConcurrency, "SYNC_FETCH_CONCURRENCY")
	setBool(&cfg.Sync.AwaitConfirmation, "SYNC_AWAIT_CONFIRMATION")
	setDuration(&cfg.Sync.SnapshotInterval, "SYNC_SNAPSHOT_INTERVAL")
	setInt(&cfg.Sync.MaxItems, "SYNC_MAX_ITEMS")
	setInt(&cfg.Sync.MaxSessions, "SYNC_MAX_SESSIONS")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when MARKET_<key> is
// present and non-empty.
// ---------------------------------------------------------------------------

func lookup(key string) (string, bool) {
	v := os.Getenv(envPrefix + key)
	return v, v != ""
}

func setStr(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v, ok := lookup(key); ok {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
