package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/marketsync/internal/blob/s3"
	"github.com/alanyoungcy/marketsync/internal/cache/redis"
	"github.com/alanyoungcy/marketsync/internal/config"
	"github.com/alanyoungcy/marketsync/internal/crypto"
	"github.com/alanyoungcy/marketsync/internal/domain"
	"github.com/alanyoungcy/marketsync/internal/ledger"
	"github.com/alanyoungcy/marketsync/internal/notify"
	"github.com/alanyoungcy/marketsync/internal/service"
	"github.com/alanyoungcy/marketsync/internal/store/postgres"
)

// Dependencies bundles every dependency the application modes need. Optional
// backends are nil interfaces when not configured. It is constructed by Wire
// and torn down by the returned cleanup function.
type Dependencies struct {
	Ledger *ledger.Client
	// Wallet is nil when no key is configured (read-only).
	Wallet domain.Wallet

	// Redis
	Cache       domain.ViewCache
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Postgres
	Activity domain.ActivityStore

	// Blob storage
	Snapshots domain.SnapshotExporter

	Notifier *notify.Notifier
	Market   *service.MarketService
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{}

	// --- Ledger ---
	contractABI, err := loadABI(cfg.Ledger.ABIPath)
	if err != nil {
		return fail("ledger abi", err)
	}
	client, eth, err := ledger.Dial(ctx, cfg.Ledger.RPCURL, ledger.Config{
		Address:      common.HexToAddress(cfg.Ledger.ContractAddress),
		ABI:          contractABI,
		ChainID:      chainID(cfg.Ledger.ChainID),
		CallTimeout:  cfg.Ledger.CallTimeout.Duration,
		PollInterval: cfg.Ledger.PollInterval.Duration,
	})
	if err != nil {
		return fail("ledger", err)
	}
	closers = append(closers, eth.Close)
	deps.Ledger = client

	// --- Wallet ---
	wallet, err := loadWallet(cfg.Wallet)
	switch {
	case errors.Is(err, crypto.ErrNoKey):
		logger.WarnContext(ctx, "wire: no wallet key configured, running read-only")
	case err != nil:
		return fail("wallet", err)
	default:
		deps.Wallet = wallet
		logger.InfoContext(ctx, "wire: wallet loaded", slog.String("account", wallet.Address().Hex()))
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
			ViewTTL:    cfg.Redis.ViewTTL.Duration,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.Cache = redis.NewViewCache(rc)
		deps.SignalBus = redis.NewSignalBus(rc)
		deps.LockManager = redis.NewLockManager(rc)
		deps.RateLimiter = redis.NewRateLimiter(rc)
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		deps.Activity = postgres.NewActivityStore(pg.Pool())
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		bucket, err := s3blob.Open(ctx, s3blob.Config{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.Snapshots = s3blob.NewSnapshotWriter(bucket, cfg.S3.SnapshotPrefix)
	}

	// --- Notifications ---
	deps.Notifier = notify.NewNotifier(senders(cfg.Notify), cfg.Notify.Events, logger)

	// --- Market service ---
	marketDeps := service.MarketDeps{
		Ledger:    deps.Ledger,
		Wallet:    deps.Wallet,
		Activity:  deps.Activity,
		Cache:     deps.Cache,
		Bus:       deps.SignalBus,
		Locks:     deps.LockManager,
		Snapshots: deps.Snapshots,
	}
	if deps.Notifier.Enabled() {
		marketDeps.Notifier = deps.Notifier
	}
	deps.Market = service.NewMarketService(marketDeps, service.MarketConfig{
		Sync: service.SyncConfig{
			FetchConcurrency:  cfg.Sync.FetchConcurrency,
			AwaitConfirmation: cfg.Sync.AwaitConfirmation,
			Decimals:          cfg.Ledger.Decimals,
			MaxItems:          uint64(cfg.Sync.MaxItems),
		},
		LockTTL:     cfg.Sync.LockTTL.Duration,
		MaxSessions: cfg.Sync.MaxSessions,
	}, logger)

	return deps, cleanup, nil
}

func loadABI(path string) (abi.ABI, error) {
	if path == "" {
		return ledger.DefaultABI()
	}
	return ledger.LoadABI(path)
}

// chainID returns nil for zero so the ledger client asks the node.
func chainID(id int64) *big.Int {
	if id <= 0 {
		return nil
	}
	return big.NewInt(id)
}

// loadWallet returns crypto.ErrNoKey when no key source is configured.
func loadWallet(cfg config.WalletConfig) (*crypto.KeyWallet, error) {
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.PrivateKey,
		EncryptedKeyPath: cfg.EncryptedKeyPath,
		KeyPassword:      cfg.KeyPassword,
	})
	if err != nil {
		return nil, err
	}
	return crypto.NewKeyWallet(key)
}

func senders(cfg config.NotifyConfig) []notify.Sender {
	var out []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		out = append(out, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		out = append(out, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return out
}
