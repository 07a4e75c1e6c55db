// Package redis implements the transient cache, lock, rate limiter and
// pub/sub bus on go-redis/v9. Nothing stored here is authoritative; every
// key can be dropped and rebuilt from the ledger.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// KeyPrefix namespaces every key so several deployments can share one
	// Redis database.
	KeyPrefix string
	// ViewTTL bounds how long cached views live. Zero selects the default.
	ViewTTL time.Duration
}

// Client wraps a go-redis Client and provides connectivity helpers.
type Client struct {
	rdb     *redis.Client
	prefix  string
	viewTTL time.Duration
}

// New creates a Redis Client and pings it.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewFromClient(rdb, cfg.KeyPrefix, cfg.ViewTTL), nil
}

// NewFromClient wraps an existing go-redis client without pinging it.
func NewFromClient(rdb *redis.Client, prefix string, viewTTL time.Duration) *Client {
	if viewTTL <= 0 {
		viewTTL = defaultViewTTL
	}
	return &Client{rdb: rdb, prefix: prefix, viewTTL: viewTTL}
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) key(parts ...string) string {
	k := c.prefix
	for _, p := range parts {
		if k != "" {
			k += ":"
		}
		k += p
	}
	return k
}
