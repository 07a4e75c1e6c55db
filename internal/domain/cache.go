package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Views is a cached pair of catalog and owned-items views for one account.
type Views struct {
	Account   common.Address `json:"account"`
	Catalog   []ItemView     `json:"catalog"`
	Owned     []ItemView     `json:"owned"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// ViewCache holds the last published views per account. It is a disposable
// projection of ledger state; entries may be evicted at any time.
type ViewCache interface {
	Set(ctx context.Context, views Views) error
	Get(ctx context.Context, account common.Address) (Views, error)
	Invalidate(ctx context.Context, account common.Address) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out of view and activity events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
