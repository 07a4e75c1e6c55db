package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

const defaultViewTTL = 10 * time.Minute

// ViewCache implements domain.ViewCache with one hash per account.
//
// Key schema:
//
//	views:{account} - hash with fields "catalog", "owned" (JSON) and
//	                  "updated_at" (RFC 3339)
type ViewCache struct {
	c *Client
}

// NewViewCache creates a ViewCache backed by the given Client.
func NewViewCache(c *Client) *ViewCache {
	return &ViewCache{c: c}
}

func (vc *ViewCache) viewKey(account common.Address) string {
	return vc.c.key("views", strings.ToLower(account.Hex()))
}

// Set replaces the cached views of views.Account and resets the TTL.
func (vc *ViewCache) Set(ctx context.Context, views domain.Views) error {
	catalog, err := json.Marshal(views.Catalog)
	if err != nil {
		return fmt.Errorf("redis: marshal catalog view: %w", err)
	}
	owned, err := json.Marshal(views.Owned)
	if err != nil {
		return fmt.Errorf("redis: marshal owned view: %w", err)
	}

	key := vc.viewKey(views.Account)
	pipe := vc.c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		"catalog", catalog,
		"owned", owned,
		"updated_at", views.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, key, vc.c.viewTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set views %s: %w", views.Account.Hex(), err)
	}
	return nil
}

// Get returns the cached views of account, or domain.ErrNotFound.
func (vc *ViewCache) Get(ctx context.Context, account common.Address) (domain.Views, error) {
	fields, err := vc.c.rdb.HGetAll(ctx, vc.viewKey(account)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Views{}, domain.ErrNotFound
		}
		return domain.Views{}, fmt.Errorf("redis: get views %s: %w", account.Hex(), err)
	}
	if len(fields) == 0 {
		return domain.Views{}, domain.ErrNotFound
	}

	views := domain.Views{Account: account}
	if err := json.Unmarshal([]byte(fields["catalog"]), &views.Catalog); err != nil {
		return domain.Views{}, fmt.Errorf("redis: unmarshal catalog view %s: %w", account.Hex(), err)
	}
	if err := json.Unmarshal([]byte(fields["owned"]), &views.Owned); err != nil {
		return domain.Views{}, fmt.Errorf("redis: unmarshal owned view %s: %w", account.Hex(), err)
	}
	if ts := fields["updated_at"]; ts != "" {
		if views.UpdatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return domain.Views{}, fmt.Errorf("redis: parse updated_at %s: %w", account.Hex(), err)
		}
	}
	return views, nil
}

// Invalidate drops the cached views of account.
func (vc *ViewCache) Invalidate(ctx context.Context, account common.Address) error {
	if err := vc.c.rdb.Del(ctx, vc.viewKey(account)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate views %s: %w", account.Hex(), err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ViewCache = (*ViewCache)(nil)
