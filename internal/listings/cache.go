package listings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheVersionKey = "listings:version"

// Cache fronts a Lookup with Redis. Keys carry a version so Bump drops every
// cached listing at once. Concurrent misses for the same product collapse
// into one load.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	source Lookup
	logger *slog.Logger
	group  singleflight.Group
}

// NewCache wraps source. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration, source Lookup, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, ttl: ttl, source: source, logger: logger}
}

// FindByProductID returns the cached listing, loading it on a miss. Redis
// failures degrade to a direct load.
func (c *Cache) FindByProductID(ctx context.Context, productID string) (Listing, error) {
	key, err := c.buildKey(ctx, "product", productID)
	if err != nil {
		c.logger.Warn("listing cache unavailable", slog.String("product_id", productID), slog.Any("error", err))
		return c.source.FindByProductID(ctx, productID)
	}
	if c.client != nil {
		payload, err := c.client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var listing Listing
			if err := json.Unmarshal(payload, &listing); err == nil {
				return listing, nil
			}
		case !errors.Is(err, redis.Nil):
			c.logger.Warn("listing cache read", slog.String("key", key), slog.Any("error", err))
		}
	}

	val, err, _ := c.do(ctx, key, func(ctx context.Context) (any, error) {
		listing, err := c.source.FindByProductID(ctx, productID)
		if err != nil {
			return nil, err
		}
		c.store(ctx, key, listing)
		return listing, nil
	})
	if err != nil {
		return Listing{}, err
	}
	return val.(Listing), nil
}

// ListActive is never cached; sync runs need the current set.
func (c *Cache) ListActive(ctx context.Context) ([]Listing, error) {
	val, err, _ := c.do(ctx, "listings:active", func(ctx context.Context) (any, error) {
		return c.source.ListActive(ctx)
	})
	if err != nil {
		return nil, err
	}
	return val.([]Listing), nil
}

// Bump invalidates every cached listing.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

func (c *Cache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
	}
	return ver, nil
}

func (c *Cache) buildKey(ctx context.Context, kind, id string) (string, error) {
	if c.client == nil {
		return fmt.Sprintf("listings:%s:%s", kind, id), nil
	}
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("listings:%s:%s:%d", kind, id, ver), nil
}

func (c *Cache) store(ctx context.Context, key string, listing Listing) {
	if c.client == nil {
		return
	}
	raw, err := json.Marshal(listing)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("listing cache write", slog.String("key", key), slog.Any("error", err))
	}
}

func (c *Cache) do(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error, bool) {
	resultChan := c.group.DoChan(key, func() (any, error) {
		return fn(ctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err(), false
	case res := <-resultChan:
		return res.Val, res.Err, res.Shared
	}
}
