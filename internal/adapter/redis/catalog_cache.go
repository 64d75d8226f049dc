package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultCatalogKey holds the raw wikistats CSV.
const DefaultCatalogKey = "wikichanges:catalog:csv"

// CacheObserver counts snapshot cache outcomes.
type CacheObserver interface {
	Hit()
	Miss()
	Failed(operation string)
}

// CatalogCache stores the wiki listing snapshot under a single key with a TTL.
type CatalogCache struct {
	rdb      goredis.Cmdable
	key      string
	observer CacheObserver
}

// NewCatalogCache returns a cache bound to key. observer may be nil.
func NewCatalogCache(rdb goredis.Cmdable, key string, observer CacheObserver) *CatalogCache {
	if key == "" {
		key = DefaultCatalogKey
	}
	return &CatalogCache{rdb: rdb, key: key, observer: observer}
}

// Get reports false without error when no snapshot is stored.
func (c *CatalogCache) Get(ctx context.Context) ([]byte, bool, error) {
	data, err := c.rdb.Get(ctx, c.key).Bytes()
	switch {
	case errors.Is(err, goredis.Nil):
		c.observe(func(o CacheObserver) { o.Miss() })
		return nil, false, nil
	case err != nil:
		c.observe(func(o CacheObserver) { o.Failed("get") })
		return nil, false, fmt.Errorf("catalog cache get: %w", err)
	}
	c.observe(func(o CacheObserver) { o.Hit() })
	return data, true, nil
}

func (c *CatalogCache) Set(ctx context.Context, data []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, c.key, data, ttl).Err(); err != nil {
		c.observe(func(o CacheObserver) { o.Failed("set") })
		return fmt.Errorf("catalog cache set: %w", err)
	}
	return nil
}

// Invalidate removes the stored snapshot.
func (c *CatalogCache) Invalidate(ctx context.Context) error {
	if err := c.rdb.Del(ctx, c.key).Err(); err != nil {
		c.observe(func(o CacheObserver) { o.Failed("del") })
		return fmt.Errorf("catalog cache invalidate: %w", err)
	}
	return nil
}

func (c *CatalogCache) observe(fn func(CacheObserver)) {
	if c.observer != nil {
		fn(c.observer)
	}
}
