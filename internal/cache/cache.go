// Package cache sweeps a tenant's key namespace out of the shared key-value
// cache. Used only during hard delete.
package cache

import (
	"context"
	"fmt"

	"github.com/plexica/tenantd/pkg/config"
	"github.com/plexica/tenantd/pkg/logger"
	"github.com/plexica/tenantd/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// scanCount is the page size hint for the namespace scan.
const scanCount = 500

// Cache wraps the shared redis client.
type Cache struct {
	client *redis.Client
}

// New creates a cache handle from configuration.
func New(cfg *config.CacheConfig) *Cache {
	return &Cache{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

// NewWithClient wraps an existing redis client. Tests use this with miniredis.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// NamespacePattern returns the scan pattern covering one tenant's keys.
func NamespacePattern(slug string) string {
	return fmt.Sprintf("tenant:%s:*", slug)
}

// SweepNamespace deletes every key under tenant:<slug>:* with a paginated
// scan and batched deletes. Returns the number of keys removed.
func (c *Cache) SweepNamespace(ctx context.Context, slug string) (int, error) {
	pattern := NamespacePattern(slug)
	log := logger.FromContext(ctx)

	var cursor uint64
	deleted := 0
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return deleted, fmt.Errorf("scan %s: %w", pattern, err)
		}

		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("delete keys for %s: %w", pattern, err)
			}
			deleted += int(n)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	prometheus.RecordCacheKeysSwept(deleted)
	log.Info("swept tenant cache namespace",
		zap.String("pattern", pattern),
		zap.Int("deleted", deleted))
	return deleted, nil
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}
