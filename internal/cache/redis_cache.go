package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"retailcore/backoffice/internal/domain"
)

const productTTL = 5 * time.Minute

type RedisProductCache struct {
	client *redis.Client
}

func NewRedisProductCache(client *redis.Client) *RedisProductCache {
	return &RedisProductCache{client: client}
}

func (c *RedisProductCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisProductCache) Close() error {
	return c.client.Close()
}

func productKey(tenantID, productID string) string {
	return fmt.Sprintf("product:%s:%s", tenantID, productID)
}

func (c *RedisProductCache) Get(ctx context.Context, tenantID, productID string) (*domain.Product, bool) {
	val, err := c.client.Get(ctx, productKey(tenantID, productID)).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Debug().Err(err).Str("product_id", productID).Msg("product cache read failed")
		return nil, false
	}

	var product domain.Product
	if err := json.Unmarshal([]byte(val), &product); err != nil {
		return nil, false
	}
	return &product, true
}

func (c *RedisProductCache) Set(ctx context.Context, product domain.Product) {
	payload, err := json.Marshal(product)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, productKey(product.TenantID, product.ID), payload, productTTL).Err(); err != nil {
		log.Debug().Err(err).Str("product_id", product.ID).Msg("product cache write failed")
	}
}

func (c *RedisProductCache) Invalidate(ctx context.Context, tenantID string, productIDs ...string) {
	if len(productIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		keys = append(keys, productKey(tenantID, id))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		log.Debug().Err(err).Int("keys", len(keys)).Msg("product cache invalidation failed")
	}
}
