package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_cache_hits_total",
		Help: "Catalog lookups served from redis.",
	}, []string{"kind"})
	cacheMiss = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_cache_miss_total",
		Help: "Catalog lookups that fell through to the database.",
	}, []string{"kind"})
)

// Cache is a read-through redis cache in front of the catalog tables.
// Concurrent misses on one key share a single database load. A nil rdb
// disables caching.
type Cache struct {
	rdb   *redis.Client
	ttl   time.Duration
	group singleflight.Group
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

func (c *Cache) enabled() bool {
	return c != nil && c.rdb != nil
}

func getOrLoad[T any](ctx context.Context, c *Cache, kind, key string, load func(context.Context) (T, error)) (T, error) {
	if !c.enabled() {
		return load(ctx)
	}

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var out T
		if err := json.Unmarshal(raw, &out); err == nil {
			cacheHits.WithLabelValues(kind).Inc()
			return out, nil
		}
		zap.L().Warn("catalog cache entry is corrupt", zap.String("key", key))
	} else if !errors.Is(err, redis.Nil) {
		zap.L().Warn("catalog cache unavailable", zap.String("key", key), zap.Error(err))
	}
	cacheMiss.WithLabelValues(kind).Inc()

	v, err, _ := c.group.Do(key, func() (any, error) {
		// the result is shared with every waiter, so the first caller
		// going away must not cancel it
		loadCtx := context.WithoutCancel(ctx)
		out, err := load(loadCtx)
		if err != nil {
			return out, err
		}
		if b, err := json.Marshal(out); err == nil {
			if err := c.rdb.Set(loadCtx, key, b, c.ttl).Err(); err != nil {
				zap.L().Warn("failed to fill catalog cache", zap.String("key", key), zap.Error(err))
			}
		}
		return out, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Invalidate drops keys after an administrative write.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if !c.enabled() || len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}
