// Package cache implements C9: a two-layer (in-process LRU + Redis) cache
// with single-flight loading, tag invalidation, and L2-failure degradation
// through a circuit breaker (spec.md §4.9). Layer implementations are
// adapted from pincex_unified's internal/database/cache.L1Cache and
// internal/cache.L2Cache (l1.go, l2.go); the loader single-flight and
// promotion-on-miss orchestration below follows the same
// try-L1-then-L2-then-loader shape as original_source's
// src/api/cache.py MultiLayerCache.get, generalized with a tag index that
// file doesn't have since spec.md requires whole-tag invalidation across
// both layers.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Aidin1998/predictmarket/internal/breaker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Loader produces the value for a cache miss. Returned value is JSON
// encoded for storage in both layers.
type Loader func(ctx context.Context) (any, error)

// Config configures a Cache instance.
type Config struct {
	L1Capacity     int
	L1TTL          time.Duration
	L2TTL          time.Duration
	KeyPrefix      string
	CompressionMin int
}

func DefaultConfig() Config {
	return Config{
		L1Capacity:     10_000,
		L1TTL:          30 * time.Second,
		L2TTL:          5 * time.Minute,
		KeyPrefix:      "predictmarket:cache:",
		CompressionMin: 1024,
	}
}

// Cache is spec.md §4.9's multi-layer cache. L2 may be nil, in which case
// the cache runs L1-only (useful for tests and single-process
// deployments).
type Cache struct {
	logger  *zap.Logger
	cfg     Config
	l1      *l1
	l2      *l2
	breaker *breaker.Breaker
	group   singleflight.Group

	mu   sync.Mutex
	tags map[string]map[string]struct{} // tag -> set of keys
}

func New(logger *zap.Logger, cfg Config, redisClient redis.UniversalClient, l2Breaker *breaker.Breaker) *Cache {
	c := &Cache{
		logger: logger,
		cfg:    cfg,
		l1:     newL1(cfg.L1Capacity),
		tags:   make(map[string]map[string]struct{}),
	}
	if redisClient != nil {
		c.l2 = newL2(redisClient, cfg.KeyPrefix, cfg.CompressionMin)
	}
	if l2Breaker != nil {
		c.breaker = l2Breaker
	} else {
		c.breaker = breaker.New(breaker.DefaultConfig("cache-l2"), logger)
	}
	return c
}

// Get is spec.md §4.9's Get(key): L1, then L2 (promoting hits back into
// L1 with a shorter TTL), then loader under single-flight. An expired
// entry in either layer is treated as a miss.
func (c *Cache) Get(ctx context.Context, key string, loader Loader) (any, error) {
	if raw, ok := c.l1.get(key); ok {
		return decode(raw)
	}

	if c.l2 != nil {
		var raw []byte
		var hit bool
		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			var innerErr error
			raw, hit, innerErr = c.l2.get(ctx, key)
			return innerErr
		})
		switch {
		case err == nil && hit:
			c.l1.set(key, raw, c.cfg.L1TTL, c.l1.tagsOf(key))
			return decode(raw)
		case err != nil:
			c.logger.Warn("cache: l2 get degraded to miss", zap.String("key", key), zap.Error(err))
		}
	}

	if loader == nil {
		return nil, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		value, loadErr := loader(ctx)
		if loadErr != nil {
			return nil, loadErr
		}
		if setErr := c.Set(ctx, key, value, c.cfg.L2TTL, nil); setErr != nil {
			c.logger.Warn("cache: post-load set failed", zap.String("key", key), zap.Error(setErr))
		}
		raw, encErr := json.Marshal(value)
		if encErr != nil {
			return nil, encErr
		}
		return decode(raw)
	})
	return v, err
}

// Set is spec.md §4.9's Set(key, value, ttl, tags): writes both layers
// and updates the tag index.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration, tags []string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode: %w", err)
	}

	l1TTL := ttl
	if l1TTL <= 0 || l1TTL > c.cfg.L1TTL {
		l1TTL = c.cfg.L1TTL
	}
	c.l1.set(key, raw, l1TTL, tags)

	if c.l2 != nil {
		if err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.l2.set(ctx, key, raw, ttl)
		}); err != nil {
			c.logger.Warn("cache: l2 set degraded", zap.String("key", key), zap.Error(err))
		}
	}

	c.mu.Lock()
	for _, tag := range tags {
		set, ok := c.tags[tag]
		if !ok {
			set = make(map[string]struct{})
			c.tags[tag] = set
		}
		set[key] = struct{}{}
	}
	c.mu.Unlock()
	return nil
}

// Invalidate is spec.md §4.9's Invalidate(tag): deletes every key in
// tag's set from both layers.
func (c *Cache) Invalidate(ctx context.Context, tag string) {
	c.mu.Lock()
	keys := c.tags[tag]
	delete(c.tags, tag)
	c.mu.Unlock()

	for key := range keys {
		c.l1.delete(key)
		if c.l2 != nil {
			if err := c.breaker.Execute(ctx, func(ctx context.Context) error {
				return c.l2.delete(ctx, key)
			}); err != nil {
				c.logger.Warn("cache: l2 invalidate degraded", zap.String("key", key), zap.Error(err))
			}
		}
	}
}

func decode(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("cache: decode: %w", err)
	}
	return v, nil
}
