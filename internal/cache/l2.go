package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

// l2 wraps Redis for the cache's distributed tier, adapted from
// pincex_unified's internal/cache.L2Cache: same gzip-above-threshold
// envelope, trimmed to Get/Set/Delete/Scan since this package's tag index
// (cache.go) replaces L2Cache's DeletePattern for invalidation.
type l2 struct {
	client         redis.UniversalClient
	keyPrefix      string
	compressionMin int
}

type l2Item struct {
	Data       []byte `json:"data"`
	Compressed bool   `json:"compressed"`
}

func newL2(client redis.UniversalClient, keyPrefix string, compressionMin int) *l2 {
	if compressionMin <= 0 {
		compressionMin = 1024
	}
	return &l2{client: client, keyPrefix: keyPrefix, compressionMin: compressionMin}
}

func (c *l2) redisKey(key string) string { return c.keyPrefix + key }

func (c *l2) get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache: l2 get: %w", err)
	}
	var item l2Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, false, fmt.Errorf("cache: l2 decode: %w", err)
	}
	if !item.Compressed {
		return item.Data, true, nil
	}
	data, err := decompress(item.Data)
	if err != nil {
		return nil, false, fmt.Errorf("cache: l2 decompress: %w", err)
	}
	return data, true, nil
}

func (c *l2) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	item := l2Item{Data: value}
	if len(value) >= c.compressionMin {
		compressed, err := compress(value)
		if err != nil {
			return fmt.Errorf("cache: l2 compress: %w", err)
		}
		item.Data = compressed
		item.Compressed = true
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("cache: l2 encode: %w", err)
	}
	if err := c.client.Set(ctx, c.redisKey(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("cache: l2 set: %w", err)
	}
	return nil
}

func (c *l2) delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("cache: l2 delete: %w", err)
	}
	return nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
