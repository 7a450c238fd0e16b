package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "face-gallery:descriptor:"

// DescriptorCache stores extracted descriptors by query fingerprint.
type DescriptorCache interface {
	Get(ctx context.Context, fingerprint string) (*Descriptor, error) // nil, nil on miss
	Set(ctx context.Context, fingerprint string, d *Descriptor) error
}

// RedisCache is a DescriptorCache in Redis, values CBOR-encoded.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to url (redis://...) and verifies the connection.
func NewRedisCache(ctx context.Context, url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

// Get returns the cached descriptor, nil on miss.
func (c *RedisCache) Get(ctx context.Context, fingerprint string) (*Descriptor, error) {
	data, err := c.client.Get(ctx, cacheKeyPrefix+fingerprint).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var d Descriptor
	if err := cbor.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decoding cached descriptor: %w", err)
	}
	return &d, nil
}

// Set stores a descriptor for the configured TTL.
func (c *RedisCache) Set(ctx context.Context, fingerprint string, d *Descriptor) error {
	data, err := cbor.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding descriptor: %w", err)
	}
	if err := c.client.Set(ctx, cacheKeyPrefix+fingerprint, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close closes the redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// CachingExtractor serves repeated images from a DescriptorCache. Only
// successful extractions are cached; cache failures are passed to onError and
// never fail the extraction.
type CachingExtractor struct {
	next    Extractor
	cache   DescriptorCache
	dim     int
	onError func(ctx context.Context, err error)
}

// NewCachingExtractor wraps next with cache. Cached descriptors whose length
// differs from dim are ignored.
func NewCachingExtractor(next Extractor, cache DescriptorCache, dim int, onError func(ctx context.Context, err error)) *CachingExtractor {
	if onError == nil {
		onError = func(context.Context, error) {}
	}
	return &CachingExtractor{next: next, cache: cache, dim: dim, onError: onError}
}

// Extract returns the cached descriptor for the image or extracts and caches it.
func (c *CachingExtractor) Extract(ctx context.Context, imageData []byte) (*Descriptor, error) {
	fp := QueryFingerprint(imageData)

	cached, err := c.cache.Get(ctx, fp)
	if err != nil {
		c.onError(ctx, err)
	} else if cached != nil && len(cached.Vector) == c.dim {
		return cached, nil
	}

	d, err := c.next.Extract(ctx, imageData)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, fp, d); err != nil {
		c.onError(ctx, err)
	}
	return d, nil
}
