package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps failures of the shared redis tier.
var ErrUnavailable = errors.New("cache: redis unavailable")

// Option customises a Cache.
type Option func(*Cache) error

// WithPrefix namespaces every shared-tier key.
func WithPrefix(prefix string) Option {
	return func(c *Cache) error {
		c.prefix = prefix
		return nil
	}
}

// WithLocalMaxCost bounds the in-process tier (cost is bytes of value).
// Zero disables the local tier.
func WithLocalMaxCost(maxCost int64) Option {
	return func(c *Cache) error {
		if maxCost < 0 {
			return errors.New("local max cost must not be negative")
		}
		c.localMaxCost = maxCost
		return nil
	}
}

// WithLocalTTL caps how long an entry lives in the in-process tier.
func WithLocalTTL(ttl time.Duration) Option {
	return func(c *Cache) error {
		if ttl <= 0 {
			return errors.New("local ttl must be positive")
		}
		c.localTTL = ttl
		return nil
	}
}

// Cache is a two-tier byte cache: a ristretto tier inside the process in
// front of a redis tier shared by all replicas. Either tier may be absent.
type Cache struct {
	rdb          redis.UniversalClient
	local        *ristretto.Cache
	prefix       string
	localMaxCost int64
	localTTL     time.Duration
}

func New(rdb redis.UniversalClient, opts ...Option) (*Cache, error) {
	c := &Cache{
		rdb:          rdb,
		prefix:       "cache:",
		localMaxCost: 32 << 20,
		localTTL:     5 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
	}
	if c.localMaxCost > 0 {
		local, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: max(10*(c.localMaxCost/256), 1000),
			MaxCost:     c.localMaxCost,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("cache: local tier: %w", err)
		}
		c.local = local
	}
	return c, nil
}

// Close releases the local tier.
func (c *Cache) Close() {
	if c.local != nil {
		c.local.Close()
	}
}

// Get looks the key up locally, then in redis. A redis hit refills the local tier.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c.local != nil {
		if v, ok := c.local.Get(key); ok {
			if b, ok := v.([]byte); ok {
				return b, true, nil
			}
		}
	}
	if c.rdb == nil {
		return nil, false, nil
	}
	rkey := c.prefix + key
	b, err := c.rdb.Get(ctx, rkey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get: %v", ErrUnavailable, err)
	}
	if c.local != nil {
		if ttl, err := c.rdb.PTTL(ctx, rkey).Result(); err == nil && ttl > 0 {
			c.setLocal(key, b, ttl)
		}
	}
	return b, true, nil
}

// Set stores the value in both tiers for ttl.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.setLocal(key, value, ttl)
	if c.rdb == nil {
		return nil
	}
	if err := c.rdb.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set: %v", ErrUnavailable, err)
	}
	return nil
}

// Delete drops the key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if c.local != nil {
		c.local.Del(key)
	}
	if c.rdb == nil {
		return nil
	}
	if err := c.rdb.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: delete: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *Cache) setLocal(key string, value []byte, ttl time.Duration) {
	if c.local == nil {
		return
	}
	if ttl > c.localTTL {
		ttl = c.localTTL
	}
	c.local.SetWithTTL(key, value, int64(len(value))+int64(len(key)), ttl)
	c.local.Wait()
}

// Key derives a fixed-size cache key from a namespace and the JSON encoding
// of parts. Distinct argument tuples never share a key.
func Key(namespace string, parts ...any) (string, error) {
	data, err := json.Marshal(parts)
	if err != nil {
		return "", fmt.Errorf("cache: key: %w", err)
	}
	sum := sha256.Sum256(data)
	return namespace + ":" + hex.EncodeToString(sum[:]), nil
}

// Outcome of a Remember lookup.
const (
	Hit    = "hit"
	Miss   = "miss"
	Failed = "error"
)

// Remember returns the cached JSON value under key, or computes it with fn
// and stores it for ttl. Cache failures fall through to fn; the returned
// outcome is Hit, Miss or Failed.
func Remember[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, string, error) {
	outcome := Miss
	if data, ok, err := c.Get(ctx, key); err != nil {
		outcome = Failed
	} else if ok {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			return v, Hit, nil
		}
	}
	v, err := fn(ctx)
	if err != nil {
		return v, outcome, err
	}
	if data, err := json.Marshal(v); err == nil {
		_ = c.Set(ctx, key, data, ttl)
	}
	return v, outcome, nil
}
