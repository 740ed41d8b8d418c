package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ndmikkelsen/btc-algo-trader/internal/domain"
)

// Compile-time interface checks.
var _ Provider = (*CachedProvider)(nil)
var _ Cache = (*RedisCache)(nil)

// ErrCacheMiss is returned by Cache.Get when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// Cache stores encoded bar series by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CachedProvider serves bars from a Cache when possible and falls back to
// the wrapped Provider, storing what it fetched. Cache failures are logged
// and never fail a fetch.
type CachedProvider struct {
	next      Provider
	cache     Cache
	namespace string
	ttl       time.Duration
	log       *slog.Logger
}

// NewCachedProvider wraps next with cache. namespace separates series of
// different exchanges that share a cache.
func NewCachedProvider(next Provider, cache Cache, namespace string, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		next:      next,
		cache:     cache,
		namespace: namespace,
		ttl:       ttl,
		log:       slog.Default().With("component", "bar-cache"),
	}
}

// FetchHistoricalData implements Provider.
func (p *CachedProvider) FetchHistoricalData(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Bar, error) {
	key := p.namespace + ":" + Request{Symbol: symbol, Timeframe: tf, Start: start, End: end}.Key()

	raw, err := p.cache.Get(ctx, key)
	switch {
	case err == nil:
		var bars []domain.Bar
		uerr := json.Unmarshal(raw, &bars)
		if uerr == nil {
			p.log.Debug("cache hit", "key", key, "count", len(bars))
			return bars, nil
		}
		p.log.Warn("discarding corrupt cache entry", "key", key, "error", uerr)
	case !errors.Is(err, ErrCacheMiss):
		p.log.Warn("cache read failed", "key", key, "error", err)
	}

	bars, err := p.next.FetchHistoricalData(ctx, symbol, tf, start, end)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return bars, nil
	}

	encoded, err := json.Marshal(bars)
	if err != nil {
		p.log.Warn("encoding bars for cache", "key", key, "error", err)
		return bars, nil
	}
	if err := p.cache.Set(ctx, key, encoded, p.ttl); err != nil {
		p.log.Warn("cache write failed", "key", key, "error", err)
	}
	return bars, nil
}

// ---------------------------------------------------------------------------
// Redis
// ---------------------------------------------------------------------------

// RedisKeyPrefix prefixes every key RedisCache writes.
const RedisKeyPrefix = "btcalgo:bars:"

// RedisOptions configures a RedisCache.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisCache implements Cache on a Redis server.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects a RedisCache. The connection is established lazily
// by the first command.
func NewRedisCache(opts RedisOptions) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      2,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 500 * time.Millisecond,
	})
	return &RedisCache{client: client}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, RedisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, RedisKeyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
