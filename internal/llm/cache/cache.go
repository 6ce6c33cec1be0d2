// Package cache provides Redis-based caching middleware for completions.
// Identical requests within the TTL are answered from Redis; any Redis
// failure falls through to the provider.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/EstifanosTeklay/automaton-auditor/internal/llm/configuration"
	"github.com/EstifanosTeklay/automaton-auditor/internal/llm/transport"
)

const (
	defaultPoolSize   = 10
	connectionTimeout = 5 * time.Second
)

// Store is the subset of the Redis API used by the cache. *redis.Client
// satisfies it.
type Store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Stats counts cache outcomes.
type Stats struct {
	Hits   atomic.Int64
	Misses atomic.Int64
	Errors atomic.Int64
}

// HitRate returns hits over lookups, or zero before the first lookup.
func (s *Stats) HitRate() float64 {
	hits, misses := s.Hits.Load(), s.Misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

type entry struct {
	Response   transport.Response `json:"response"`
	StoredAtMs int64              `json:"stored_at_ms"`
}

type cacheMiddleware struct {
	store  Store
	ttl    time.Duration
	stats  *Stats
	logger *slog.Logger
}

// New creates caching middleware backed by a fresh Redis client. When the
// cache is disabled or Redis cannot be reached the middleware passes every
// request through.
func New(ctx context.Context, cfg configuration.CacheConfig, stats *Stats) transport.Middleware {
	if !cfg.Enabled {
		return passthrough
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: defaultPoolSize,
	})

	timeoutCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()
	if err := client.Ping(timeoutCtx).Err(); err != nil {
		slog.Warn("Redis connection failed, cache disabled", "error", err)
		_ = client.Close()
		return passthrough
	}
	return NewWithStore(client, cfg.TTL, stats)
}

// NewWithStore creates caching middleware around an existing store.
func NewWithStore(store Store, ttl time.Duration, stats *Stats) transport.Middleware {
	if stats == nil {
		stats = &Stats{}
	}
	if ttl <= 0 {
		ttl = configuration.DefaultCacheTTL
	}
	c := &cacheMiddleware{
		store:  store,
		ttl:    ttl,
		stats:  stats,
		logger: slog.Default().With("component", "cache"),
	}
	return c.middleware
}

func passthrough(next transport.Handler) transport.Handler { return next }

func (c *cacheMiddleware) middleware(next transport.Handler) transport.Handler {
	return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		key := transport.CacheKey(req)

		if cached, ok := c.get(ctx, key); ok {
			c.stats.Hits.Add(1)
			c.logger.Debug("cache hit", "key", key, "model", req.Model)
			return cached, nil
		}
		c.stats.Misses.Add(1)

		resp, err := next.Handle(ctx, req)
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, resp)
		return resp, nil
	})
}

func (c *cacheMiddleware) get(ctx context.Context, key string) (*transport.Response, bool) {
	raw, err := c.store.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.stats.Errors.Add(1)
		c.logger.Warn("cache read failed", "key", key, "error", err)
		return nil, false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.stats.Errors.Add(1)
		c.logger.Warn("discarding corrupt cache entry", "key", key, "error", err)
		return nil, false
	}
	resp := e.Response
	resp.Cached = true
	return &resp, true
}

func (c *cacheMiddleware) set(ctx context.Context, key string, resp *transport.Response) {
	data, err := json.Marshal(entry{Response: *resp, StoredAtMs: time.Now().UnixMilli()})
	if err != nil {
		c.stats.Errors.Add(1)
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.stats.Errors.Add(1)
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}
