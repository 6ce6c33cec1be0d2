// Package ratelimit provides dual-layer rate limiting middleware for the
// language-model client: an in-process token bucket per provider and model,
// and an optional Redis fixed window shared by every process that talks to
// the same provider account.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/EstifanosTeklay/automaton-auditor/internal/llm/configuration"
	llmerrors "github.com/EstifanosTeklay/automaton-auditor/internal/llm/errors"
	"github.com/EstifanosTeklay/automaton-auditor/internal/llm/transport"
)

const (
	// globalWindow is the fixed window of the shared limiter.
	globalWindow = time.Second

	connectTimeout = 5 * time.Second
	redisPoolSize  = 10
)

// Counter is the subset of the Redis API used by the global limiter.
// *redis.Client satisfies it.
type Counter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	PExpire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
}

// Stats counts limiter decisions.
type Stats struct {
	Allowed        atomic.Int64
	LocalRejected  atomic.Int64
	GlobalRejected atomic.Int64
	Degraded       atomic.Bool
}

type limiter struct {
	cfg    configuration.RateLimitConfig
	global Counter
	stats  *Stats
	logger *slog.Logger

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

// New builds rate limiting middleware from cfg, dialing Redis when the global
// layer is enabled. A failed ping leaves the limiter in local-only mode.
func New(ctx context.Context, cfg configuration.RateLimitConfig, stats *Stats) (transport.Middleware, error) {
	var counter Counter
	if cfg.Global.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Global.RedisAddr,
			Password: cfg.Global.RedisPassword,
			DB:       cfg.Global.RedisDB,
			PoolSize: redisPoolSize,
		})
		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			slog.Warn("Redis connection failed, using local-only rate limiting", "error", err)
			_ = client.Close()
		} else {
			counter = client
		}
	}
	return NewWithCounter(cfg, counter, stats)
}

// NewWithCounter builds the middleware around an existing counter. A nil
// counter disables the global layer.
func NewWithCounter(cfg configuration.RateLimitConfig, counter Counter, stats *Stats) (transport.Middleware, error) {
	if cfg.Local.Enabled && (cfg.Local.TokensPerSecond <= 0 || cfg.Local.BurstSize < 1) {
		return nil, fmt.Errorf("local rate limit needs positive rate and burst, got %v/%d",
			cfg.Local.TokensPerSecond, cfg.Local.BurstSize)
	}
	if cfg.Global.Enabled && cfg.Global.RequestsPerSecond < 1 {
		return nil, fmt.Errorf("global rate limit needs positive requests_per_second, got %d",
			cfg.Global.RequestsPerSecond)
	}
	if stats == nil {
		stats = &Stats{}
	}
	l := &limiter{
		cfg:    cfg,
		stats:  stats,
		local:  make(map[string]*rate.Limiter),
		logger: slog.Default().With("component", "ratelimit"),
	}
	if cfg.Global.Enabled {
		l.global = counter
		if counter == nil {
			stats.Degraded.Store(true)
		}
	}
	return l.middleware, nil
}

func (l *limiter) middleware(next transport.Handler) transport.Handler {
	return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		key := req.Provider + ":" + req.Model

		if l.cfg.Local.Enabled {
			if err := l.checkLocal(key, req.Provider); err != nil {
				l.stats.LocalRejected.Add(1)
				return nil, err
			}
		}

		if l.global != nil && !l.stats.Degraded.Load() {
			if err := l.checkGlobal(ctx, key, req.Provider); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil, err
				}
				if isRedisError(err) {
					l.logger.Warn("Redis error, switching to local-only rate limiting", "error", err)
					l.stats.Degraded.Store(true)
				} else {
					l.stats.GlobalRejected.Add(1)
					return nil, err
				}
			}
		}

		l.stats.Allowed.Add(1)
		return next.Handle(ctx, req)
	})
}

func (l *limiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.local[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.cfg.Local.TokensPerSecond), l.cfg.Local.BurstSize)
		l.local[key] = lim
	}
	return lim
}

// checkLocal takes a token or reports how long until one is available.
func (l *limiter) checkLocal(key, provider string) error {
	lim := l.limiterFor(key)
	if lim.Allow() {
		return nil
	}

	// Reserve only to learn the delay; the token is handed back.
	res := lim.Reserve()
	delay := res.Delay()
	res.Cancel()

	return &llmerrors.RateLimitError{
		Provider:   provider,
		Limit:      l.cfg.Local.BurstSize,
		RetryAfter: delay,
		LocalLimit: true,
	}
}

// checkGlobal counts the request in the current one-second window.
func (l *limiter) checkGlobal(ctx context.Context, key, provider string) error {
	globalKey := "rl:global:" + key
	count, err := l.global.Incr(ctx, globalKey).Result()
	if err != nil {
		return fmt.Errorf("global rate limit check failed: %w", err)
	}
	if count == 1 {
		if err := l.global.PExpire(ctx, globalKey, globalWindow).Err(); err != nil {
			return fmt.Errorf("global rate limit expire failed: %w", err)
		}
	}
	if count <= int64(l.cfg.Global.RequestsPerSecond) {
		return nil
	}

	retryAfter := globalWindow
	if ttl, err := l.global.PTTL(ctx, globalKey).Result(); err == nil && ttl > 0 {
		retryAfter = ttl
	}
	return &llmerrors.RateLimitError{
		Provider:   provider,
		Limit:      l.cfg.Global.RequestsPerSecond,
		RetryAfter: retryAfter,
	}
}

// isRedisError distinguishes infrastructure failures from limit decisions.
// Caller cancellation is neither.
func isRedisError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var rle *llmerrors.RateLimitError
	if errors.As(err, &rle) {
		return false
	}
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, net.ErrClosed) || errors.Is(err, redis.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
