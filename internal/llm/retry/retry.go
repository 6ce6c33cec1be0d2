// Package retry provides retry middleware with exponential backoff and full
// jitter for the language-model client.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/EstifanosTeklay/automaton-auditor/internal/llm/configuration"
	llmerrors "github.com/EstifanosTeklay/automaton-auditor/internal/llm/errors"
	"github.com/EstifanosTeklay/automaton-auditor/internal/llm/transport"
)

var (
	errMaxAttemptsInvalid     = errors.New("maxAttempts must be greater than 0")
	errInitialIntervalInvalid = errors.New("initialInterval must be greater than 0")
	errMaxIntervalInvalid     = errors.New("maxInterval must be >= initialInterval")
	errMultiplierInvalid      = errors.New("multiplier must be >= 1.0")
)

// Stats counts retry outcomes.
type Stats struct {
	Attempts          atomic.Int64
	SuccessfulRetries atomic.Int64
	Exhausted         atomic.Int64
}

type retryMiddleware struct {
	config configuration.RetryConfig
	logger *slog.Logger
	stats  *Stats
}

// New creates retry middleware. stats may be nil.
func New(cfg configuration.RetryConfig, stats *Stats) (transport.Middleware, error) {
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("%w, got %d", errMaxAttemptsInvalid, cfg.MaxAttempts)
	}
	if cfg.InitialInterval <= 0 {
		return nil, fmt.Errorf("%w, got %v", errInitialIntervalInvalid, cfg.InitialInterval)
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		return nil, fmt.Errorf("%w, MaxInterval: %v, InitialInterval: %v", errMaxIntervalInvalid, cfg.MaxInterval, cfg.InitialInterval)
	}
	if cfg.Multiplier < 1.0 {
		return nil, fmt.Errorf("%w, got %f", errMultiplierInvalid, cfg.Multiplier)
	}
	if stats == nil {
		stats = &Stats{}
	}
	r := &retryMiddleware{
		config: cfg,
		logger: slog.Default().With("component", "retry"),
		stats:  stats,
	}
	return r.middleware, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *retryMiddleware) middleware(next transport.Handler) transport.Handler {
	return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		start := time.Now()
		var lastErr error

		for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			resp, err := next.Handle(ctx, req)
			r.stats.Attempts.Add(1)
			if err == nil {
				if attempt > 1 {
					r.stats.SuccessfulRetries.Add(1)
					r.logger.Info("request succeeded after retry", "attempt", attempt, "model", req.Model)
				}
				return resp, nil
			}
			if !llmerrors.IsRetryable(err) {
				return nil, err
			}
			lastErr = err
			if attempt == r.config.MaxAttempts {
				break
			}

			backoff := r.backoff(attempt, err)
			if r.config.MaxElapsedTime > 0 && time.Since(start)+backoff > r.config.MaxElapsedTime {
				r.logger.Warn("max elapsed time exceeded", "elapsed", time.Since(start), "attempts", attempt, "last_error", err)
				break
			}

			r.logger.Debug("retrying after backoff", "attempt", attempt, "backoff", backoff, "error", err)
			if err := sleepCtx(ctx, backoff); err != nil {
				return nil, fmt.Errorf("context cancelled during retry: %w", err)
			}
		}

		r.stats.Exhausted.Add(1)
		return nil, fmt.Errorf("%w: %w", llmerrors.ErrMaxRetriesExceeded, lastErr)
	})
}

// backoff prefers a provider-specified Retry-After, capped at MaxInterval.
func (r *retryMiddleware) backoff(attempt int, err error) time.Duration {
	var rap llmerrors.RetryAfterProvider
	if errors.As(err, &rap) {
		if d := rap.GetRetryAfter(); d > 0 {
			return min(d, r.config.MaxInterval)
		}
	}
	return ExponentialBackoff(attempt, r.config)
}

// ExponentialBackoff calculates retry delays using exponential backoff with
// optional full jitter. Returns zero for non-positive attempt numbers.
func ExponentialBackoff(attempt int, config configuration.RetryConfig) time.Duration {
	if attempt <= 0 {
		return 0
	}

	backoff := config.InitialInterval
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * config.Multiplier)
		if backoff > config.MaxInterval {
			backoff = config.MaxInterval
			break
		}
	}

	if config.UseJitter {
		jitterMs := rand.Int64N(backoff.Milliseconds() + 1) // #nosec G404 -- non-cryptographic jitter is appropriate here
		return time.Duration(jitterMs) * time.Millisecond
	}
	return backoff
}
