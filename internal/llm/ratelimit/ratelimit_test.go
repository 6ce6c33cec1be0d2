package ratelimit

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EstifanosTeklay/automaton-auditor/internal/llm/configuration"
	llmerrors "github.com/EstifanosTeklay/automaton-auditor/internal/llm/errors"
	"github.com/EstifanosTeklay/automaton-auditor/internal/llm/transport"
)

// mockCounter simulates the Redis commands of the fixed-window limiter.
type mockCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	ttls   map[string]time.Duration
	err    error
}

func newMockCounter() *mockCounter {
	return &mockCounter{counts: map[string]int64{}, ttls: map[string]time.Duration{}}
}

func (m *mockCounter) Incr(ctx context.Context, key string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := redis.NewIntCmd(ctx, "incr", key)
	if m.err != nil {
		cmd.SetErr(m.err)
		return cmd
	}
	m.counts[key]++
	cmd.SetVal(m.counts[key])
	return cmd
}

func (m *mockCounter) PExpire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := redis.NewBoolCmd(ctx, "pexpire", key, expiration.Milliseconds())
	m.ttls[key] = expiration
	cmd.SetVal(true)
	return cmd
}

func (m *mockCounter) PTTL(ctx context.Context, key string) *redis.DurationCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := redis.NewDurationCmd(ctx, time.Millisecond, "pttl", key)
	cmd.SetVal(m.ttls[key] / 2)
	return cmd
}

func okHandler(calls *int) transport.Handler {
	return transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		*calls++
		return &transport.Response{}, nil
	})
}

func localConfig(rps float64, burst int) configuration.RateLimitConfig {
	return configuration.RateLimitConfig{
		Local: configuration.LocalRateLimitConfig{Enabled: true, TokensPerSecond: rps, BurstSize: burst},
	}
}

func TestLocalLimit_RejectsAfterBurst(t *testing.T) {
	stats := &Stats{}
	mw, err := NewWithCounter(localConfig(0.5, 2), nil, stats)
	require.NoError(t, err)

	calls := 0
	h := mw(okHandler(&calls))
	req := &transport.Request{Provider: "anthropic", Model: "m"}

	for range 2 {
		_, err := h.Handle(context.Background(), req)
		require.NoError(t, err)
	}
	_, err = h.Handle(context.Background(), req)
	require.Error(t, err)

	var rle *llmerrors.RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.True(t, rle.LocalLimit)
	assert.Equal(t, 2, rle.Limit)
	assert.Greater(t, rle.RetryAfter, time.Duration(0))
	assert.ErrorIs(t, err, llmerrors.ErrRateLimitExceeded)
	assert.True(t, llmerrors.IsRetryable(err))

	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(2), stats.Allowed.Load())
	assert.Equal(t, int64(1), stats.LocalRejected.Load())
}

func TestLocalLimit_KeyedByModel(t *testing.T) {
	mw, err := NewWithCounter(localConfig(0.1, 1), nil, nil)
	require.NoError(t, err)

	calls := 0
	h := mw(okHandler(&calls))
	_, err = h.Handle(context.Background(), &transport.Request{Provider: "anthropic", Model: "a"})
	require.NoError(t, err)
	_, err = h.Handle(context.Background(), &transport.Request{Provider: "anthropic", Model: "b"})
	require.NoError(t, err)
	_, err = h.Handle(context.Background(), &transport.Request{Provider: "anthropic", Model: "a"})
	assert.ErrorIs(t, err, llmerrors.ErrRateLimitExceeded)
}

func TestGlobalLimit_FixedWindow(t *testing.T) {
	counter := newMockCounter()
	cfg := configuration.RateLimitConfig{
		Global: configuration.GlobalRateLimitConfig{Enabled: true, RequestsPerSecond: 2},
	}
	stats := &Stats{}
	mw, err := NewWithCounter(cfg, counter, stats)
	require.NoError(t, err)

	calls := 0
	h := mw(okHandler(&calls))
	req := &transport.Request{Provider: "anthropic", Model: "m"}
	for range 2 {
		_, err := h.Handle(context.Background(), req)
		require.NoError(t, err)
	}
	_, err = h.Handle(context.Background(), req)

	var rle *llmerrors.RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.False(t, rle.LocalLimit)
	assert.Equal(t, 500*time.Millisecond, rle.RetryAfter)
	assert.Equal(t, time.Second, counter.ttls["rl:global:anthropic:m"])
	assert.Equal(t, int64(1), stats.GlobalRejected.Load())
	assert.Equal(t, 2, calls)
}

func TestGlobalLimit_DegradesOnRedisError(t *testing.T) {
	counter := newMockCounter()
	counter.err = &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	cfg := configuration.RateLimitConfig{
		Global: configuration.GlobalRateLimitConfig{Enabled: true, RequestsPerSecond: 1},
	}
	stats := &Stats{}
	mw, err := NewWithCounter(cfg, counter, stats)
	require.NoError(t, err)

	calls := 0
	h := mw(okHandler(&calls))
	for range 3 {
		_, err := h.Handle(context.Background(), &transport.Request{Provider: "anthropic", Model: "m"})
		require.NoError(t, err)
	}
	assert.True(t, stats.Degraded.Load())
	assert.Equal(t, 3, calls)
}

func TestNewWithCounter_RejectsBadConfig(t *testing.T) {
	_, err := NewWithCounter(localConfig(0, 1), nil, nil)
	assert.Error(t, err)

	_, err = NewWithCounter(configuration.RateLimitConfig{
		Global: configuration.GlobalRateLimitConfig{Enabled: true},
	}, nil, nil)
	assert.Error(t, err)

	stats := &Stats{}
	_, err = NewWithCounter(configuration.RateLimitConfig{
		Global: configuration.GlobalRateLimitConfig{Enabled: true, RequestsPerSecond: 1},
	}, nil, stats)
	require.NoError(t, err)
	assert.True(t, stats.Degraded.Load(), "no counter means local-only")
}
