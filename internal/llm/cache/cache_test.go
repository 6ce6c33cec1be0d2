package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EstifanosTeklay/automaton-auditor/internal/llm/configuration"
	"github.com/EstifanosTeklay/automaton-auditor/internal/llm/transport"
)

var errRedisDown = errors.New("redis down")

// mockRedisClient simulates GET and SET with optional injected failures.
type mockRedisClient struct {
	mu      sync.Mutex
	data    map[string][]byte
	ttls    map[string]time.Duration
	getErr  error
	setErr  error
	setKeys []string
}

func newMockRedisClient() *mockRedisClient {
	return &mockRedisClient{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *mockRedisClient) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := redis.NewStringCmd(ctx, "get", key)
	if m.getErr != nil {
		cmd.SetErr(m.getErr)
		return cmd
	}
	if data, ok := m.data[key]; ok {
		cmd.SetVal(string(data))
	} else {
		cmd.SetErr(redis.Nil)
	}
	return cmd
}

func (m *mockRedisClient) Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := redis.NewStatusCmd(ctx, "set", key, value)
	if m.setErr != nil {
		cmd.SetErr(m.setErr)
		return cmd
	}
	switch v := value.(type) {
	case []byte:
		m.data[key] = v
	case string:
		m.data[key] = []byte(v)
	}
	m.ttls[key] = ttl
	m.setKeys = append(m.setKeys, key)
	cmd.SetVal("OK")
	return cmd
}

func countingHandler(calls *int) transport.Handler {
	return transport.HandlerFunc(func(_ context.Context, req *transport.Request) (*transport.Response, error) {
		*calls++
		return &transport.Response{Content: "answer to " + req.Prompt, Model: req.Model}, nil
	})
}

func TestCache_MissThenHit(t *testing.T) {
	store := newMockRedisClient()
	stats := &Stats{}
	calls := 0
	h := NewWithStore(store, time.Hour, stats)(countingHandler(&calls))

	req := &transport.Request{Provider: "anthropic", Model: "m", Prompt: "q"}
	first, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := h.Handle(context.Background(), &transport.Request{Provider: "anthropic", Model: "m", Prompt: "  q "})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Content, second.Content)

	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(1), stats.Hits.Load())
	assert.Equal(t, int64(1), stats.Misses.Load())
	assert.InDelta(t, 0.5, stats.HitRate(), 1e-9)
	require.Len(t, store.setKeys, 1)
	assert.Equal(t, time.Hour, store.ttls[store.setKeys[0]])
}

func TestCache_DifferentPromptsMiss(t *testing.T) {
	calls := 0
	h := NewWithStore(newMockRedisClient(), 0, nil)(countingHandler(&calls))
	for _, p := range []string{"a", "b"} {
		_, err := h.Handle(context.Background(), &transport.Request{Model: "m", Prompt: p})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
}

func TestCache_RedisFailuresPassThrough(t *testing.T) {
	store := newMockRedisClient()
	store.getErr = errRedisDown
	store.setErr = errRedisDown
	stats := &Stats{}
	calls := 0
	h := NewWithStore(store, time.Minute, stats)(countingHandler(&calls))

	resp, err := h.Handle(context.Background(), &transport.Request{Model: "m", Prompt: "q"})
	require.NoError(t, err)
	assert.Equal(t, "answer to q", resp.Content)
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(2), stats.Errors.Load())
}

func TestCache_CorruptEntryIsIgnored(t *testing.T) {
	store := newMockRedisClient()
	req := &transport.Request{Model: "m", Prompt: "q"}
	store.data[transport.CacheKey(req)] = []byte("{not json")

	stats := &Stats{}
	calls := 0
	h := NewWithStore(store, time.Minute, stats)(countingHandler(&calls))
	_, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(1), stats.Errors.Load())
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	store := newMockRedisClient()
	fail := transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		return nil, errRedisDown
	})
	_, err := NewWithStore(store, time.Minute, nil)(fail).Handle(context.Background(), &transport.Request{Prompt: "q"})
	assert.ErrorIs(t, err, errRedisDown)
	assert.Empty(t, store.setKeys)
}

func TestNew_DisabledIsPassthrough(t *testing.T) {
	calls := 0
	h := New(context.Background(), configuration.CacheConfig{}, nil)(countingHandler(&calls))
	for range 2 {
		_, err := h.Handle(context.Background(), &transport.Request{Prompt: "q"})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
}
