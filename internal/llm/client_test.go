package llm

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EstifanosTeklay/automaton-auditor/internal/llm/configuration"
	llmerrors "github.com/EstifanosTeklay/automaton-auditor/internal/llm/errors"
	"github.com/EstifanosTeklay/automaton-auditor/internal/llm/transport"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memStore) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := redis.NewStringCmd(ctx, "get", key)
	if v, ok := m.data[key]; ok {
		cmd.SetVal(v)
	} else {
		cmd.SetErr(redis.Nil)
	}
	return cmd
}

func (m *memStore) Set(ctx context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := value.([]byte); ok {
		m.data[key] = string(b)
	}
	cmd := redis.NewStatusCmd(ctx, "set", key)
	cmd.SetVal("OK")
	return cmd
}

func testConfig(endpoint string) *configuration.Config {
	cfg := configuration.DefaultConfig()
	cfg.Anthropic.Endpoint = endpoint
	cfg.Anthropic.APIKey = "test-key"
	cfg.Retry.InitialInterval = time.Millisecond
	cfg.Retry.MaxInterval = 2 * time.Millisecond
	cfg.RateLimit.Local.TokensPerSecond = 1000
	cfg.RateLimit.Local.BurstSize = 100
	return cfg
}

const okBody = `{"model":"claude-opus-4-6","stop_reason":"end_turn","content":[{"type":"text","text":"{\"found\":true}"}],"usage":{"input_tokens":3,"output_tokens":4}}`

func TestClient_RetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(529)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`))
			return
		}
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	var logs bytes.Buffer
	c, err := New(context.Background(), testConfig(srv.URL),
		WithHTTPClient(srv.Client()),
		WithLogger(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))))
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), &transport.Request{SystemPrompt: "sys", Prompt: "secret prompt"})
	require.NoError(t, err)
	assert.Equal(t, `{"found":true}`, resp.Content)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int64(2), c.Stats().Retry.Attempts.Load())
	assert.Equal(t, int64(1), c.Stats().Retry.SuccessfulRetries.Load())

	assert.Contains(t, logs.String(), "llm request completed")
	assert.Contains(t, logs.String(), "prompt_length=13")
	assert.NotContains(t, logs.String(), "secret prompt")
}

func TestClient_PermanentErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"bad key"}}`))
	}))
	defer srv.Close()

	c, err := New(context.Background(), testConfig(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), &transport.Request{Prompt: "x"})
	var pe *llmerrors.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, llmerrors.ErrorTypeAuth, pe.Type)
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_CachedResponsesSkipProvider(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	c, err := New(context.Background(), testConfig(srv.URL),
		WithHTTPClient(srv.Client()),
		WithCacheStore(&memStore{data: map[string]string{}}))
	require.NoError(t, err)

	for range 3 {
		_, err := c.Complete(context.Background(), &transport.Request{Prompt: "same"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, int64(2), c.Stats().Cache.Hits.Load())
}

func TestClient_AppliesDefaults(t *testing.T) {
	var seen transport.Request
	c := &Client{
		config: configuration.DefaultConfig(),
		handler: transport.HandlerFunc(func(_ context.Context, req *transport.Request) (*transport.Response, error) {
			seen = *req
			return &transport.Response{}, nil
		}),
		stats: &Stats{},
	}
	_, err := c.Complete(context.Background(), &transport.Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, configuration.DefaultProvider, seen.Provider)
	assert.Equal(t, configuration.DefaultModel, seen.Model)
	assert.Equal(t, int64(configuration.DefaultMaxTokens), seen.MaxTokens)

	_, err = c.Complete(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilRequest)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := configuration.DefaultConfig()
	cfg.Model = ""
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)

	cfg = configuration.DefaultConfig()
	cfg.Provider = "openai"
	_, err = New(context.Background(), cfg)
	assert.Error(t, err)
}
