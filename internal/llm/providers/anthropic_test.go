package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EstifanosTeklay/automaton-auditor/internal/llm/configuration"
	llmerrors "github.com/EstifanosTeklay/automaton-auditor/internal/llm/errors"
	"github.com/EstifanosTeklay/automaton-auditor/internal/llm/transport"
)

func TestAnthropicAdapter_RoundTrip(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "yes", r.Header.Get("X-Extra"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("request-id", "req_123")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"model": "claude-test",
			"stop_reason": "end_turn",
			"content": [{"type":"text","text":"hello "},{"type":"tool_use"},{"type":"text","text":"world"}],
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	adapter := NewAnthropicAdapter(configuration.ProviderConfig{
		Endpoint: srv.URL + "/v1/",
		APIKey:   "test-key",
		Headers:  map[string]string{"X-Extra": "yes"},
	})
	h := transport.NewHTTPHandler(srv.Client(), adapter)

	resp, err := h.Handle(context.Background(), &transport.Request{
		Model:        "claude-test",
		SystemPrompt: "be terse",
		Prompt:       "say hello",
		MaxTokens:    64,
		Timeout:      5 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, "hello world", resp.Content)
	assert.Equal(t, "end_turn", resp.FinishReason)
	assert.Equal(t, []string{"req_123"}, resp.ProviderRequestIDs)
	assert.Equal(t, int64(15), resp.Usage.TotalTokens)

	assert.Equal(t, "claude-test", got["model"])
	assert.Equal(t, "be terse", got["system"])
	assert.EqualValues(t, 64, got["max_tokens"])
	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
}

func TestAnthropicAdapter_MissingKey(t *testing.T) {
	adapter := NewAnthropicAdapter(configuration.ProviderConfig{})
	_, err := adapter.Build(context.Background(), &transport.Request{Prompt: "x"})
	assert.ErrorIs(t, err, llmerrors.ErrMissingAPIKey)
}

func TestAnthropicAdapter_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		retryAfter string
		wantType   llmerrors.ErrorType
		retryable  bool
		wantAfter  time.Duration
	}{
		{
			name:       "rate limit with retry-after",
			status:     http.StatusTooManyRequests,
			body:       `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`,
			retryAfter: "7",
			wantType:   llmerrors.ErrorTypeRateLimit,
			retryable:  true,
			wantAfter:  7 * time.Second,
		},
		{
			name:      "overloaded",
			status:    529,
			body:      `{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`,
			wantType:  llmerrors.ErrorTypeProvider,
			retryable: true,
		},
		{
			name:     "bad key",
			status:   http.StatusUnauthorized,
			body:     `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`,
			wantType: llmerrors.ErrorTypeAuth,
		},
		{
			name:     "invalid request",
			status:   http.StatusBadRequest,
			body:     `{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens too large"}}`,
			wantType: llmerrors.ErrorTypeValidation,
		},
		{
			name:      "plain gateway error",
			status:    http.StatusBadGateway,
			body:      `<html>bad gateway</html>`,
			wantType:  llmerrors.ErrorTypeProvider,
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			h := transport.NewHTTPHandler(srv.Client(),
				NewAnthropicAdapter(configuration.ProviderConfig{Endpoint: srv.URL, APIKey: "k"}))
			_, err := h.Handle(context.Background(), &transport.Request{Prompt: "x", MaxTokens: 1})
			require.Error(t, err)

			var pe *llmerrors.ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.status, pe.StatusCode)
			assert.Equal(t, tt.wantType, pe.Type)
			assert.Equal(t, tt.retryable, llmerrors.IsRetryable(err))
			assert.Equal(t, tt.wantAfter, pe.GetRetryAfter())
		})
	}
}

func TestAnthropicAdapter_InvalidBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	h := transport.NewHTTPHandler(srv.Client(),
		NewAnthropicAdapter(configuration.ProviderConfig{Endpoint: srv.URL, APIKey: "k"}))
	_, err := h.Handle(context.Background(), &transport.Request{Prompt: "x"})
	assert.ErrorIs(t, err, llmerrors.ErrInvalidResponse)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New("openai", configuration.ProviderConfig{})
	assert.ErrorIs(t, err, llmerrors.ErrUnknownProvider)

	a, err := New(ProviderAnthropic, configuration.ProviderConfig{})
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, a.Name())
	assert.False(t, strings.HasSuffix(a.(*AnthropicAdapter).config.Endpoint, "/"))
}
