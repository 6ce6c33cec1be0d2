// Package transport defines the normalized request and response of the
// language-model client and the middleware pipeline that carries them.
package transport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Request is a normalized completion request.
type Request struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Prompt       string  `json:"prompt"`
	MaxTokens    int64   `json:"max_tokens"`
	Temperature  float64 `json:"temperature"`

	// Control fields for resilience and observability.
	Timeout  time.Duration     `json:"-"`
	TraceID  string            `json:"-"`
	Metadata map[string]string `json:"-"`
}

// Response is normalized provider output.
type Response struct {
	Content            string          `json:"content"`
	FinishReason       string          `json:"finish_reason"`
	Model              string          `json:"model"`
	ProviderRequestIDs []string        `json:"provider_request_ids"`
	Usage              NormalizedUsage `json:"usage"`
	Cached             bool            `json:"-"`
}

// NormalizedUsage provides consistent usage metrics across providers.
type NormalizedUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	LatencyMs        int64 `json:"latency_ms"`
}

// Handler processes requests through a composable middleware pipeline.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, *Request) (*Response, error)

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Middleware transforms a Handler into an enhanced Handler.
type Middleware func(Handler) Handler

// Chain builds a middleware pipeline around a core handler. The first
// middleware is outermost.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// ProviderAdapter abstracts provider-specific HTTP communication.
type ProviderAdapter interface {
	Build(ctx context.Context, req *Request) (*http.Request, error)
	Parse(httpResp *http.Response) (*Response, error)
	Name() string
}

// NewHTTPHandler creates the core handler that performs the HTTP exchange.
func NewHTTPHandler(client *http.Client, adapter ProviderAdapter) Handler {
	return &httpHandler{client: client, adapter: adapter}
}

type httpHandler struct {
	client  *http.Client
	adapter ProviderAdapter
}

func (h *httpHandler) Handle(ctx context.Context, req *Request) (*Response, error) {
	reqCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := h.adapter.Build(reqCtx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	start := time.Now()
	httpResp, err := h.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	resp, err := h.adapter.Parse(httpResp)
	if err != nil {
		return nil, err
	}
	resp.Usage.LatencyMs = latency.Milliseconds()
	return resp, nil
}

// CacheKey derives a deterministic key from the fields that determine a
// completion. Whitespace differences in prompts do not change the key.
func CacheKey(req *Request) string {
	payload := struct {
		Provider    string  `json:"provider"`
		Model       string  `json:"model"`
		System      string  `json:"system"`
		Prompt      string  `json:"prompt"`
		MaxTokens   int64   `json:"max_tokens"`
		Temperature float64 `json:"temperature"`
	}{
		Provider:    strings.ToLower(strings.TrimSpace(req.Provider)),
		Model:       strings.TrimSpace(req.Model),
		System:      normalizeText(req.SystemPrompt),
		Prompt:      normalizeText(req.Prompt),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return "llm:" + payload.Provider + ":" + hex.EncodeToString(sum[:])
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
