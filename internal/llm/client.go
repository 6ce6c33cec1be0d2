// Package llm is the language-model collaborator used by the analyzers. A
// Client sends completion requests to the configured provider through a
// middleware pipeline of logging, response caching, retry with backoff and
// rate limiting.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/EstifanosTeklay/automaton-auditor/internal/llm/cache"
	"github.com/EstifanosTeklay/automaton-auditor/internal/llm/configuration"
	"github.com/EstifanosTeklay/automaton-auditor/internal/llm/providers"
	"github.com/EstifanosTeklay/automaton-auditor/internal/llm/ratelimit"
	"github.com/EstifanosTeklay/automaton-auditor/internal/llm/retry"
	"github.com/EstifanosTeklay/automaton-auditor/internal/llm/transport"
)

// ErrNilRequest is returned by Complete for a nil request.
var ErrNilRequest = errors.New("nil completion request")

// Completer is implemented by anything that can answer a completion request.
type Completer interface {
	Complete(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// Stats aggregates the counters of the middleware layers.
type Stats struct {
	Retry     retry.Stats
	Cache     cache.Stats
	RateLimit ratelimit.Stats
}

// Client is a configured completion client. It is safe for concurrent use.
type Client struct {
	config  *configuration.Config
	handler transport.Handler
	stats   *Stats
}

// Option customizes client construction.
type Option func(*options)

type options struct {
	httpClient *http.Client
	logger     *slog.Logger
	cacheStore cache.Store
	counter    ratelimit.Counter
}

// WithHTTPClient overrides the HTTP client used for provider calls.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// WithLogger sets the logger of the request logging middleware.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithCacheStore caches responses in store instead of dialing Redis.
func WithCacheStore(store cache.Store) Option { return func(o *options) { o.cacheStore = store } }

// WithRateCounter backs the global limiter with counter instead of dialing Redis.
func WithRateCounter(counter ratelimit.Counter) Option {
	return func(o *options) { o.counter = counter }
}

// New validates cfg and builds the middleware pipeline. A nil cfg uses
// configuration.DefaultConfig.
func New(ctx context.Context, cfg *configuration.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = configuration.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	adapter, err := providers.New(cfg.Provider, cfg.Anthropic)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize provider: %w", err)
	}
	stats := &Stats{}

	// Attempt level: every retry attempt takes a rate-limit token.
	var rl transport.Middleware
	if o.counter != nil {
		rl, err = ratelimit.NewWithCounter(cfg.RateLimit, o.counter, &stats.RateLimit)
	} else {
		rl, err = ratelimit.New(ctx, cfg.RateLimit, &stats.RateLimit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}
	attempt := transport.Chain(transport.NewHTTPHandler(o.httpClient, adapter), rl)

	retryMiddleware, err := retry.New(cfg.Retry, &stats.Retry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize retry middleware: %w", err)
	}

	// Call level: one log line and one cache lookup per logical request.
	var cacheMiddleware transport.Middleware
	if o.cacheStore != nil {
		cacheMiddleware = cache.NewWithStore(o.cacheStore, cfg.Cache.TTL, &stats.Cache)
	} else {
		cacheMiddleware = cache.New(ctx, cfg.Cache, &stats.Cache)
	}

	handler := transport.Chain(attempt,
		NewLoggingMiddleware(o.logger, cfg.RedactPrompts),
		cacheMiddleware,
		retryMiddleware,
	)

	return &Client{config: cfg, handler: handler, stats: stats}, nil
}

// Complete sends req through the pipeline. Provider, model and token limit
// default to the client configuration.
func (c *Client) Complete(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	r := *req
	if r.Provider == "" {
		r.Provider = c.config.Provider
	}
	if r.Model == "" {
		r.Model = c.config.Model
	}
	if r.MaxTokens <= 0 {
		r.MaxTokens = c.config.MaxTokens
	}
	return c.handler.Handle(ctx, &r)
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.config.Model }

// Stats returns live middleware counters.
func (c *Client) Stats() *Stats { return c.stats }
