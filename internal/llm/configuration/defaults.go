package configuration

import "time"

// Provider constants.
const (
	DefaultProvider          = "anthropic"
	DefaultModel             = "claude-opus-4-6"
	DefaultAnthropicEndpoint = "https://api.anthropic.com/v1"
	DefaultMaxTokens         = 600
	DefaultHTTPTimeout       = 30 * time.Second
)

// Retry constants.
const (
	DefaultMaxAttempts       = 3
	DefaultMaxElapsedTime    = 45 * time.Second
	DefaultInitialInterval   = 250 * time.Millisecond
	DefaultMaxInterval       = 5 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// Rate limiting constants.
const (
	DefaultTokensPerSecond = 2
	DefaultBurstSize       = 4
)

// Cache constants.
const (
	DefaultCacheTTL = 24 * time.Hour
)

// DefaultConfig returns a configuration with the local limiter enabled and the
// Redis-backed layers disabled.
func DefaultConfig() *Config {
	return &Config{
		Provider:    DefaultProvider,
		Model:       DefaultModel,
		MaxTokens:   DefaultMaxTokens,
		HTTPTimeout: DefaultHTTPTimeout,
		Anthropic: ProviderConfig{
			Endpoint: DefaultAnthropicEndpoint,
		},
		Retry: RetryConfig{
			MaxAttempts:     DefaultMaxAttempts,
			MaxElapsedTime:  DefaultMaxElapsedTime,
			InitialInterval: DefaultInitialInterval,
			MaxInterval:     DefaultMaxInterval,
			Multiplier:      DefaultBackoffMultiplier,
			UseJitter:       true,
		},
		RateLimit: RateLimitConfig{
			Local: LocalRateLimitConfig{
				Enabled:         true,
				TokensPerSecond: DefaultTokensPerSecond,
				BurstSize:       DefaultBurstSize,
			},
		},
		Cache: CacheConfig{
			TTL: DefaultCacheTTL,
		},
		RedactPrompts: true,
	}
}
