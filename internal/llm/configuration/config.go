// Package configuration holds the settings of the language-model client and
// its resilience middleware.
package configuration

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config holds configuration for the LLM client.
type Config struct {
	// Provider selects the adapter. Only "anthropic" is supported.
	Provider string `json:"provider" validate:"required,oneof=anthropic"`

	// Model is the model identifier sent with every request.
	Model string `json:"model" validate:"required"`

	// MaxTokens bounds each completion.
	MaxTokens int64 `json:"max_tokens" validate:"min=1"`

	// HTTPTimeout bounds a single HTTP round trip.
	HTTPTimeout time.Duration `json:"http_timeout" validate:"min=0"`

	Anthropic ProviderConfig  `json:"anthropic"`
	Retry     RetryConfig     `json:"retry"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Cache     CacheConfig     `json:"cache"`

	// RedactPrompts keeps prompt text out of request logs.
	RedactPrompts bool `json:"redact_prompts"`
}

// ProviderConfig holds provider endpoint and credentials.
type ProviderConfig struct {
	Endpoint string            `json:"endpoint" validate:"omitempty,url"`
	APIKey   string            `json:"-"` // Sensitive, not serialized
	Headers  map[string]string `json:"headers,omitempty"`
}

// RetryConfig controls retry behavior for failed requests.
type RetryConfig struct {
	MaxAttempts     int           `json:"max_attempts" validate:"min=1"`
	MaxElapsedTime  time.Duration `json:"max_elapsed_time" validate:"min=0"`
	InitialInterval time.Duration `json:"initial_interval" validate:"gt=0"`
	MaxInterval     time.Duration `json:"max_interval" validate:"gtefield=InitialInterval"`
	Multiplier      float64       `json:"multiplier" validate:"min=1"`
	UseJitter       bool          `json:"use_jitter"`
}

// RateLimitConfig combines an in-process token bucket with an optional
// Redis fixed-window limiter shared between processes.
type RateLimitConfig struct {
	Local  LocalRateLimitConfig  `json:"local"`
	Global GlobalRateLimitConfig `json:"global"`
}

// LocalRateLimitConfig for in-memory token buckets.
type LocalRateLimitConfig struct {
	Enabled         bool    `json:"enabled"`
	TokensPerSecond float64 `json:"tokens_per_second" validate:"gte=0"`
	BurstSize       int     `json:"burst_size" validate:"gte=0"`
}

// GlobalRateLimitConfig for Redis-based fixed window rate limiting.
type GlobalRateLimitConfig struct {
	Enabled           bool   `json:"enabled"`
	RequestsPerSecond int    `json:"requests_per_second" validate:"gte=0"`
	RedisAddr         string `json:"redis_addr"`
	RedisPassword     string `json:"-"`
	RedisDB           int    `json:"redis_db" validate:"min=0"`
}

// CacheConfig controls Redis-based response caching.
type CacheConfig struct {
	Enabled       bool          `json:"enabled"`
	TTL           time.Duration `json:"ttl" validate:"min=0"`
	RedisAddr     string        `json:"redis_addr"`
	RedisPassword string        `json:"-"` // Sensitive field excluded from JSON.
	RedisDB       int           `json:"redis_db" validate:"min=0"`
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid llm configuration: %w", err)
	}
	if l := c.RateLimit.Local; l.Enabled && (l.TokensPerSecond <= 0 || l.BurstSize < 1) {
		return fmt.Errorf("invalid llm configuration: local rate limit needs positive rate and burst, got %v/%d",
			l.TokensPerSecond, l.BurstSize)
	}
	if g := c.RateLimit.Global; g.Enabled && g.RequestsPerSecond < 1 {
		return fmt.Errorf("invalid llm configuration: global rate limit needs positive requests_per_second, got %d",
			g.RequestsPerSecond)
	}
	return nil
}
