// Package config loads process configuration from AUDITOR_* environment
// variables and converts it into the settings of the engine, the aggregator
// and the language-model client.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/EstifanosTeklay/automaton-auditor/internal/aggregation"
	"github.com/EstifanosTeklay/automaton-auditor/internal/engine"
	"github.com/EstifanosTeklay/automaton-auditor/internal/llm/configuration"
	"github.com/EstifanosTeklay/automaton-auditor/internal/logging"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Defaults.
const (
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultNodeTimeout   = 5 * time.Minute
	DefaultDBPath        = "auditor.db"
	DefaultTemporalHost  = "localhost:7233"
	DefaultNamespace     = "default"
	DefaultTaskQueue     = "automaton-auditor"
	DefaultRedisDB       = 0
	DefaultGlobalRPS     = 0
	DefaultActivityRetry = 3
)

// Environment variable names.
const (
	EnvLogLevel      = "AUDITOR_LOG_LEVEL"
	EnvLogFormat     = "AUDITOR_LOG_FORMAT"
	EnvNodeTimeout   = "AUDITOR_NODE_TIMEOUT"
	EnvMaxParallel   = "AUDITOR_MAX_PARALLEL"
	EnvThreshold     = "AUDITOR_PASS_THRESHOLD"
	EnvAbortOnFatal  = "AUDITOR_ABORT_ON_FATAL"
	EnvAllowLocal    = "AUDITOR_ALLOW_LOCAL_REPOS"
	EnvRubric        = "AUDITOR_RUBRIC"
	EnvDBPath        = "AUDITOR_DB_PATH"
	EnvMetricsAddr   = "AUDITOR_METRICS_ADDR"
	EnvAPIKey        = "ANTHROPIC_API_KEY"
	EnvModel         = "CLAUDE_MODEL"
	EnvLLMEndpoint   = "AUDITOR_LLM_ENDPOINT"
	EnvLLMRate       = "AUDITOR_LLM_RPS"
	EnvLLMBurst      = "AUDITOR_LLM_BURST"
	EnvLLMAttempts   = "AUDITOR_LLM_MAX_ATTEMPTS"
	EnvLogPrompts    = "AUDITOR_LOG_PROMPTS"
	EnvRedisAddr     = "AUDITOR_REDIS_ADDR"
	EnvRedisPassword = "AUDITOR_REDIS_PASSWORD"
	EnvRedisDB       = "AUDITOR_REDIS_DB"
	EnvCacheTTL      = "AUDITOR_CACHE_TTL"
	EnvGlobalRPS     = "AUDITOR_GLOBAL_RPS"
	EnvTemporalHost  = "TEMPORAL_HOST"
	EnvNamespace     = "TEMPORAL_NAMESPACE"
	EnvTaskQueue     = "AUDITOR_TASK_QUEUE"
)

// Config is the process configuration.
type Config struct {
	LogLevel  string `validate:"oneof=debug info warn warning error"`
	LogFormat string `validate:"oneof=text json"`

	NodeTimeout  time.Duration `validate:"min=0"`
	MaxParallel  int           `validate:"min=0"`
	Threshold    float64       `validate:"min=0,max=1"`
	AbortOnFatal bool

	// AllowLocalRepos lets the repository locator name a local directory.
	AllowLocalRepos bool

	// RubricPath is empty for the built-in rubric.
	RubricPath  string
	DBPath      string
	MetricsAddr string

	// LLM is the model client configuration. LLMEnabled is false when no API
	// key is set, in which case analyzers assess heuristically.
	LLM        *configuration.Config `validate:"-"`
	LLMEnabled bool

	Temporal TemporalConfig
}

// TemporalConfig locates the Temporal frontend.
type TemporalConfig struct {
	HostPort      string `validate:"required"`
	Namespace     string `validate:"required"`
	TaskQueue     string `validate:"required"`
	ActivityRetry int    `validate:"min=1"`
}

// Default returns the configuration used when no variable is set.
func Default() *Config {
	return &Config{
		LogLevel:    DefaultLogLevel,
		LogFormat:   DefaultLogFormat,
		NodeTimeout: DefaultNodeTimeout,
		Threshold:   aggregation.DefaultThreshold,
		DBPath:      DefaultDBPath,
		LLM:         configuration.DefaultConfig(),
		Temporal: TemporalConfig{
			HostPort:      DefaultTemporalHost,
			Namespace:     DefaultNamespace,
			TaskQueue:     DefaultTaskQueue,
			ActivityRetry: DefaultActivityRetry,
		},
	}
}

// Load reads the process environment.
func Load() (*Config, error) {
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a configuration from lookup, starting from Default. All
// malformed values are reported together.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	p := parser{lookup: lookup}

	p.str(EnvLogLevel, &cfg.LogLevel)
	p.str(EnvLogFormat, &cfg.LogFormat)
	p.duration(EnvNodeTimeout, &cfg.NodeTimeout)
	p.integer(EnvMaxParallel, &cfg.MaxParallel)
	p.float(EnvThreshold, &cfg.Threshold)
	p.boolean(EnvAbortOnFatal, &cfg.AbortOnFatal)
	p.boolean(EnvAllowLocal, &cfg.AllowLocalRepos)
	p.str(EnvRubric, &cfg.RubricPath)
	p.str(EnvDBPath, &cfg.DBPath)
	p.str(EnvMetricsAddr, &cfg.MetricsAddr)

	llm := cfg.LLM
	p.str(EnvAPIKey, &llm.Anthropic.APIKey)
	p.str(EnvModel, &llm.Model)
	p.str(EnvLLMEndpoint, &llm.Anthropic.Endpoint)
	p.float(EnvLLMRate, &llm.RateLimit.Local.TokensPerSecond)
	p.integer(EnvLLMBurst, &llm.RateLimit.Local.BurstSize)
	p.integer(EnvLLMAttempts, &llm.Retry.MaxAttempts)
	logPrompts := false
	p.boolean(EnvLogPrompts, &logPrompts)
	llm.RedactPrompts = !logPrompts
	cfg.LLMEnabled = llm.Anthropic.APIKey != ""

	var redisAddr, redisPassword string
	redisDB, globalRPS := DefaultRedisDB, DefaultGlobalRPS
	p.str(EnvRedisAddr, &redisAddr)
	p.str(EnvRedisPassword, &redisPassword)
	p.integer(EnvRedisDB, &redisDB)
	p.duration(EnvCacheTTL, &llm.Cache.TTL)
	p.integer(EnvGlobalRPS, &globalRPS)
	if redisAddr != "" {
		llm.Cache.Enabled = true
		llm.Cache.RedisAddr, llm.Cache.RedisPassword, llm.Cache.RedisDB = redisAddr, redisPassword, redisDB
		if globalRPS > 0 {
			llm.RateLimit.Global = configuration.GlobalRateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: globalRPS,
				RedisAddr:         redisAddr,
				RedisPassword:     redisPassword,
				RedisDB:           redisDB,
			}
		}
	}

	p.str(EnvTemporalHost, &cfg.Temporal.HostPort)
	p.str(EnvNamespace, &cfg.Temporal.Namespace)
	p.str(EnvTaskQueue, &cfg.Temporal.TaskQueue)

	if err := errors.Join(p.errs...); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration. The model client settings are only
// checked when the client is enabled.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.LLMEnabled {
		if c.LLM == nil {
			return errors.New("invalid configuration: llm enabled without settings")
		}
		if err := c.LLM.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() slog.Level { return logging.ParseLevel(c.LogLevel) }

// Engine returns the executor settings. observer may be nil.
func (c *Config) Engine(observer engine.Observer) engine.Config {
	return engine.Config{
		NodeTimeout:  c.NodeTimeout,
		MaxParallel:  c.MaxParallel,
		AbortOnFatal: c.AbortOnFatal,
		Observer:     observer,
	}
}

// Policy returns the aggregation policy. Sources are filled in by the graph
// builder, which knows the analyzers.
func (c *Config) Policy() aggregation.Policy {
	return aggregation.Policy{Threshold: c.Threshold}
}

type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) get(key string) (string, bool) {
	v, ok := p.lookup(key)
	return v, ok && v != ""
}

func (p *parser) fail(key, v string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%s=%q: %w", key, v, err))
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.get(key); ok {
		*dst = v
	}
}

func (p *parser) integer(key string, dst *int) {
	if v, ok := p.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (p *parser) float(key string, dst *float64) {
	if v, ok := p.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (p *parser) boolean(key string, dst *bool) {
	if v, ok := p.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (p *parser) duration(key string, dst *time.Duration) {
	if v, ok := p.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = d
	}
}
