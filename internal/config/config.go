// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package config

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dealdesk-dev/dealdesk/internal/auth"
	"github.com/dealdesk-dev/dealdesk/internal/classifier"
	"github.com/dealdesk-dev/dealdesk/internal/secrets"
	"github.com/dealdesk-dev/dealdesk/internal/tool"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

// EnvPrefix prefixes every environment override, e.g.
// DEALDESK_SERVER_LISTEN.
const EnvPrefix = "DEALDESK"

// Config is the top-level Dealdesk configuration.
type Config struct {
	Server       ServerConfig              `mapstructure:"server"`
	Auth         AuthConfig                `mapstructure:"auth"`
	RateLimit    RateLimitConfig           `mapstructure:"ratelimit"`
	Classifier   ClassifierConfig          `mapstructure:"classifier"`
	Agent        AgentConfig               `mapstructure:"agent"`
	Tools        ToolsConfig               `mapstructure:"tools"`
	Storage      StorageConfig             `mapstructure:"storage"`
	Providers    map[string]ProviderConfig `mapstructure:"providers"`
	Models       ModelsConfig              `mapstructure:"models"`
	Integrations IntegrationsConfig        `mapstructure:"integrations"`
	Prompt       PromptConfig              `mapstructure:"prompt"`
	Telemetry    TelemetryConfig           `mapstructure:"telemetry"`
	Logging      LoggingConfig             `mapstructure:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Listen          string        `mapstructure:"listen"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

// AuthConfig lists the accepted credentials. The server refuses to start
// with neither keys nor a JWT secret.
type AuthConfig struct {
	Keys     []auth.Key    `mapstructure:"keys"`
	JWT      JWTConfig     `mapstructure:"jwt"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type JWTConfig struct {
	Secret   string `mapstructure:"secret"`
	Issuer   string `mapstructure:"issuer"`
	Audience string `mapstructure:"audience"`
}

// RateLimitConfig selects the counter store and the chat budget.
type RateLimitConfig struct {
	// Backend is "memory" or "redis".
	Backend       string        `mapstructure:"backend"`
	Chat          LimitConfig   `mapstructure:"chat"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	MaxKeys       int           `mapstructure:"max_keys"`
	Redis         RedisConfig   `mapstructure:"redis"`
}

// LimitConfig is one fixed-window budget.
type LimitConfig struct {
	Max    int           `mapstructure:"max"`
	Window time.Duration `mapstructure:"window"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Prefix   string `mapstructure:"prefix"`
	PoolSize int    `mapstructure:"pool_size"`
}

// ClassifierConfig overrides the content policy.
type ClassifierConfig struct {
	DropThreshold float64           `mapstructure:"drop_threshold"`
	LogThreshold  float64           `mapstructure:"log_threshold"`
	PIIPolicy     map[string]string `mapstructure:"pii_policy"`
}

// Policy builds the classifier policy this section describes.
func (c ClassifierConfig) Policy() (classifier.Policy, error) {
	return classifier.ParsePolicy(c.DropThreshold, c.LogThreshold, c.PIIPolicy)
}

type AgentConfig struct {
	MaxRounds        int           `mapstructure:"max_rounds"`
	MaxParallelTools int           `mapstructure:"max_parallel_tools"`
	ToolTimeout      time.Duration `mapstructure:"tool_timeout"`
}

// ToolsConfig controls which tools the model is offered.
type ToolsConfig struct {
	// Allow lists tool names, or "*" for every configured tool.
	Allow              []string      `mapstructure:"allow"`
	ApprovalTimeout    time.Duration `mapstructure:"approval_exec_timeout"`
	BookkeepingTimeout time.Duration `mapstructure:"bookkeeping_timeout"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	DSN     string `mapstructure:"dsn"`
}

// ProviderConfig holds credentials and endpoint for an LLM provider.
type ProviderConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// ModelsConfig controls model selection.
type ModelsConfig struct {
	Default  string   `mapstructure:"default"`
	Failover []string `mapstructure:"failover"`
}

// IntegrationsConfig points each adapter at its webhook. An adapter with
// no URL is unconfigured and its tools are not offered.
type IntegrationsConfig struct {
	Mail     WebhookConfig `mapstructure:"mail"`
	Calendar WebhookConfig `mapstructure:"calendar"`
	Contacts WebhookConfig `mapstructure:"contacts"`
	Research WebhookConfig `mapstructure:"research"`
}

type WebhookConfig struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type PromptConfig struct {
	Template      string `mapstructure:"template"`
	ActivityLimit int    `mapstructure:"activity_limit"`
}

// TelemetryConfig sizes the step recorder.
type TelemetryConfig struct {
	QueueSize       int `mapstructure:"queue_size"`
	MaxSummaryBytes int `mapstructure:"max_summary_bytes"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("auth.cache_ttl", "30s")
	v.SetDefault("auth.jwt.issuer", "dealdesk")

	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.chat.max", 30)
	v.SetDefault("ratelimit.chat.window", "1m")
	v.SetDefault("ratelimit.sweep_interval", "1m")
	v.SetDefault("ratelimit.max_keys", 10000)
	v.SetDefault("ratelimit.redis.prefix", "dealdesk:rl")

	def := classifier.DefaultPolicy()
	v.SetDefault("classifier.drop_threshold", def.DropThreshold)
	v.SetDefault("classifier.log_threshold", def.LogThreshold)

	v.SetDefault("agent.max_rounds", 20)
	v.SetDefault("agent.max_parallel_tools", 4)
	v.SetDefault("agent.tool_timeout", "30s")

	v.SetDefault("tools.allow", []string{tool.AllowAll})
	v.SetDefault("tools.approval_exec_timeout", "30s")
	v.SetDefault("tools.bookkeeping_timeout", "10s")

	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.path", "dealdesk.db")

	v.SetDefault("models.default", "anthropic/claude-sonnet-4-5")

	v.SetDefault("prompt.activity_limit", 5)

	v.SetDefault("telemetry.queue_size", 256)
	v.SetDefault("telemetry.max_summary_bytes", 256)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// SetupEnv maps DEALDESK_SECTION_KEY variables onto section.key.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from path (or defaults only when path is
// empty), applies environment overrides, resolves keyring:// secrets
// through store (nil skips resolution) and validates the result.
func Load(path string, store secrets.Store) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, dderr.Wrapf(err, dderr.CodeConfigLoadReadFailure, "reading config %s", path)
		}
	}
	if store != nil {
		if err := secrets.ResolveViperSecrets(v, store); err != nil {
			return nil, err
		}
	}

	return Decode(v)
}

// Decode unmarshals and validates a prepared viper instance.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, dderr.Wrap(err, dderr.CodeConfigParseInvalidFormat, "unmarshalling config")
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, dderr.Wrap(errors.Join(errs...), dderr.CodeConfigValidateInvalidValue, "validating config")
	}
	return &cfg, nil
}

// Validate checks the configuration for logical errors. It collects every
// issue rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateAuth()...)
	errs = append(errs, c.validateRateLimit()...)
	errs = append(errs, c.validateClassifier()...)
	errs = append(errs, c.validateAgent()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateModels()...)
	errs = append(errs, c.validateIntegrations()...)
	errs = append(errs, c.validateLogging()...)

	return errs
}

func invalid(format string, args ...any) error {
	return dderr.Errorf(dderr.CodeConfigValidateInvalidValue, "config: "+format, args...)
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, invalid("server.listen must not be empty"))
	} else if _, portStr, err := net.SplitHostPort(c.Server.Listen); err != nil {
		errs = append(errs, invalid("server.listen must be a valid host:port address, got %q: %v", c.Server.Listen, err))
	} else if port, err := strconv.Atoi(portStr); err != nil {
		errs = append(errs, invalid("server.listen port must be a number, got %q", portStr))
	} else if port < 0 || port > 65535 {
		// Port 0 picks a free port, which tests rely on.
		errs = append(errs, invalid("server.listen port must be between 0 and 65535, got %d", port))
	}

	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, invalid("server.shutdown_timeout must be positive, got %s", c.Server.ShutdownTimeout))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, invalid("server.max_body_bytes must be positive, got %d", c.Server.MaxBodyBytes))
	}
	return errs
}

func (c *Config) validateAuth() []error {
	var errs []error

	if c.Auth.JWT.Secret != "" && len(c.Auth.JWT.Secret) < 32 {
		errs = append(errs, invalid("auth.jwt.secret must be at least 32 bytes"))
	}
	for i, k := range c.Auth.Keys {
		if k.Actor == "" {
			errs = append(errs, invalid("auth.keys[%d].actor must not be empty", i))
		}
		if !strings.HasPrefix(k.Lookup, auth.KeyPrefix) {
			errs = append(errs, invalid("auth.keys[%d].lookup must start with %q", i, auth.KeyPrefix))
		}
		if k.Hash == "" {
			errs = append(errs, invalid("auth.keys[%d].hash must not be empty", i))
		}
	}
	return errs
}

func (c *Config) validateRateLimit() []error {
	var errs []error

	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.RateLimit.Redis.URL == "" {
			errs = append(errs, invalid("ratelimit.redis.url is required when ratelimit.backend is redis"))
		}
	default:
		errs = append(errs, invalid("ratelimit.backend must be one of [memory, redis], got %q", c.RateLimit.Backend))
	}

	if c.RateLimit.Chat.Max <= 0 {
		errs = append(errs, invalid("ratelimit.chat.max must be greater than 0, got %d", c.RateLimit.Chat.Max))
	}
	if c.RateLimit.Chat.Window <= 0 {
		errs = append(errs, invalid("ratelimit.chat.window must be positive, got %s", c.RateLimit.Chat.Window))
	}
	if c.RateLimit.SweepInterval <= 0 {
		errs = append(errs, invalid("ratelimit.sweep_interval must be positive, got %s", c.RateLimit.SweepInterval))
	}
	if c.RateLimit.MaxKeys < 0 {
		errs = append(errs, invalid("ratelimit.max_keys must not be negative, got %d", c.RateLimit.MaxKeys))
	}
	return errs
}

func (c *Config) validateClassifier() []error {
	if _, err := c.Classifier.Policy(); err != nil {
		return []error{invalid("classifier: %v", err)}
	}
	return nil
}

func (c *Config) validateAgent() []error {
	var errs []error

	if c.Agent.MaxRounds <= 0 {
		errs = append(errs, invalid("agent.max_rounds must be greater than 0, got %d", c.Agent.MaxRounds))
	}
	if c.Agent.MaxParallelTools <= 0 {
		errs = append(errs, invalid("agent.max_parallel_tools must be greater than 0, got %d", c.Agent.MaxParallelTools))
	}
	if c.Agent.ToolTimeout <= 0 {
		errs = append(errs, invalid("agent.tool_timeout must be positive, got %s", c.Agent.ToolTimeout))
	}
	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, invalid("storage.path must not be empty for sqlite"))
		}
	case "postgres":
		if c.Storage.DSN == "" {
			errs = append(errs, invalid("storage.dsn must not be empty for postgres"))
		}
	default:
		errs = append(errs, invalid("storage.backend must be one of [sqlite, postgres], got %q", c.Storage.Backend))
	}
	return errs
}

func (c *Config) validateModels() []error {
	var errs []error

	check := func(field, ref string) {
		if !strings.Contains(ref, "/") {
			errs = append(errs, invalid("%s must be in \"provider/model\" format, got %q", field, ref))
			return
		}
		// A nil providers map means no providers section was configured,
		// which is valid for commands that never call a model.
		if c.Providers == nil {
			return
		}
		name := providerFromModel(ref)
		if _, ok := c.Providers[name]; !ok {
			errs = append(errs, invalid("%s %q references provider %q which is not configured", field, ref, name))
		}
	}

	if c.Models.Default == "" {
		errs = append(errs, invalid("models.default must not be empty"))
	} else {
		check("models.default", c.Models.Default)
	}
	for i, ref := range c.Models.Failover {
		check("models.failover["+strconv.Itoa(i)+"]", ref)
	}
	return errs
}

func (c *Config) validateIntegrations() []error {
	var errs []error

	for name, w := range map[string]WebhookConfig{
		"mail":     c.Integrations.Mail,
		"calendar": c.Integrations.Calendar,
		"contacts": c.Integrations.Contacts,
		"research": c.Integrations.Research,
	} {
		if w.URL == "" {
			continue
		}
		u, err := url.Parse(w.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, invalid("integrations.%s.url must be an http(s) URL, got %q", name, w.URL))
		}
	}
	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, invalid("logging.level must be one of [debug, info, warn, error], got %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, invalid("logging.format must be one of [text, json], got %q", c.Logging.Format))
	}
	return errs
}

// providerFromModel extracts the provider prefix from a "provider/model" string.
func providerFromModel(model string) string {
	if idx := strings.Index(model, "/"); idx > 0 {
		return model[:idx]
	}
	return model
}
