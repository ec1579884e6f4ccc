// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/dealdesk-dev/dealdesk/internal/auth"
	"github.com/dealdesk-dev/dealdesk/internal/classifier"
	"github.com/dealdesk-dev/dealdesk/internal/config"
	"github.com/dealdesk-dev/dealdesk/internal/secrets"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

func init() {
	keyring.MockInit()
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dealdesk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func defaults(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := defaults(t)

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Listen)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "memory", cfg.RateLimit.Backend)
	assert.Equal(t, 30, cfg.RateLimit.Chat.Max)
	assert.Equal(t, time.Minute, cfg.RateLimit.Chat.Window)
	assert.Equal(t, 20, cfg.Agent.MaxRounds)
	assert.Equal(t, 4, cfg.Agent.MaxParallelTools)
	assert.Equal(t, 30*time.Second, cfg.Agent.ToolTimeout)
	assert.Equal(t, []string{"*"}, cfg.Tools.Allow)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "anthropic/claude-sonnet-4-5", cfg.Models.Default)
	assert.Equal(t, "info", cfg.Logging.Level)

	policy, err := cfg.Classifier.Policy()
	require.NoError(t, err)
	assert.Equal(t, classifier.DefaultPolicy(), policy)
}

func TestLoadDefaultFile(t *testing.T) {
	path := writeConfig(t, string(config.DefaultConfigYAML))

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "keyring://dealdesk/anthropic-api-key", cfg.Providers["anthropic"].APIKey)
	assert.Equal(t, 10*time.Second, cfg.Integrations.Mail.Timeout)
}

func TestLoadResolvesKeyringSecrets(t *testing.T) {
	ks := secrets.NewKeyringStore()
	require.NoError(t, ks.Store(secrets.DefaultService, "anthropic-api-key", "sk-ant-123"))
	path := writeConfig(t, string(config.DefaultConfigYAML))

	cfg, err := config.Load(path, ks)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-123", cfg.Providers["anthropic"].APIKey)

	missing := writeConfig(t, `
providers:
  anthropic:
    api_key: keyring://dealdesk/not-stored
`)
	_, err = config.Load(missing, ks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "providers.anthropic.api_key")
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: 0.0.0.0:9000
  cors_origins: ["https://app.example.com"]
auth:
  keys:
    - lookup: ddk_abcdefgh
      hash: $2a$10$abcdefghijklmnopqrstuuJ3Mh5pJ8Y8G9pW5m9k8z3rKQ2o9xVZy
      actor: rep-1
      scopes: [chat, approvals]
ratelimit:
  backend: redis
  chat: {max: 5, window: 30s}
  redis: {url: "redis://localhost:6379/0"}
classifier:
  pii_policy:
    email: redact
providers:
  anthropic: {api_key: sk-ant}
  openai: {api_key: sk-oai}
models:
  default: anthropic/claude-sonnet-4-5
  failover: [openai/gpt-4.1]
integrations:
  mail: {url: "https://hooks.example.com/mail", api_key: k, timeout: 5s}
`)

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Listen)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSOrigins)
	require.Len(t, cfg.Auth.Keys, 1)
	assert.Equal(t, auth.Key{
		Lookup: "ddk_abcdefgh",
		Hash:   "$2a$10$abcdefghijklmnopqrstuuJ3Mh5pJ8Y8G9pW5m9k8z3rKQ2o9xVZy",
		Actor:  "rep-1",
		Scopes: []string{"chat", "approvals"},
	}, cfg.Auth.Keys[0])
	assert.Equal(t, "redis", cfg.RateLimit.Backend)
	assert.Equal(t, 5, cfg.RateLimit.Chat.Max)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Chat.Window)
	assert.Equal(t, []string{"openai/gpt-4.1"}, cfg.Models.Failover)
	assert.Equal(t, 5*time.Second, cfg.Integrations.Mail.Timeout)

	policy, err := cfg.Classifier.Policy()
	require.NoError(t, err)
	assert.True(t, policy.Redacts(classifier.CategoryEmail))
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DEALDESK_RATELIMIT_CHAT_MAX", "7")
	t.Setenv("DEALDESK_SERVER_LISTEN", "127.0.0.1:0")
	t.Setenv("DEALDESK_AGENT_TOOL_TIMEOUT", "5s")

	cfg := defaults(t)
	assert.Equal(t, 7, cfg.RateLimit.Chat.Max)
	assert.Equal(t, "127.0.0.1:0", cfg.Server.Listen)
	assert.Equal(t, 5*time.Second, cfg.Agent.ToolTimeout)
}

func TestLoadErrors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
	assert.True(t, dderr.HasCode(err, dderr.CodeConfigLoadReadFailure))

	_, err = config.Load(writeConfig(t, "agent:\n  max_rounds: 0\n"), nil)
	require.Error(t, err)
	assert.True(t, dderr.HasCode(err, dderr.CodeConfigValidateInvalidValue))
	assert.Contains(t, err.Error(), "agent.max_rounds")
}

func TestValidateCollectsEveryError(t *testing.T) {
	cfg := defaults(t)
	cfg.Server.Listen = "nope"
	cfg.RateLimit.Backend = "memcached"
	cfg.RateLimit.Chat.Max = 0
	cfg.Agent.MaxParallelTools = 0
	cfg.Storage.Backend = "postgres"
	cfg.Models.Default = "claude"
	cfg.Logging.Format = "xml"
	cfg.Integrations.Research.URL = "ftp://example.com"

	errs := cfg.Validate()
	require.Len(t, errs, 8)

	var msgs []string
	for _, err := range errs {
		assert.True(t, dderr.HasCode(err, dderr.CodeConfigValidateInvalidValue))
		msgs = append(msgs, err.Error())
	}
	joined := strings.Join(msgs, "\n")
	for _, field := range []string{
		"server.listen", "ratelimit.backend", "ratelimit.chat.max", "agent.max_parallel_tools",
		"storage.dsn", "models.default", "logging.format", "integrations.research.url",
	} {
		assert.Contains(t, joined, field)
	}
}

func TestValidateModelsAgainstProviders(t *testing.T) {
	cfg := defaults(t)
	cfg.Providers = map[string]config.ProviderConfig{"anthropic": {APIKey: "k"}}
	cfg.Models.Failover = []string{"openai/gpt-4.1", "google"}

	errs := cfg.Validate()
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), `models.failover[0] "openai/gpt-4.1" references provider "openai"`)
	assert.Contains(t, errs[1].Error(), "models.failover[1]")
}

func TestValidateAuth(t *testing.T) {
	cfg := defaults(t)
	cfg.Auth.JWT.Secret = "short"
	cfg.Auth.Keys = []auth.Key{{Lookup: "abc"}}

	errs := cfg.Validate()
	require.Len(t, errs, 4)
}

func TestValidateRedisNeedsURL(t *testing.T) {
	cfg := defaults(t)
	cfg.RateLimit.Backend = "redis"

	errs := cfg.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "ratelimit.redis.url")
}

func TestValidateClassifierPolicy(t *testing.T) {
	cfg := defaults(t)
	cfg.Classifier.PIIPolicy = map[string]string{"email": "shred"}

	errs := cfg.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "classifier")
}
