// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/dealdesk-dev/dealdesk/internal/agent"
	"github.com/dealdesk-dev/dealdesk/internal/approval"
	"github.com/dealdesk-dev/dealdesk/internal/audit"
	"github.com/dealdesk-dev/dealdesk/internal/auth"
	"github.com/dealdesk-dev/dealdesk/internal/classifier"
	"github.com/dealdesk-dev/dealdesk/internal/config"
	"github.com/dealdesk-dev/dealdesk/internal/integration"
	"github.com/dealdesk-dev/dealdesk/internal/prompt"
	"github.com/dealdesk-dev/dealdesk/internal/provider"
	anthropicprov "github.com/dealdesk-dev/dealdesk/internal/provider/anthropic"
	googleprov "github.com/dealdesk-dev/dealdesk/internal/provider/google"
	openaiprov "github.com/dealdesk-dev/dealdesk/internal/provider/openai"
	"github.com/dealdesk-dev/dealdesk/internal/ratelimit"
	"github.com/dealdesk-dev/dealdesk/internal/server"
	"github.com/dealdesk-dev/dealdesk/internal/store"
	_ "github.com/dealdesk-dev/dealdesk/internal/store/postgres" // register postgres backend
	_ "github.com/dealdesk-dev/dealdesk/internal/store/sqlite"   // register sqlite backend
	"github.com/dealdesk-dev/dealdesk/internal/telemetry"
	"github.com/dealdesk-dev/dealdesk/internal/tool"
	"github.com/dealdesk-dev/dealdesk/internal/tool/sales"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

// App holds the wired pipeline and releases it in dependency order.
type App struct {
	Server    *server.Server
	Store     store.Store
	Providers *provider.Registry

	// closers run in reverse registration order.
	closers []func() error
}

// Close releases everything WireApp acquired.
func (a *App) Close() error {
	var errs []error
	for _, c := range slices.Backward(a.closers) {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) onClose(fn func() error) { a.closers = append(a.closers, fn) }

// WireApp builds every pipeline stage from cfg. Background work (the
// in-memory limiter sweep) stops when ctx is cancelled.
func WireApp(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	authn, err := newAuthenticator(cfg)
	if err != nil {
		return nil, err
	}

	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.Store = st
	a.onClose(st.Close)
	auditLog := audit.NewLog(st.Audit())

	limits, err := newLimitStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if c, ok := limits.(interface{ Close() error }); ok {
		a.onClose(c.Close)
	}

	policy, err := cfg.Classifier.Policy()
	if err != nil {
		return nil, dderr.Wrap(err, dderr.CodeCLISetupFailure, "building classifier policy")
	}
	chain, err := classifier.NewChain(policy, auditLog)
	if err != nil {
		return nil, dderr.Wrap(err, dderr.CodeCLISetupFailure, "creating classifier chain")
	}

	a.Providers = provider.NewRegistry()
	a.onClose(a.Providers.Close)
	registerBuiltinProviders(cfg, a.Providers)
	if err := a.Providers.SetDefault(cfg.Models.Default); err != nil {
		return nil, dderr.Wrapf(err, dderr.CodeCLISetupFailure, "setting default model %s", cfg.Models.Default)
	}
	if len(cfg.Models.Failover) > 0 {
		if err := a.Providers.SetFailover(cfg.Models.Failover); err != nil {
			return nil, dderr.Wrap(err, dderr.CodeCLISetupFailure, "setting failover chain")
		}
	}

	bookkeeping := tool.NewBookkeeping(cfg.Tools.BookkeepingTimeout)
	a.onClose(func() error { bookkeeping.Wait(); return nil })
	catalog, err := buildCatalog(cfg, st, bookkeeping)
	if err != nil {
		return nil, err
	}

	gate, err := newGate(cfg, st, catalog, auditLog)
	if err != nil {
		return nil, err
	}

	// The recorder drains before the store closes.
	recorder := telemetry.NewRecorder(st.Steps(), telemetry.Config{
		QueueSize:       cfg.Telemetry.QueueSize,
		MaxSummaryBytes: cfg.Telemetry.MaxSummaryBytes,
	})
	a.onClose(recorder.Close)

	controller, err := agent.NewController(agent.Config{
		Router:           a.Providers,
		Catalog:          catalog,
		Approver:         gate,
		Steps:            recorder,
		Audit:            auditLog,
		MaxRounds:        cfg.Agent.MaxRounds,
		MaxParallelTools: cfg.Agent.MaxParallelTools,
		ToolTimeout:      cfg.Agent.ToolTimeout,
	})
	if err != nil {
		return nil, dderr.Wrap(err, dderr.CodeCLISetupFailure, "creating agent controller")
	}

	assembler, err := prompt.New(prompt.Config{
		Accounts:      st.Accounts(),
		Activity:      st.Activity(),
		Template:      cfg.Prompt.Template,
		ActivityLimit: cfg.Prompt.ActivityLimit,
	})
	if err != nil {
		return nil, dderr.Wrap(err, dderr.CodeCLISetupFailure, "creating prompt assembler")
	}

	a.Server, err = server.New(server.Config{
		ListenAddr:      cfg.Server.Listen,
		CORSOrigins:     cfg.Server.CORSOrigins,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		ChatMax:         cfg.RateLimit.Chat.Max,
		ChatWindow:      cfg.RateLimit.Chat.Window,
		Allowlist:       cfg.Tools.Allow,
	}, server.Deps{
		Auth:       authn,
		Limiter:    ratelimit.New(limits),
		Classifier: chain,
		Prompt:     assembler,
		Agent:      controller,
		Approvals:  gate,
		Health:     a.Providers,
		Audit:      auditLog,
	})
	if err != nil {
		return nil, dderr.Wrap(err, dderr.CodeCLISetupFailure, "creating server")
	}
	return a, nil
}

// newAuthenticator accepts API keys and, when a secret is configured, JWT
// bearer tokens. With neither there is no way in, which is a setup error.
func newAuthenticator(cfg *config.Config) (auth.Authenticator, error) {
	if len(cfg.Auth.Keys) == 0 && cfg.Auth.JWT.Secret == "" {
		return nil, dderr.New(dderr.CodeCLISetupFailure,
			"no credentials configured: add auth.keys (dealdesk keys create) or set auth.jwt.secret")
	}

	var chain auth.Chain
	if len(cfg.Auth.Keys) > 0 {
		keys, err := auth.NewKeyAuthenticator(cfg.Auth.Keys, cfg.Auth.CacheTTL)
		if err != nil {
			return nil, dderr.Wrap(err, dderr.CodeCLISetupFailure, "configuring api keys")
		}
		chain = append(chain, keys)
	}
	if cfg.Auth.JWT.Secret != "" {
		jwt, err := auth.NewJWTAuthenticator(auth.JWTConfig{
			Secret:   cfg.Auth.JWT.Secret,
			Issuer:   cfg.Auth.JWT.Issuer,
			Audience: cfg.Auth.JWT.Audience,
		})
		if err != nil {
			return nil, dderr.Wrap(err, dderr.CodeCLISetupFailure, "configuring jwt")
		}
		chain = append(chain, jwt)
	}
	return chain, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	st, err := store.Open(store.Config{
		Backend: cfg.Storage.Backend,
		Path:    cfg.Storage.Path,
		DSN:     cfg.Storage.DSN,
	})
	if err != nil {
		return nil, dderr.Wrapf(err, dderr.CodeCLISetupFailure, "opening %s store", cfg.Storage.Backend)
	}
	return st, nil
}

// limitStoreCloser pairs a redis-backed store with its client.
type limitStoreCloser struct {
	*ratelimit.RedisStore
	close func() error
}

func (l limitStoreCloser) Close() error { return l.close() }

// newLimitStore returns the configured counter store. The memory store's
// sweep runs until ctx ends.
func newLimitStore(ctx context.Context, cfg *config.Config) (ratelimit.Store, error) {
	if cfg.RateLimit.Backend == "redis" {
		client, err := ratelimit.NewRedisClient(ctx, ratelimit.RedisOptions{
			URL:      cfg.RateLimit.Redis.URL,
			PoolSize: cfg.RateLimit.Redis.PoolSize,
		})
		if err != nil {
			return nil, dderr.Wrap(err, dderr.CodeCLISetupFailure, "connecting to redis")
		}
		slog.Info("rate limiter using redis", "prefix", cfg.RateLimit.Redis.Prefix)
		return limitStoreCloser{
			RedisStore: ratelimit.NewRedisStore(client, cfg.RateLimit.Redis.Prefix),
			close:      client.Close,
		}, nil
	}

	mem := ratelimit.NewMemoryStore(ratelimit.WithMaxKeys(cfg.RateLimit.MaxKeys))
	go mem.Run(ctx, cfg.RateLimit.SweepInterval)
	return mem, nil
}

// integrations builds a webhook adapter per section. Sections without a
// URL stay unconfigured and their tools are not offered.
func integrations(cfg *config.Config) integration.Set {
	hook := func(name string, w config.WebhookConfig) *integration.Webhook {
		return integration.NewWebhook(integration.WebhookConfig{
			Name:    name,
			URL:     w.URL,
			APIKey:  w.APIKey,
			Timeout: w.Timeout,
		})
	}
	return integration.Set{
		Mail:     hook("mail", cfg.Integrations.Mail),
		Calendar: hook("calendar", cfg.Integrations.Calendar),
		Contacts: hook("contacts", cfg.Integrations.Contacts),
		Research: hook("research", cfg.Integrations.Research),
	}
}

func buildCatalog(cfg *config.Config, st store.Store, bk *tool.Bookkeeping) (*tool.Catalog, error) {
	catalog, err := sales.Catalog(sales.Deps{
		Integrations: integrations(cfg),
		Activity:     st.Activity(),
		Bookkeeping:  bk,
	})
	if err != nil {
		return nil, dderr.Wrap(err, dderr.CodeCLISetupFailure, "building tool catalog")
	}
	return catalog, nil
}

func newGate(cfg *config.Config, st store.Store, catalog *tool.Catalog, sink audit.Sink) (*approval.Gate, error) {
	gate, err := approval.NewGate(approval.Config{
		Store:       st.Approvals(),
		Catalog:     catalog,
		Audit:       sink,
		ExecTimeout: cfg.Tools.ApprovalTimeout,
	})
	if err != nil {
		return nil, dderr.Wrap(err, dderr.CodeCLISetupFailure, "creating approval gate")
	}
	return gate, nil
}

// providerFactory builds a provider.Provider from a ProviderConfig.
type providerFactory func(config.ProviderConfig) (provider.Provider, error)

// builtinProviderFactories maps provider names to their constructors.
// Declared as a variable so tests can inject fakes.
var builtinProviderFactories = map[string]providerFactory{
	"anthropic": func(pc config.ProviderConfig) (provider.Provider, error) {
		return anthropicprov.New(anthropicprov.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
	},
	"google": func(pc config.ProviderConfig) (provider.Provider, error) {
		return googleprov.New(googleprov.Config{APIKey: pc.APIKey})
	},
	"openai": func(pc config.ProviderConfig) (provider.Provider, error) {
		return openaiprov.New(openaiprov.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
	},
}

// registerBuiltinProviders registers every configured provider with a
// known name and a key. Skipped providers are logged; a model ref that
// needs one then fails SetDefault or SetFailover.
func registerBuiltinProviders(cfg *config.Config, reg *provider.Registry) {
	for name, pc := range cfg.Providers {
		if pc.APIKey == "" {
			slog.Warn("skipping provider with empty API key", "provider", name)
			continue
		}
		factory, ok := builtinProviderFactories[name]
		if !ok {
			slog.Warn("unknown provider in config, skipping", "provider", name)
			continue
		}
		p, err := factory(pc)
		if err != nil {
			slog.Warn("failed to create provider", "provider", name, "error", err)
			continue
		}
		reg.Register(name, p)
		slog.Info("registered provider", "provider", name)
	}
}
