// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

// Package server exposes the chat pipeline over HTTP: an SSE chat endpoint,
// approval resolution, health and metrics.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dealdesk-dev/dealdesk/internal/agent"
	"github.com/dealdesk-dev/dealdesk/internal/approval"
	"github.com/dealdesk-dev/dealdesk/internal/audit"
	"github.com/dealdesk-dev/dealdesk/internal/auth"
	"github.com/dealdesk-dev/dealdesk/internal/classifier"
	"github.com/dealdesk-dev/dealdesk/internal/prompt"
	"github.com/dealdesk-dev/dealdesk/internal/provider"
	"github.com/dealdesk-dev/dealdesk/internal/ratelimit"
	"github.com/dealdesk-dev/dealdesk/internal/store"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
	"github.com/dealdesk-dev/dealdesk/pkg/health"
)

const (
	defaultReadTimeout     = 30 * time.Second
	defaultShutdownTimeout = 15 * time.Second
	defaultMaxBodyBytes    = 1 << 20
)

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr  string
	CORSOrigins []string
	ReadTimeout time.Duration
	// WriteTimeout bounds a whole response, including a chat stream. Zero
	// leaves streams unbounded.
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// ChatMax requests per ChatWindow are admitted per actor.
	ChatMax    int
	ChatWindow time.Duration
	// Allowlist is passed to each turn's tool snapshot.
	Allowlist []string
}

// TurnRunner runs one agent turn.
type TurnRunner interface {
	Run(ctx context.Context, turn agent.Turn, out chan<- agent.Event) (*agent.Result, error)
}

// InputFilter screens inbound messages before they reach the model.
type InputFilter interface {
	Apply(ctx context.Context, actor string, msgs []provider.Message) ([]provider.Message, []classifier.Outcome, error)
}

// ApprovalService resolves and lists approval requests.
type ApprovalService interface {
	Check(ctx context.Context, toolCallID, actor string) (*store.Approval, error)
	Resolve(ctx context.Context, toolCallID string, decision approval.Decision, actor string) (*approval.Outcome, error)
	Pending(ctx context.Context, actor string, limit int) ([]*store.Approval, error)
}

// HealthChecker reports model provider health.
type HealthChecker interface {
	Health(ctx context.Context) health.Report
}

// Deps are the pipeline stages the handlers drive. Health and Audit are
// optional.
type Deps struct {
	Auth       auth.Authenticator
	Limiter    *ratelimit.Limiter
	Classifier InputFilter
	Prompt     prompt.Assembler
	Agent      TurnRunner
	Approvals  ApprovalService
	Health     HealthChecker
	Audit      audit.Sink
}

// Server wraps a chi router with huma API and HTTP server.
type Server struct {
	router chi.Router
	api    huma.API
	cfg    Config
	deps   Deps
	now    func() time.Time
}

// New creates a Server with every route registered.
func New(cfg Config, deps Deps) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, dderr.New(dderr.CodeServerConfigInvalid, "listen address is required")
	}
	if cfg.ChatMax <= 0 || cfg.ChatWindow <= 0 {
		return nil, dderr.Errorf(dderr.CodeServerConfigInvalid,
			"chat rate limit must be positive (max=%d, window=%s)", cfg.ChatMax, cfg.ChatWindow)
	}
	switch {
	case deps.Auth == nil:
		return nil, dderr.New(dderr.CodeServerConfigInvalid, "an authenticator is required")
	case deps.Limiter == nil:
		return nil, dderr.New(dderr.CodeServerConfigInvalid, "a rate limiter is required")
	case deps.Classifier == nil:
		return nil, dderr.New(dderr.CodeServerConfigInvalid, "an input classifier is required")
	case deps.Prompt == nil:
		return nil, dderr.New(dderr.CodeServerConfigInvalid, "a prompt assembler is required")
	case deps.Agent == nil:
		return nil, dderr.New(dderr.CodeServerConfigInvalid, "an agent controller is required")
	case deps.Approvals == nil:
		return nil, dderr.New(dderr.CodeServerConfigInvalid, "an approval service is required")
	}
	if deps.Audit == nil {
		deps.Audit = audit.Discard{}
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware(cfg.CORSOrigins))

	humaConfig := huma.DefaultConfig("Dealdesk API", "0.1.0")
	humaConfig.Info.Description = "Security-gated sales assistant chat pipeline"
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {Type: "http", Scheme: "bearer"},
		"apiKey": {Type: "apiKey", In: "header", Name: "X-API-Key"},
	}

	s := &Server{
		router: r,
		cfg:    cfg,
		deps:   deps,
		now:    time.Now,
	}
	r.Use(s.authenticate)

	s.api = humachi.New(r, humaConfig)
	r.Handle("/metrics", promhttp.Handler())

	s.registerHealthRoute()
	s.registerChatRoute()
	s.registerApprovalRoutes()
	return s, nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// API returns the huma API, used to dump the OpenAPI document.
func (s *Server) API() huma.API {
	return s.api
}

// SetNowFunc overrides the clock used for rate limit headers. For tests.
func (s *Server) SetNowFunc(fn func() time.Time) { s.now = fn }

// Start runs the HTTP server and blocks until the context is cancelled,
// then performs graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return dderr.Wrapf(err, dderr.CodeServerStartFailure, "listening on %s", s.cfg.ListenAddr)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return dderr.Wrap(err, dderr.CodeServerStartFailure, "serving http")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return dderr.Wrap(err, dderr.CodeServerShutdownFailure, "shutting down")
	}
	return <-errCh
}

type healthOutput struct {
	Status int
	Body   health.Report
}

func (s *Server) registerHealthRoute() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Reports model provider availability. Returns 503 when no provider is available.",
		Tags:        []string{"system"},
	}, func(ctx context.Context, _ *struct{}) (*healthOutput, error) {
		if s.deps.Health == nil {
			return &healthOutput{Status: http.StatusOK, Body: health.Report{Status: "ok"}}, nil
		}
		report := s.deps.Health.Health(ctx)
		status := http.StatusOK
		if report.Status == "unavailable" {
			status = http.StatusServiceUnavailable
		}
		return &healthOutput{Status: status, Body: report}, nil
	})
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
