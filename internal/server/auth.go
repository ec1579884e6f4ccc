// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package server

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/dealdesk-dev/dealdesk/internal/audit"
	"github.com/dealdesk-dev/dealdesk/internal/auth"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

// apiPrefix marks the routes that require an identity. Health, metrics and
// the OpenAPI document stay public.
const apiPrefix = "/api/"

// authenticate resolves the caller's identity for /api/ routes and rejects
// the request with 401 when there is none.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, apiPrefix) || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		id, err := s.deps.Auth.Authenticate(r.Context(), auth.Credential(r))
		if err != nil {
			if !dderr.IsUnauthorized(err) {
				slog.Error("authenticating request", "path", r.URL.Path, "error", err)
			}
			requestsTotal.WithLabelValues(routeLabel(r), "unauthorized").Inc()
			s.deps.Audit.Record(r.Context(), audit.Event{
				Type:     audit.EventAuthFailed,
				Severity: audit.SeverityMedium,
				Refs:     map[string]string{"remote_ip": clientIP(r)},
				Details:  map[string]any{"method": r.Method, "path": r.URL.Path},
			})
			w.Header().Set("WWW-Authenticate", `Bearer realm="dealdesk"`)
			writeProblem(w, http.StatusUnauthorized, "authentication required")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

// clientIP strips the port from RemoteAddr, which RealIP has already
// replaced with the forwarded address when one was present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
