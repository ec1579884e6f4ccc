// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

// Package auth resolves the caller identity of an HTTP request from an API
// key or a signed bearer token.
package auth

import (
	"context"
	"net/http"
	"slices"
	"strings"

	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

// ScopeAll grants every scope.
const ScopeAll = "*"

const (
	ScopeChat      = "chat"
	ScopeApprovals = "approvals"
)

// Identity is an authenticated caller.
type Identity struct {
	// Actor is the stable reference recorded in audit events and
	// approvals.
	Actor  string
	Name   string
	Scopes []string
	// Method is "api_key" or "jwt".
	Method string
}

// Can reports whether the identity holds scope.
func (i *Identity) Can(scope string) bool {
	if i == nil {
		return false
	}
	return slices.Contains(i.Scopes, ScopeAll) || slices.Contains(i.Scopes, scope)
}

// Authenticator verifies a raw credential.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (*Identity, error)
}

// Chain tries each authenticator in order and returns the first identity.
type Chain []Authenticator

func (c Chain) Authenticate(ctx context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, dderr.New(dderr.CodeAuthUnauthorized, "missing credentials")
	}
	for _, a := range c {
		if a == nil {
			continue
		}
		if id, err := a.Authenticate(ctx, credential); err == nil {
			return id, nil
		}
	}
	return nil, dderr.New(dderr.CodeAuthUnauthorized, "invalid credentials")
}

// Credential extracts the caller's credential from r: an
// "Authorization: Bearer" header, or X-API-Key.
func Credential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		// RFC 6750: the scheme is case-insensitive.
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return ""
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

type ctxKey struct{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity attached by WithIdentity, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(ctxKey{}).(*Identity)
	return id
}
