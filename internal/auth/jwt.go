// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

// Claims are the bearer token claims. Subject carries the actor.
type Claims struct {
	Name   string   `json:"name,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// JWTConfig configures HS256 bearer tokens.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// JWTAuthenticator verifies and issues HS256 bearer tokens.
type JWTAuthenticator struct {
	key      []byte
	issuer   string
	audience string
}

func NewJWTAuthenticator(cfg JWTConfig) (*JWTAuthenticator, error) {
	if len(cfg.Secret) < 32 {
		return nil, dderr.New(dderr.CodeAuthConfigInvalid, "jwt secret must be at least 32 bytes")
	}
	return &JWTAuthenticator{key: []byte(cfg.Secret), issuer: cfg.Issuer, audience: cfg.Audience}, nil
}

func (a *JWTAuthenticator) Authenticate(_ context.Context, credential string) (*Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	parsed, err := jwt.ParseWithClaims(credential, &Claims{}, func(*jwt.Token) (any, error) {
		return a.key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dderr.New(dderr.CodeAuthUnauthorized, "token has expired")
		}
		return nil, dderr.New(dderr.CodeAuthUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, dderr.New(dderr.CodeAuthUnauthorized, "invalid token claims")
	}
	return &Identity{Actor: claims.Subject, Name: claims.Name, Scopes: claims.Scopes, Method: "jwt"}, nil
}

// Issue signs a token for actor valid for ttl.
func (a *JWTAuthenticator) Issue(actor, name string, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name:   name,
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	if a.audience != "" {
		claims.Audience = jwt.ClaimStrings{a.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
	if err != nil {
		return "", dderr.Wrap(err, dderr.CodeAuthConfigInvalid, "signing token")
	}
	return signed, nil
}
