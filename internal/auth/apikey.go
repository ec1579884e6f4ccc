// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

const (
	// KeyPrefix marks dealdesk API keys.
	KeyPrefix = "ddk_"
	// lookupLen is the length of the public part of a key used to find its
	// hash without running bcrypt over every configured key.
	lookupLen = len(KeyPrefix) + 8

	DefaultKeyCacheTTL = 30 * time.Second
)

// Key is a configured API key. Only the bcrypt hash of the secret is kept.
type Key struct {
	Lookup string   `mapstructure:"lookup"`
	Hash   string   `mapstructure:"hash"`
	Actor  string   `mapstructure:"actor"`
	Name   string   `mapstructure:"name"`
	Scopes []string `mapstructure:"scopes"`
}

// KeyAuthenticator verifies API keys against bcrypt hashes.
type KeyAuthenticator struct {
	keys  map[string]Key
	cache *keyCache
}

// NewKeyAuthenticator indexes keys by lookup prefix. A non-positive ttl
// uses DefaultKeyCacheTTL.
func NewKeyAuthenticator(keys []Key, ttl time.Duration) (*KeyAuthenticator, error) {
	if ttl <= 0 {
		ttl = DefaultKeyCacheTTL
	}
	idx := make(map[string]Key, len(keys))
	for _, k := range keys {
		if len(k.Lookup) != lookupLen || !strings.HasPrefix(k.Lookup, KeyPrefix) {
			return nil, dderr.Errorf(dderr.CodeAuthConfigInvalid, "api key lookup %q is malformed", k.Lookup)
		}
		if k.Actor == "" {
			return nil, dderr.Errorf(dderr.CodeAuthConfigInvalid, "api key %s has no actor", k.Lookup)
		}
		if _, err := bcrypt.Cost([]byte(k.Hash)); err != nil {
			return nil, dderr.Wrapf(err, dderr.CodeAuthConfigInvalid, "api key %s hash", k.Lookup)
		}
		if _, dup := idx[k.Lookup]; dup {
			return nil, dderr.Errorf(dderr.CodeAuthConfigInvalid, "duplicate api key %s", k.Lookup)
		}
		idx[k.Lookup] = k
	}
	return &KeyAuthenticator{keys: idx, cache: newKeyCache(ttl)}, nil
}

func (a *KeyAuthenticator) Authenticate(_ context.Context, credential string) (*Identity, error) {
	if len(credential) <= lookupLen || !strings.HasPrefix(credential, KeyPrefix) {
		return nil, dderr.New(dderr.CodeAuthUnauthorized, "not an api key")
	}

	digest := sha256.Sum256([]byte(credential))
	cacheKey := hex.EncodeToString(digest[:])
	if id, ok := a.cache.get(cacheKey); ok {
		return id, nil
	}

	k, ok := a.keys[credential[:lookupLen]]
	if !ok {
		return nil, dderr.New(dderr.CodeAuthUnauthorized, "unknown api key")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(credential)); err != nil {
		return nil, dderr.New(dderr.CodeAuthUnauthorized, "invalid api key")
	}

	id := &Identity{Actor: k.Actor, Name: k.Name, Scopes: k.Scopes, Method: "api_key"}
	a.cache.set(cacheKey, id)
	return id, nil
}

// GenerateKey mints a new API key. The plaintext is shown once; only the
// returned Key (lookup and hash) is stored.
func GenerateKey(actor, name string, scopes []string) (string, Key, error) {
	buf := make([]byte, 30)
	if _, err := rand.Read(buf); err != nil {
		return "", Key{}, dderr.Wrap(err, dderr.CodeCLISetupFailure, "reading random bytes")
	}
	secret := KeyPrefix + base64.RawURLEncoding.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", Key{}, dderr.Wrap(err, dderr.CodeCLISetupFailure, "hashing api key")
	}
	return secret, Key{
		Lookup: secret[:lookupLen],
		Hash:   string(hash),
		Actor:  actor,
		Name:   name,
		Scopes: scopes,
	}, nil
}

// keyCache remembers verified keys so bcrypt runs once per key per ttl.
type keyCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]keyCacheEntry
	now     func() time.Time
}

type keyCacheEntry struct {
	id        *Identity
	expiresAt time.Time
}

func newKeyCache(ttl time.Duration) *keyCache {
	return &keyCache{ttl: ttl, entries: make(map[string]keyCacheEntry), now: time.Now}
}

func (c *keyCache) get(k string) (*Identity, bool) {
	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.id, true
}

func (c *keyCache) set(k string, id *Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	// Configured keys are few; drop expired entries on write.
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
		}
	}
	c.entries[k] = keyCacheEntry{id: id, expiresAt: now.Add(c.ttl)}
}
