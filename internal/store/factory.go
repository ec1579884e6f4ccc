// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package store

import (
	"sort"
	"sync"

	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

// Config selects and parameterises a storage backend.
type Config struct {
	Backend string // "sqlite" or "postgres"; empty means sqlite.
	Path    string // sqlite database file.
	DSN     string // postgres connection string.
}

// Factory opens a Store for a backend.
type Factory func(cfg Config) (Store, error)

var (
	factories   = map[string]Factory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers a factory for a named backend. Backend packages
// call this from init().
func RegisterBackend(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Backends lists the registered backend names.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open creates the Store for cfg.Backend.
func Open(cfg Config) (Store, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = "sqlite"
	}

	factoriesMu.RLock()
	f, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, dderr.Errorf(dderr.CodeStoreBackendUnsupported, "unsupported storage backend: %q", backend)
	}
	return f(cfg)
}
