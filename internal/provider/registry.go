// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package provider

import (
	"context"
	"sort"
	"strings"
	"sync"

	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
	"github.com/dealdesk-dev/dealdesk/pkg/health"
)

// Registry manages provider registration and routes requests to the
// default "provider/model" ref, walking the failover chain when the
// primary is unavailable.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider

	defaultRef string
	failover   []string
}

var _ Router = (*Registry)(nil)

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider to the registry.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, dderr.New(dderr.CodeProviderNotFound, "provider not found: "+name, dderr.FieldProvider(name))
	}
	return p, nil
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetDefault sets the "provider/model" ref used when a request names no
// model.
func (r *Registry) SetDefault(ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkRefLocked(ref); err != nil {
		return err
	}
	r.defaultRef = ref
	return nil
}

// SetFailover sets the ordered failover chain of "provider/model" refs.
func (r *Registry) SetFailover(chain []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ref := range chain {
		if err := r.checkRefLocked(ref); err != nil {
			return err
		}
	}
	r.failover = append([]string(nil), chain...)
	return nil
}

// Route selects a provider for modelName, or for the default ref when
// modelName is empty. Unavailable providers are skipped in favor of the
// failover chain.
func (r *Registry) Route(ctx context.Context, modelName string) (Provider, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref := r.defaultRef
	if modelName != "" && modelName != "default" {
		if !strings.Contains(modelName, "/") {
			return nil, "", dderr.Errorf(dderr.CodeProviderInvalidModelRef,
				"model name %q must use provider/model format", modelName)
		}
		ref = modelName
	}
	if ref == "" {
		return nil, "", dderr.New(dderr.CodeProviderNoDefault, "no default provider configured")
	}

	if p, model, err := r.tryRef(ctx, ref); err == nil {
		return p, model, nil
	}
	for _, fallback := range r.failover {
		if fallback == ref {
			continue
		}
		if p, model, err := r.tryRef(ctx, fallback); err == nil {
			return p, model, nil
		}
	}

	return nil, "", dderr.New(dderr.CodeProviderAllUnavailable, "all providers unavailable: no healthy provider found")
}

// Health reports every registered provider. Providers that do not track
// their own health report their Available result.
func (r *Registry) Health(ctx context.Context) health.Report {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]health.Metrics, len(r.providers))
	for name, p := range r.providers {
		if hr, ok := p.(HealthReporter); ok {
			out[name] = hr.Health()
			continue
		}
		out[name] = health.Metrics{Available: p.Available(ctx)}
	}
	return health.Summarize(out)
}

// Close shuts down all registered providers.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return dderr.Join(errs...)
	}
	return nil
}

func (r *Registry) checkRefLocked(ref string) error {
	name, model := parseRef(ref)
	if model == "" {
		return dderr.Errorf(dderr.CodeProviderInvalidModelRef, "model ref %q must use provider/model format", ref)
	}
	if _, ok := r.providers[name]; !ok {
		return dderr.New(dderr.CodeProviderNotFound, "provider not registered: "+name, dderr.FieldProvider(name))
	}
	return nil
}

// caller holds r.mu
func (r *Registry) tryRef(ctx context.Context, ref string) (Provider, string, error) {
	name, model := parseRef(ref)

	p, ok := r.providers[name]
	if !ok {
		return nil, "", dderr.New(dderr.CodeProviderNotFound, "provider not found: "+name, dderr.FieldProvider(name))
	}
	if !p.Available(ctx) {
		return nil, "", dderr.New(dderr.CodeProviderUpstreamFailure, "provider unavailable: "+name, dderr.FieldProvider(name))
	}
	return p, model, nil
}

// parseRef splits a "provider/model" reference on the first "/".
func parseRef(ref string) (providerName, model string) {
	idx := strings.Index(ref, "/")
	if idx < 0 {
		return ref, ""
	}
	return ref[:idx], ref[idx+1:]
}
