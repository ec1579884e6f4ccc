// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package tool

import (
	"maps"
	"slices"

	"github.com/dealdesk-dev/dealdesk/internal/provider"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

// AllowAll in an allowlist exposes every catalogued tool.
const AllowAll = "*"

// Catalog is the static set of implemented tools.
type Catalog struct {
	tools map[string]*Descriptor
}

// NewCatalog indexes descs by name. Duplicate names are rejected.
func NewCatalog(descs ...*Descriptor) (*Catalog, error) {
	c := &Catalog{tools: make(map[string]*Descriptor, len(descs))}
	for _, d := range descs {
		if d == nil {
			continue
		}
		if _, dup := c.tools[d.Name()]; dup {
			return nil, dderr.New(dderr.CodeToolDuplicate, "tool registered twice", dderr.FieldTool(d.Name()))
		}
		c.tools[d.Name()] = d
	}
	return c, nil
}

// Lookup finds a catalogued tool regardless of allowlist or configuration.
// The approval gate uses it to run a call approved in an earlier request.
func (c *Catalog) Lookup(name string) (*Descriptor, bool) {
	d, ok := c.tools[name]
	return d, ok
}

// Names lists every catalogued tool, sorted.
func (c *Catalog) Names() []string {
	return slices.Sorted(maps.Keys(c.tools))
}

// Snapshot returns the registry for one turn: catalogued tools that appear
// in allowlist and whose Configured predicate holds right now. An empty
// allowlist exposes nothing.
func (c *Catalog) Snapshot(allowlist []string) *Registry {
	all := slices.Contains(allowlist, AllowAll)
	r := &Registry{tools: make(map[string]*Descriptor)}
	for name, d := range c.tools {
		if !all && !slices.Contains(allowlist, name) {
			continue
		}
		if !d.Configured() {
			unconfiguredSkipsTotal.WithLabelValues(name).Inc()
			continue
		}
		r.tools[name] = d
	}
	r.names = slices.Sorted(maps.Keys(r.tools))
	return r
}

// Registry is the immutable set of tools offered to the model for one
// turn.
type Registry struct {
	tools map[string]*Descriptor
	names []string
}

// Lookup finds an offered tool.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	d, ok := r.tools[name]
	return d, ok
}

// Names lists offered tools, sorted.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}

// Len is the number of offered tools.
func (r *Registry) Len() int {
	return len(r.names)
}

// Definitions is what the model sees, in name order.
func (r *Registry) Definitions() []provider.ToolDefinition {
	defs := make([]provider.ToolDefinition, 0, len(r.names))
	for _, name := range r.names {
		d := r.tools[name]
		desc := d.Description()
		if d.RequiresApproval() {
			desc += " Calls are held for human approval before they run."
		}
		defs = append(defs, provider.ToolDefinition{
			Name:        name,
			Description: desc,
			InputSchema: d.InputSchema(),
		})
	}
	return defs
}
