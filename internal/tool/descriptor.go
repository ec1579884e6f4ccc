// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

// Package tool holds the typed tool descriptors the agent can call, the
// static catalog of them and the immutable per-turn registry derived from
// it.
package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/dealdesk-dev/dealdesk/internal/integration"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

var toolNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// Executor runs a tool with its decoded input.
type Executor[T any] func(ctx context.Context, tc Context, in T) (integration.Result, error)

// Spec is the static part of a descriptor.
type Spec struct {
	Name        string
	Description string
	// Schema is the JSON Schema the model's arguments must satisfy.
	Schema map[string]any
	// RequiresApproval routes calls through the approval gate.
	RequiresApproval bool
	// Configured reports whether the backing integration can serve calls.
	// Nil means always configured.
	Configured func() bool
}

// Descriptor binds one input type to one executor. Descriptors are
// immutable after New.
type Descriptor struct {
	spec     Spec
	compiled *jsonschema.Schema
	invoke   func(ctx context.Context, tc Context, raw json.RawMessage) (integration.Result, error)
}

// New builds a descriptor whose arguments decode into T.
func New[T any](spec Spec, exec Executor[T]) (*Descriptor, error) {
	if !toolNameRe.MatchString(spec.Name) {
		return nil, dderr.Errorf(dderr.CodeToolSchemaInvalid, "invalid tool name %q", spec.Name)
	}
	if exec == nil {
		return nil, dderr.New(dderr.CodeToolSchemaInvalid, "tool executor is required", dderr.FieldTool(spec.Name))
	}
	if spec.Schema == nil {
		spec.Schema = map[string]any{"type": "object"}
	}

	compiled, err := compileSchema(spec.Name, spec.Schema)
	if err != nil {
		return nil, err
	}

	return &Descriptor{
		spec:     spec,
		compiled: compiled,
		invoke: func(ctx context.Context, tc Context, raw json.RawMessage) (integration.Result, error) {
			var in T
			dec := json.NewDecoder(bytes.NewReader(raw))
			if err := dec.Decode(&in); err != nil {
				return integration.Result{}, dderr.Wrapf(err, dderr.CodeToolInputInvalid, "decoding %s input", spec.Name)
			}
			return exec(ctx, tc, in)
		},
	}, nil
}

// MustNew is New for the static catalog, where a bad descriptor is a
// programming error.
func MustNew[T any](spec Spec, exec Executor[T]) *Descriptor {
	d, err := New(spec, exec)
	if err != nil {
		panic(err)
	}
	return d
}

func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	// Round-trip so Go slices and typed maps become the generic JSON values
	// the compiler expects.
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, dderr.Wrapf(err, dderr.CodeToolSchemaInvalid, "encoding %s schema", name)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, dderr.Wrapf(err, dderr.CodeToolSchemaInvalid, "decoding %s schema", name)
	}

	url := name + ".schema.json"
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, dderr.Wrapf(err, dderr.CodeToolSchemaInvalid, "adding %s schema", name)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, dderr.Wrapf(err, dderr.CodeToolSchemaInvalid, "compiling %s schema", name)
	}
	return compiled, nil
}

func (d *Descriptor) Name() string { return d.spec.Name }
func (d *Descriptor) Description() string { return d.spec.Description }
func (d *Descriptor) RequiresApproval() bool { return d.spec.RequiresApproval }

// InputSchema returns the schema offered to the model.
func (d *Descriptor) InputSchema() map[string]any { return d.spec.Schema }

// Configured reports whether the tool can currently serve calls.
func (d *Descriptor) Configured() bool {
	if d.spec.Configured == nil {
		return true
	}
	return d.spec.Configured()
}

// Validate checks raw arguments against the schema. Empty input is treated
// as an empty object.
func (d *Descriptor) Validate(raw json.RawMessage) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{}`)
	}
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return dderr.Wrapf(err, dderr.CodeToolInputInvalid, "%s arguments are not valid JSON", d.spec.Name)
	}
	if err := d.compiled.Validate(v); err != nil {
		return dderr.Wrapf(err, dderr.CodeToolInputInvalid, "%s arguments do not match schema", d.spec.Name)
	}
	return nil
}

// Execute validates raw, decodes it and runs the executor.
func (d *Descriptor) Execute(ctx context.Context, tc Context, raw json.RawMessage) (integration.Result, error) {
	if err := d.Validate(raw); err != nil {
		return integration.Result{}, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{}`)
	}
	return d.invoke(ctx, tc, raw)
}
