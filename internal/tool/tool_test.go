// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package tool_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealdesk-dev/dealdesk/internal/integration"
	"github.com/dealdesk-dev/dealdesk/internal/tool"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

type greetInput struct {
	Name  string `json:"name"`
	Times int    `json:"times"`
}

var greetSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"name":  map[string]any{"type": "string", "minLength": 1},
		"times": map[string]any{"type": "integer", "minimum": 1},
	},
	"required":             []string{"name"},
	"additionalProperties": false,
}

func greet(t *testing.T, configured bool, gated bool) *tool.Descriptor {
	t.Helper()
	d, err := tool.New(tool.Spec{
		Name:             "greet",
		Description:      "Greets someone.",
		Schema:           greetSchema,
		RequiresApproval: gated,
		Configured:       func() bool { return configured },
	}, func(_ context.Context, tc tool.Context, in greetInput) (integration.Result, error) {
		return integration.Success(map[string]any{"greeting": "hi " + in.Name, "by": tc.Actor, "times": in.Times}), nil
	})
	require.NoError(t, err)
	return d
}

func named(t *testing.T, name string, configured bool) *tool.Descriptor {
	t.Helper()
	return tool.MustNew(tool.Spec{Name: name, Configured: func() bool { return configured }},
		func(context.Context, tool.Context, struct{}) (integration.Result, error) {
			return integration.Success(nil), nil
		})
}

func TestNewRejectsBadDescriptors(t *testing.T) {
	exec := func(context.Context, tool.Context, struct{}) (integration.Result, error) { return integration.Result{}, nil }

	_, err := tool.New(tool.Spec{Name: "Bad Name"}, exec)
	assert.True(t, dderr.HasCode(err, dderr.CodeToolSchemaInvalid))

	_, err = tool.New[struct{}](tool.Spec{Name: "ok"}, nil)
	assert.Error(t, err)

	_, err = tool.New(tool.Spec{Name: "ok", Schema: map[string]any{"type": 42}}, exec)
	assert.True(t, dderr.HasCode(err, dderr.CodeToolSchemaInvalid))
}

func TestExecuteValidatesAndDecodes(t *testing.T) {
	d := greet(t, true, false)
	tc := tool.Context{Actor: "user-1"}

	res, err := d.Execute(context.Background(), tc, json.RawMessage(`{"name":"Ada","times":2}`))
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.JSONEq(t, `{"greeting":"hi Ada","by":"user-1","times":2}`, string(res.Data))

	tests := []struct {
		name string
		raw  string
	}{
		{"missing required", `{}`},
		{"wrong type", `{"name":7}`},
		{"extra field", `{"name":"Ada","admin":true}`},
		{"below minimum", `{"name":"Ada","times":0}`},
		{"not json", `{"name":`},
		{"empty input", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Execute(context.Background(), tc, json.RawMessage(tt.raw))
			require.Error(t, err)
			assert.True(t, dderr.HasCode(err, dderr.CodeToolInputInvalid), "got %v", dderr.CodeOf(err))
		})
	}
}

func TestExecuteEmptyInputForOptionalSchema(t *testing.T) {
	d := named(t, "ping", true)
	res, err := d.Execute(context.Background(), tool.Context{}, nil)
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestCatalogRejectsDuplicates(t *testing.T) {
	_, err := tool.NewCatalog(named(t, "a", true), named(t, "a", true))
	assert.True(t, dderr.HasCode(err, dderr.CodeToolDuplicate))
}

func TestSnapshotIntersectsCatalogAllowlistAndConfiguration(t *testing.T) {
	cat, err := tool.NewCatalog(
		named(t, "search_contacts", true),
		named(t, "send_email", false),
		named(t, "research_company", true),
	)
	require.NoError(t, err)

	reg := cat.Snapshot([]string{"search_contacts", "send_email", "not_implemented"})
	assert.Equal(t, []string{"search_contacts"}, reg.Names())

	_, ok := reg.Lookup("send_email")
	assert.False(t, ok, "unconfigured tools must not be offered")
	_, ok = reg.Lookup("research_company")
	assert.False(t, ok, "tools outside the allowlist must not be offered")

	defs := reg.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "search_contacts", defs[0].Name)

	assert.Equal(t, []string{"research_company", "search_contacts"}, cat.Snapshot([]string{tool.AllowAll}).Names())
	assert.Zero(t, cat.Snapshot(nil).Len())

	_, ok = cat.Lookup("send_email")
	assert.True(t, ok, "catalog lookup ignores configuration")
}

func TestSnapshotIsFixedForTheTurn(t *testing.T) {
	var configured atomic.Bool
	configured.Store(true)
	d := tool.MustNew(tool.Spec{Name: "flaky", Configured: configured.Load},
		func(context.Context, tool.Context, struct{}) (integration.Result, error) { return integration.Success(nil), nil })
	cat, err := tool.NewCatalog(d)
	require.NoError(t, err)

	reg := cat.Snapshot([]string{tool.AllowAll})
	configured.Store(false)

	assert.Equal(t, []string{"flaky"}, reg.Names())
	assert.Zero(t, cat.Snapshot([]string{tool.AllowAll}).Len())
}

func TestDefinitionsMarkGatedTools(t *testing.T) {
	cat, err := tool.NewCatalog(greet(t, true, true))
	require.NoError(t, err)

	defs := cat.Snapshot([]string{"greet"}).Definitions()
	require.Len(t, defs, 1)
	assert.Contains(t, defs[0].Description, "human approval")
	assert.Equal(t, "object", defs[0].InputSchema["type"])
}

func TestContextMapRoundTrip(t *testing.T) {
	tc := tool.Context{Actor: "user-1", ConversationID: "c-1", AccountID: "acct-1", WorkflowStep: "intro"}
	m := tc.Map()
	assert.NotContains(t, m, "contact_id")
	assert.Equal(t, tc, tool.ContextFromMap(m))
}

func TestBookkeepingSwallowsFailuresAndSurvivesCancel(t *testing.T) {
	bk := tool.NewBookkeeping(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Int32
	var sawCancel atomic.Bool
	bk.Go(ctx, "fails", func(context.Context) error {
		ran.Add(1)
		return errors.New("write failed")
	})
	bk.Go(ctx, "checks ctx", func(runCtx context.Context) error {
		ran.Add(1)
		sawCancel.Store(runCtx.Err() != nil)
		return nil
	})
	bk.Go(ctx, "panics", func(context.Context) error {
		ran.Add(1)
		panic("boom")
	})
	bk.Wait()

	assert.EqualValues(t, 3, ran.Load())
	assert.False(t, sawCancel.Load())
}
