// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package anthropic_test

import (
	"context"
	"testing"

	"github.com/dealdesk-dev/dealdesk/internal/provider"
	"github.com/dealdesk-dev/dealdesk/internal/provider/anthropic"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ provider.Provider = (*anthropic.Provider)(nil)

func TestAnthropicProvider_MissingAPIKey(t *testing.T) {
	_, err := anthropic.New(anthropic.Config{})
	require.Error(t, err)
	assert.True(t, dderr.HasCode(err, dderr.CodeProviderRequestInvalid))
}

func TestAnthropicProvider_Basics(t *testing.T) {
	p := mustNewProvider(t)
	ctx := context.Background()

	assert.Equal(t, "anthropic", p.Name())
	assert.True(t, p.Available(ctx))
	assert.True(t, p.Health().Available)
	assert.NoError(t, p.Close())

	models, err := p.ListModels(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, models)
	for _, m := range models {
		assert.Equal(t, "anthropic", m.Provider)
		assert.True(t, m.Capabilities.SupportsTools, "model %s must support tools", m.ID)
	}
}

func TestConvertMessages_GroupsToolResults(t *testing.T) {
	msgs := []provider.Message{
		{Role: provider.MessageRoleSystem, Content: "ignored"},
		{Role: provider.MessageRoleUser, Content: "find Acme contacts and research them"},
		{Role: provider.MessageRoleAssistant, Content: "On it.", ToolCalls: []provider.ToolCall{
			{ID: "tc-1", Name: "search_contacts", Arguments: `{"query":"Acme"}`},
			{ID: "tc-2", Name: "research_company", Arguments: `{"domain":"acme.test"}`},
		}},
		{Role: provider.MessageRoleTool, ToolCallID: "tc-1", ToolName: "search_contacts", Content: `{"ok":true}`},
		{Role: provider.MessageRoleTool, ToolCallID: "tc-2", ToolName: "research_company", Content: `{"ok":true}`},
		{Role: provider.MessageRoleAssistant, Content: "Done."},
	}

	out, err := anthropic.ConvertMessages(msgs)
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Len(t, out[1].Content, 3, "assistant turn carries text plus two tool_use blocks")
	assert.Len(t, out[2].Content, 2, "both tool results share one user turn")
}

func TestConvertMessages_UnknownRole(t *testing.T) {
	_, err := anthropic.ConvertMessages([]provider.Message{{Role: "narrator", Content: "x"}})
	require.Error(t, err)
	assert.True(t, dderr.IsInvalidInput(err))
}

func mustNewProvider(t *testing.T) *anthropic.Provider {
	t.Helper()
	p, err := anthropic.New(anthropic.Config{APIKey: "test-key-not-real"})
	require.NoError(t, err)
	return p
}
