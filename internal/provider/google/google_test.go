// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package google_test

import (
	"context"
	"testing"

	"github.com/dealdesk-dev/dealdesk/internal/provider"
	"github.com/dealdesk-dev/dealdesk/internal/provider/google"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ provider.Provider = (*google.Provider)(nil)

func TestGoogleProvider_MissingAPIKey(t *testing.T) {
	_, err := google.New(google.Config{})
	require.Error(t, err)
	assert.True(t, dderr.HasCode(err, dderr.CodeProviderRequestInvalid))
}

func TestGoogleProvider_Basics(t *testing.T) {
	p := mustNewProvider(t)
	ctx := context.Background()

	assert.Equal(t, "google", p.Name())
	assert.True(t, p.Available(ctx))
	assert.NoError(t, p.Close())

	models, err := p.ListModels(ctx)
	require.NoError(t, err)
	for _, m := range models {
		assert.Equal(t, "google", m.Provider)
	}
}

func TestConvertMessages_FunctionCallsAndResponses(t *testing.T) {
	msgs := []provider.Message{
		{Role: provider.MessageRoleSystem, Content: "skipped"},
		{Role: provider.MessageRoleUser, Content: "research acme.test"},
		{Role: provider.MessageRoleAssistant, ToolCalls: []provider.ToolCall{
			{ID: "fc-1", Name: "research_company", Arguments: `{"domain":"acme.test"}`},
		}},
		{Role: provider.MessageRoleTool, ToolCallID: "fc-1", ToolName: "research_company", Content: `{"ok":true}`},
	}

	out, err := google.ConvertMessages(msgs)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, "model", out[1].Role)
	require.NotNil(t, out[1].Parts[0].FunctionCall)
	assert.Equal(t, "acme.test", out[1].Parts[0].FunctionCall.Args["domain"])

	require.NotNil(t, out[2].Parts[0].FunctionResponse)
	assert.Equal(t, "research_company", out[2].Parts[0].FunctionResponse.Name)
	assert.Equal(t, "fc-1", out[2].Parts[0].FunctionResponse.ID)
}

func TestConvertMessages_BadArguments(t *testing.T) {
	_, err := google.ConvertMessages([]provider.Message{
		{Role: provider.MessageRoleAssistant, ToolCalls: []provider.ToolCall{{ID: "x", Name: "log_note", Arguments: "{not json"}}},
	})
	require.Error(t, err)
	assert.True(t, dderr.IsInvalidInput(err))
}

func mustNewProvider(t *testing.T) *google.Provider {
	t.Helper()
	p, err := google.New(google.Config{APIKey: "test-key-not-real"})
	require.NoError(t, err)
	return p
}
