// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package integration_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealdesk-dev/dealdesk/internal/integration"
)

func TestWebhookConfigured(t *testing.T) {
	assert.False(t, integration.NewWebhook(integration.WebhookConfig{Name: "mail"}).Configured())
	assert.False(t, integration.NewWebhook(integration.WebhookConfig{Name: "mail", URL: "http://x"}).Configured())
	assert.True(t, integration.NewWebhook(integration.WebhookConfig{Name: "mail", URL: "http://x", APIKey: "k"}).Configured())

	assert.False(t, integration.IsConfigured(nil))
}

func TestWebhookSendEmail(t *testing.T) {
	var got integration.Email
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/email/send", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"data":{"message_id":"m-1"}}`))
	}))
	t.Cleanup(srv.Close)

	wh := integration.NewWebhook(integration.WebhookConfig{Name: "mail", URL: srv.URL + "/", APIKey: "secret"})
	res := wh.SendEmail(context.Background(), integration.Email{To: "a@b.co", Subject: "Hi", Body: "Hello", SentBy: "user-1"})

	require.True(t, res.OK, res.Error)
	assert.JSONEq(t, `{"message_id":"m-1"}`, string(res.Data))
	assert.Equal(t, "a@b.co", got.To)
	assert.Equal(t, "user-1", got.SentBy)
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"ok":false,"error":"smtp relay down"}`))
	}))
	t.Cleanup(srv.Close)

	wh := integration.NewWebhook(integration.WebhookConfig{Name: "mail", URL: srv.URL, APIKey: "k"})
	res := wh.SendEmail(context.Background(), integration.Email{To: "a@b.co"})
	assert.False(t, res.OK)
	assert.Equal(t, "smtp relay down", res.Error)
}

func TestWebhookErrorStatusWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	wh := integration.NewWebhook(integration.WebhookConfig{Name: "research", URL: srv.URL, APIKey: "k"})
	res := wh.ResearchCompany(context.Background(), "acme.com")
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "HTTP 500")
}

func TestWebhookMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	t.Cleanup(srv.Close)

	wh := integration.NewWebhook(integration.WebhookConfig{Name: "contacts", URL: srv.URL, APIKey: "k"})
	res := wh.SearchContacts(context.Background(), integration.ContactQuery{Query: "jane"})
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "decoding contacts response")
}

func TestWebhookUnconfiguredNeverCalls(t *testing.T) {
	res := integration.NewWebhook(integration.WebhookConfig{Name: "calendar"}).BookMeeting(context.Background(), integration.Meeting{})
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "not configured")
}

func TestResultHelpers(t *testing.T) {
	ok := integration.Success(map[string]int{"n": 1})
	assert.True(t, ok.OK)
	assert.JSONEq(t, `{"ok":true,"data":{"n":1}}`, ok.JSON())

	fail := integration.Failure("boom %d", 7)
	assert.JSONEq(t, `{"ok":false,"error":"boom 7"}`, fail.JSON())
}
