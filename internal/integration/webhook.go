// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultWebhookTimeout = 15 * time.Second
	maxResponseBytes      = 1 << 20
)

// WebhookConfig points an adapter at an HTTP JSON endpoint.
type WebhookConfig struct {
	// Name labels the integration in logs.
	Name    string
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Webhook is an adapter that POSTs JSON to a customer-operated endpoint and
// reads a Result back. One value implements every adapter interface; each
// operation uses its own path under URL.
type Webhook struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

var (
	_ MailSender       = (*Webhook)(nil)
	_ Calendar         = (*Webhook)(nil)
	_ ContactDirectory = (*Webhook)(nil)
	_ Research         = (*Webhook)(nil)
)

// NewWebhook returns an adapter for cfg. An empty URL or key yields an
// adapter whose Configured reports false.
func NewWebhook(cfg WebhookConfig) *Webhook {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &Webhook{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (w *Webhook) Configured() bool {
	return w.baseURL != "" && w.apiKey != ""
}

func (w *Webhook) SendEmail(ctx context.Context, email Email) Result {
	return w.post(ctx, "/email/send", email)
}

func (w *Webhook) BookMeeting(ctx context.Context, meeting Meeting) Result {
	return w.post(ctx, "/calendar/book", meeting)
}

func (w *Webhook) SearchContacts(ctx context.Context, q ContactQuery) Result {
	return w.post(ctx, "/contacts/search", q)
}

func (w *Webhook) EnrichContact(ctx context.Context, contactID string) Result {
	return w.post(ctx, "/contacts/enrich", map[string]string{"contact_id": contactID})
}

func (w *Webhook) ResearchCompany(ctx context.Context, domain string) Result {
	return w.post(ctx, "/research/company", map[string]string{"domain": domain})
}

// post never returns a Go error: transport and protocol failures become a
// failed Result so callers see one shape.
func (w *Webhook) post(ctx context.Context, path string, payload any) Result {
	if !w.Configured() {
		return Failure("%s integration is not configured", w.name)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Failure("encoding %s request: %v", w.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Failure("building %s request: %v", w.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.apiKey)

	resp, err := w.client.Do(req)
	if err != nil {
		slog.Warn("integration request failed", "integration", w.name, "path", path, "error", err)
		return Failure("%s request failed: %v", w.name, err)
	}
	defer resp.Body.Close() //nolint:errcheck // response body close error is not actionable

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Failure("reading %s response: %v", w.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("integration returned error status",
			"integration", w.name,
			"path", path,
			"status", resp.StatusCode,
		)
		var res Result
		if json.Unmarshal(raw, &res) == nil && res.Error != "" {
			return Result{OK: false, Error: res.Error}
		}
		return Failure("%s returned HTTP %d", w.name, resp.StatusCode)
	}

	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return Failure("decoding %s response: %v", w.name, err)
	}
	if !res.OK && res.Error == "" {
		res.Error = w.name + " reported failure without detail"
	}
	return res
}
