// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package provider

import (
	"context"
	"io"
	"net/http"

	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

// ProviderName identifies a supported LLM provider for key validation.
type ProviderName string

const (
	ProviderAnthropic ProviderName = "anthropic"
	ProviderOpenAI    ProviderName = "openai"
	ProviderGoogle    ProviderName = "google"
)

// ValidateKey makes a lightweight call to the provider's models endpoint
// to confirm the API key is accepted. A non-empty baseURL replaces the
// provider's public endpoint.
func ValidateKey(ctx context.Context, client *http.Client, name ProviderName, key, baseURL string) error {
	var (
		url     string
		headers = map[string]string{}
	)

	switch name {
	case ProviderAnthropic:
		url = "https://api.anthropic.com/v1/models"
		headers["x-api-key"] = key
		headers["anthropic-version"] = "2023-06-01"
	case ProviderOpenAI:
		url = "https://api.openai.com/v1/models"
		headers["Authorization"] = "Bearer " + key
	case ProviderGoogle:
		// Gemini authenticates with a query parameter.
		url = "https://generativelanguage.googleapis.com/v1/models?key=" + key
	default:
		return dderr.Errorf(dderr.CodeProviderRequestInvalid, "unknown provider: %s", name)
	}
	if baseURL != "" {
		url = baseURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return dderr.Wrapf(err, dderr.CodeProviderKeyCheckFailed, "building %s validation request", name)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return dderr.Wrapf(err, dderr.CodeProviderKeyCheckFailed, "validating %s key", name)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return dderr.Errorf(dderr.CodeProviderKeyInvalid, "invalid %s API key (HTTP %d)", name, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return dderr.Errorf(dderr.CodeProviderKeyCheckFailed, "%s validation failed (HTTP %d)", name, resp.StatusCode)
	}
	return nil
}
