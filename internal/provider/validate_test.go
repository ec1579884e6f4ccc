// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateKey_Headers(t *testing.T) {
	tests := []struct {
		name   string
		prov   ProviderName
		header string
		want   string
	}{
		{name: "anthropic", prov: ProviderAnthropic, header: "x-api-key", want: "k-1"},
		{name: "openai", prov: ProviderOpenAI, header: "Authorization", want: "Bearer k-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.want, r.Header.Get(tt.header))
				w.WriteHeader(http.StatusOK)
			}))
			defer srv.Close()

			require.NoError(t, ValidateKey(context.Background(), srv.Client(), tt.prov, "k-1", srv.URL))
		})
	}
}

func TestValidateKey_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantCode dderr.Code
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, wantCode: dderr.CodeProviderKeyInvalid},
		{name: "forbidden", status: http.StatusForbidden, wantCode: dderr.CodeProviderKeyInvalid},
		{name: "server error", status: http.StatusInternalServerError, wantCode: dderr.CodeProviderKeyCheckFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := ValidateKey(context.Background(), srv.Client(), ProviderGoogle, "k-1", srv.URL)
			require.Error(t, err)
			assert.True(t, dderr.HasCode(err, tt.wantCode))
		})
	}
}

func TestValidateKey_UnknownProvider(t *testing.T) {
	err := ValidateKey(context.Background(), http.DefaultClient, "mistral", "k-1", "")
	require.Error(t, err)
	assert.True(t, dderr.IsInvalidInput(err))
}
