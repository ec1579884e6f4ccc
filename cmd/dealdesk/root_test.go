// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/dealdesk-dev/dealdesk/internal/auth"
	"github.com/dealdesk-dev/dealdesk/internal/classifier"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

// isolate points HOME at a temp dir so config discovery and bootstrap never
// touch the real one.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)

	err := root.Execute()
	return buf.String(), err
}

// testConfig writes a config with a temp sqlite database. extra is appended
// as additional top-level sections.
func testConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`storage:
  backend: sqlite
  path: %s
providers:
  anthropic:
    api_key: sk-test
logging:
  level: error
`, filepath.Join(dir, "dealdesk.db")) + extra

	path := filepath.Join(dir, "dealdesk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRootCommandHelp(t *testing.T) {
	isolate(t)

	out, err := execute(t, "--help")
	require.NoError(t, err)
	for _, sub := range []string{"serve", "policy", "approvals", "accounts", "keys", "doctor", "secret", "version", "--config"} {
		assert.Contains(t, out, sub)
	}
}

func TestVersionCommand(t *testing.T) {
	isolate(t)

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "dealdesk dev")
}

func TestMissingConfigFile(t *testing.T) {
	isolate(t)

	_, err := execute(t, "version", "--config", "/nonexistent/dealdesk.yaml")
	require.Error(t, err)
	assert.True(t, dderr.HasCode(err, dderr.CodeConfigLoadReadFailure))
}

func TestBootstrapWritesDefaultConfig(t *testing.T) {
	home := isolate(t)

	_, err := execute(t, "policy", "show")
	require.NoError(t, err)

	written, err := os.ReadFile(filepath.Join(home, ".config", "dealdesk", "dealdesk.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(written), "keyring://dealdesk/anthropic-api-key")
}

func TestPolicyShowAppliesConfig(t *testing.T) {
	isolate(t)
	cfg := testConfig(t, `classifier:
  drop_threshold: 0.8
  log_threshold: 0.5
  pii_policy:
    email: redact
`)

	out, err := execute(t, "policy", "show", "--config", cfg)
	require.NoError(t, err)

	var p classifier.Policy
	require.NoError(t, yaml.Unmarshal([]byte(out), &p))
	assert.InDelta(t, 0.8, p.DropThreshold, 1e-9)
	assert.InDelta(t, 0.5, p.LogThreshold, 1e-9)
	assert.Equal(t, classifier.PIIRedact, p.PII[classifier.CategoryEmail])
	assert.Equal(t, classifier.PIIRedact, p.PII[classifier.CategorySSN])
	assert.Equal(t, classifier.PIIFlag, p.PII[classifier.CategoryPhone])
}

func TestPolicyShowEnvOverride(t *testing.T) {
	isolate(t)
	t.Setenv("DEALDESK_CLASSIFIER_DROP_THRESHOLD", "0.95")

	out, err := execute(t, "policy", "show", "-o", "text", "--config", testConfig(t, ""))
	require.NoError(t, err)
	assert.Contains(t, out, "injection: drop >= 0.95")
}

func TestPolicyShowRejectsUnknownFormat(t *testing.T) {
	isolate(t)

	_, err := execute(t, "policy", "show", "-o", "xml", "--config", testConfig(t, ""))
	require.Error(t, err)
	assert.True(t, dderr.HasCode(err, dderr.CodeCLIInputInvalid))
}

func TestPolicyShowRejectsInvalidConfig(t *testing.T) {
	isolate(t)
	cfg := testConfig(t, "classifier:\n  drop_threshold: 0.2\n  log_threshold: 0.5\n")

	_, err := execute(t, "policy", "show", "--config", cfg)
	require.Error(t, err)
	assert.True(t, dderr.HasCode(err, dderr.CodeConfigValidateInvalidValue))
}

func TestKeysCreate(t *testing.T) {
	isolate(t)

	out, err := execute(t, "keys", "create", "--actor", "rep-1", "--name", "laptop", "--config", testConfig(t, ""))
	require.NoError(t, err)

	head, entry, ok := strings.Cut(out, "Add this entry under auth.keys:\n\n")
	require.True(t, ok, "output: %s", out)
	_, secret, ok := strings.Cut(strings.TrimSpace(head), "API key (shown once): ")
	require.True(t, ok)

	var entries []keyEntry
	require.NoError(t, yaml.Unmarshal([]byte(entry), &entries))
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "rep-1", e.Actor)
	assert.Equal(t, []string{auth.ScopeChat, auth.ScopeApprovals}, e.Scopes)
	assert.NotContains(t, entry, secret)

	authn, err := auth.NewKeyAuthenticator([]auth.Key{{
		Lookup: e.Lookup,
		Hash:   e.Hash,
		Actor:  e.Actor,
		Name:   e.Name,
		Scopes: e.Scopes,
	}}, 0)
	require.NoError(t, err)
	id, err := authn.Authenticate(context.Background(), secret)
	require.NoError(t, err)
	assert.Equal(t, "rep-1", id.Actor)
	assert.Equal(t, "laptop", id.Name)
}

func TestKeysCreateValidatesInput(t *testing.T) {
	isolate(t)
	cfg := testConfig(t, "")

	_, err := execute(t, "keys", "create", "--config", cfg)
	assert.Error(t, err, "actor is required")

	_, err = execute(t, "keys", "create", "--actor", "rep-1", "--scope", "admin", "--config", cfg)
	require.Error(t, err)
	assert.True(t, dderr.HasCode(err, dderr.CodeCLIInputInvalid))
}

func TestKeysToken(t *testing.T) {
	isolate(t)
	useSecretStore(t, newMockSecretStore())
	const secret = "0123456789abcdef0123456789abcdef"
	cfg := testConfig(t, "auth:\n  jwt:\n    secret: "+secret+"\n")

	out, err := execute(t, "keys", "token", "--actor", "rep-2", "--scope", "chat", "--config", cfg)
	require.NoError(t, err)

	verifier, err := auth.NewJWTAuthenticator(auth.JWTConfig{Secret: secret, Issuer: "dealdesk"})
	require.NoError(t, err)
	id, err := verifier.Authenticate(context.Background(), strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "rep-2", id.Actor)
	assert.True(t, id.Can(auth.ScopeChat))
	assert.False(t, id.Can(auth.ScopeApprovals))
}

func TestKeysTokenResolvesKeyringSecret(t *testing.T) {
	isolate(t)
	store := newMockSecretStore()
	store.data["jwt-secret"] = "fedcba9876543210fedcba9876543210"
	useSecretStore(t, store)
	cfg := testConfig(t, "auth:\n  jwt:\n    secret: keyring://dealdesk/jwt-secret\n")

	out, err := execute(t, "keys", "token", "--actor", "rep-3", "--config", cfg)
	require.NoError(t, err)

	verifier, err := auth.NewJWTAuthenticator(auth.JWTConfig{Secret: store.data["jwt-secret"], Issuer: "dealdesk"})
	require.NoError(t, err)
	_, err = verifier.Authenticate(context.Background(), strings.TrimSpace(out))
	assert.NoError(t, err)
}

func TestKeysTokenRequiresSecret(t *testing.T) {
	isolate(t)
	useSecretStore(t, newMockSecretStore())

	_, err := execute(t, "keys", "token", "--actor", "rep-1", "--config", testConfig(t, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.jwt.secret")
}
