// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package prompt_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealdesk-dev/dealdesk/internal/prompt"
	"github.com/dealdesk-dev/dealdesk/internal/store"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

type accounts map[string]*store.Account

func (a accounts) GetAccount(_ context.Context, id string) (*store.Account, error) {
	if id == "broken" {
		return nil, dderr.New(dderr.CodeStoreDatabaseFailure, "disk on fire")
	}
	acct, ok := a[id]
	if !ok {
		return nil, dderr.Wrap(store.ErrNotFound, dderr.CodeStoreNotFound, "account not found")
	}
	return acct, nil
}

func (a accounts) PutAccount(_ context.Context, acct *store.Account) error {
	a[acct.ID] = acct
	return nil
}

type activityLog struct {
	items []*store.Activity
	err   error
}

func (l *activityLog) AppendActivity(_ context.Context, a *store.Activity) error {
	l.items = append(l.items, a)
	return nil
}

func (l *activityLog) ListActivity(_ context.Context, _ string, limit int) ([]*store.Activity, error) {
	if l.err != nil {
		return nil, l.err
	}
	if len(l.items) > limit {
		return l.items[:limit], nil
	}
	return l.items, nil
}

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newAssembler(t *testing.T, cfg prompt.Config) *prompt.TemplateAssembler {
	t.Helper()
	if cfg.Accounts == nil {
		cfg.Accounts = accounts{
			"acme": {ID: "acme", Name: "Acme Corp", Domain: "acme.test", Industry: "Manufacturing"},
		}
	}
	a, err := prompt.New(cfg)
	require.NoError(t, err)
	a.SetNowFunc(func() time.Time { return fixedNow })
	return a
}

func TestAssembleWithAccount(t *testing.T) {
	a := newAssembler(t, prompt.Config{})

	got, err := a.Assemble(context.Background(), prompt.Request{Actor: "rep-1", AccountID: "acme", WorkflowStep: "discovery"})
	require.NoError(t, err)

	assert.Contains(t, got.SystemPrompt, "on behalf of rep-1")
	assert.Contains(t, got.SystemPrompt, "Monday, March 2, 2026")
	assert.Contains(t, got.SystemPrompt, "Account: Acme Corp")
	assert.Contains(t, got.SystemPrompt, "Industry: Manufacturing")
	assert.Contains(t, got.SystemPrompt, "Current workflow step: discovery")
	assert.NotContains(t, got.SystemPrompt, "Notes:")

	require.NotNil(t, got.Account)
	assert.Equal(t, map[string]string{
		"actor":          "rep-1",
		"account_id":     "acme",
		"account_name":   "Acme Corp",
		"account_domain": "acme.test",
		"workflow_step":  "discovery",
	}, got.Facts)
}

func TestAssembleWithoutAccount(t *testing.T) {
	a := newAssembler(t, prompt.Config{})

	got, err := a.Assemble(context.Background(), prompt.Request{Actor: "rep-1"})
	require.NoError(t, err)
	assert.Nil(t, got.Account)
	assert.NotContains(t, got.SystemPrompt, "Account:")
}

func TestAssembleUnknownAccount(t *testing.T) {
	a := newAssembler(t, prompt.Config{})

	_, err := a.Assemble(context.Background(), prompt.Request{Actor: "rep-1", AccountID: "globex"})
	require.Error(t, err)
	assert.True(t, dderr.HasCode(err, dderr.CodeAccountNotFound))
	assert.Equal(t, http.StatusNotFound, dderr.HTTPStatus(err))
}

func TestAssembleAccountLookupFailure(t *testing.T) {
	a := newAssembler(t, prompt.Config{})

	_, err := a.Assemble(context.Background(), prompt.Request{Actor: "rep-1", AccountID: "broken"})
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, dderr.HTTPStatus(err))
}

func TestAssembleIncludesRecentActivity(t *testing.T) {
	log := &activityLog{items: []*store.Activity{
		{Kind: store.ActivityWorkflowAdvanced, CreatedAt: fixedNow.Add(-48 * time.Hour)},
		{Kind: store.ActivityEngagement, CreatedAt: fixedNow.Add(-24 * time.Hour)},
		{Kind: store.ActivityEngagement, CreatedAt: fixedNow},
	}}
	a := newAssembler(t, prompt.Config{Activity: log, ActivityLimit: 2})

	got, err := a.Assemble(context.Background(), prompt.Request{Actor: "rep-1", ContactID: "c-1"})
	require.NoError(t, err)
	assert.Contains(t, got.SystemPrompt, "- 2026-02-28 workflow.advanced")
	assert.Contains(t, got.SystemPrompt, "- 2026-03-01 engagement.recorded")
	assert.NotContains(t, got.SystemPrompt, "2026-03-02 engagement")
	assert.Equal(t, "c-1", got.Facts["contact_id"])
}

func TestAssembleToleratesActivityFailure(t *testing.T) {
	a := newAssembler(t, prompt.Config{Activity: &activityLog{err: errors.New("timeout")}})

	got, err := a.Assemble(context.Background(), prompt.Request{Actor: "rep-1", ContactID: "c-1"})
	require.NoError(t, err)
	assert.NotContains(t, got.SystemPrompt, "Recent activity")
}

func TestCustomTemplate(t *testing.T) {
	a := newAssembler(t, prompt.Config{Template: "Helping {{.Actor}}{{with .Account}} with {{.Name}}{{end}}."})

	got, err := a.Assemble(context.Background(), prompt.Request{Actor: "rep-2", AccountID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, "Helping rep-2 with Acme Corp.", got.SystemPrompt)
}

func TestNewRejectsBadTemplate(t *testing.T) {
	_, err := prompt.New(prompt.Config{Accounts: accounts{}, Template: "{{.Actor"})
	require.Error(t, err)
	assert.True(t, dderr.HasCode(err, dderr.CodePromptTemplateInvalid))

	_, err = prompt.New(prompt.Config{})
	require.Error(t, err)
}

func TestRenderFailure(t *testing.T) {
	a := newAssembler(t, prompt.Config{Template: "{{.Missing}}"})

	_, err := a.Assemble(context.Background(), prompt.Request{Actor: "rep-1"})
	require.Error(t, err)
	assert.True(t, dderr.HasCode(err, dderr.CodePromptRenderFailure))
}
