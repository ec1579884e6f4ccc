// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

// Package prompt builds the per-turn system prompt and the facts the
// model may rely on for one conversation.
package prompt

import (
	"context"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/dealdesk-dev/dealdesk/internal/store"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

// DefaultTemplate frames the assistant's role. Deployments override it
// with prompt.template in config.
const DefaultTemplate = `You are a sales assistant working on behalf of {{.Actor}}.
Today is {{.Now.Format "Monday, January 2, 2006"}}.
{{- with .Account}}

Account: {{.Name}}
{{- if .Domain}}
Domain: {{.Domain}}
{{- end}}
{{- if .Industry}}
Industry: {{.Industry}}
{{- end}}
{{- if .Notes}}
Notes: {{.Notes}}
{{- end}}
{{- end}}
{{- if .Activity}}

Recent activity for this contact:
{{- range .Activity}}
- {{.CreatedAt.Format "2006-01-02"}} {{.Kind}}
{{- end}}
{{- end}}
{{- if .WorkflowStep}}

Current workflow step: {{.WorkflowStep}}
{{- end}}

Actions that send mail or book meetings are reviewed by a person before
they happen. Say so when you request one.`

const defaultActivityLimit = 5

// Request identifies what a turn is about.
type Request struct {
	Actor        string
	AccountID    string
	ContactID    string
	WorkflowStep string
}

// Context is the assembled result.
type Context struct {
	SystemPrompt string
	Account      *store.Account
	// Facts are flat key/values also exposed to tools and the audit log.
	Facts map[string]string
}

// Assembler produces the prompt context for a turn.
type Assembler interface {
	Assemble(ctx context.Context, req Request) (*Context, error)
}

// Config configures a TemplateAssembler.
type Config struct {
	Accounts store.AccountStore
	// Activity is optional; without it the prompt carries no history.
	Activity      store.ActivityStore
	Template      string
	ActivityLimit int
}

// TemplateAssembler renders a text/template over store records.
type TemplateAssembler struct {
	accounts      store.AccountStore
	activity      store.ActivityStore
	tmpl          *template.Template
	activityLimit int
	now           func() time.Time
}

// New parses cfg.Template (or DefaultTemplate).
func New(cfg Config) (*TemplateAssembler, error) {
	if cfg.Accounts == nil {
		return nil, dderr.New(dderr.CodePromptTemplateInvalid, "prompt assembler requires an account store")
	}
	text := cfg.Template
	if strings.TrimSpace(text) == "" {
		text = DefaultTemplate
	}
	tmpl, err := template.New("system").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, dderr.Wrap(err, dderr.CodePromptTemplateInvalid, "parsing system prompt template")
	}

	limit := cfg.ActivityLimit
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	return &TemplateAssembler{
		accounts:      cfg.Accounts,
		activity:      cfg.Activity,
		tmpl:          tmpl,
		activityLimit: limit,
		now:           time.Now,
	}, nil
}

// SetNowFunc overrides the clock. For tests.
func (a *TemplateAssembler) SetNowFunc(fn func() time.Time) { a.now = fn }

type templateData struct {
	Actor        string
	Now          time.Time
	Account      *store.Account
	Activity     []*store.Activity
	WorkflowStep string
}

// Assemble loads the referenced account and renders the prompt. An unknown
// account is reported as CodeAccountNotFound.
func (a *TemplateAssembler) Assemble(ctx context.Context, req Request) (*Context, error) {
	data := templateData{
		Actor:        req.Actor,
		Now:          a.now(),
		WorkflowStep: req.WorkflowStep,
	}
	facts := map[string]string{"actor": req.Actor}

	if req.AccountID != "" {
		acct, err := a.accounts.GetAccount(ctx, req.AccountID)
		switch {
		case dderr.IsNotFound(err):
			return nil, dderr.New(dderr.CodeAccountNotFound, "account not found", dderr.FieldAccountID(req.AccountID))
		case err != nil:
			return nil, dderr.Wrap(err, dderr.CodeAccountLookupFailure, "loading account", dderr.FieldAccountID(req.AccountID))
		}
		data.Account = acct
		facts["account_id"] = acct.ID
		facts["account_name"] = acct.Name
		if acct.Domain != "" {
			facts["account_domain"] = acct.Domain
		}
	}

	if req.ContactID != "" {
		facts["contact_id"] = req.ContactID
		if a.activity != nil {
			recent, err := a.activity.ListActivity(ctx, req.ContactID, a.activityLimit)
			if err != nil {
				// History is context, not a precondition.
				slog.Warn("loading contact activity failed",
					"contact_id", req.ContactID,
					"error", err,
				)
			}
			data.Activity = recent
		}
	}
	if req.WorkflowStep != "" {
		facts["workflow_step"] = req.WorkflowStep
	}

	var b strings.Builder
	if err := a.tmpl.Execute(&b, data); err != nil {
		return nil, dderr.Wrap(err, dderr.CodePromptRenderFailure, "rendering system prompt")
	}
	return &Context{
		SystemPrompt: strings.TrimSpace(b.String()),
		Account:      data.Account,
		Facts:        facts,
	}, nil
}
