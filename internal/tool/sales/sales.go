// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

// Package sales defines the tools the sales assistant offers: outreach,
// scheduling, contact lookup and company research.
package sales

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dealdesk-dev/dealdesk/internal/integration"
	"github.com/dealdesk-dev/dealdesk/internal/store"
	"github.com/dealdesk-dev/dealdesk/internal/tool"
)

// Tool names.
const (
	SendEmail       = "send_email"
	BookMeeting     = "book_meeting"
	SearchContacts  = "search_contacts"
	EnrichContact   = "enrich_contact"
	ResearchCompany = "research_company"
	LogNote         = "log_note"
)

// Deps are the collaborators the sales tools call.
type Deps struct {
	Integrations integration.Set
	Activity     store.ActivityStore
	Bookkeeping  *tool.Bookkeeping
	Now          func() time.Time
}

// Catalog builds the full sales tool catalog.
func Catalog(deps Deps) (*tool.Catalog, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Bookkeeping == nil {
		deps.Bookkeeping = tool.NewBookkeeping(0)
	}
	t := &tools{deps: deps}

	return tool.NewCatalog(
		tool.MustNew(tool.Spec{
			Name:             SendEmail,
			Description:      "Send an email to a contact on behalf of the user.",
			Schema:           sendEmailSchema,
			RequiresApproval: true,
			Configured:       func() bool { return integration.IsConfigured(deps.Integrations.Mail) },
		}, t.sendEmail),
		tool.MustNew(tool.Spec{
			Name:             BookMeeting,
			Description:      "Book a meeting on the user's calendar and invite attendees.",
			Schema:           bookMeetingSchema,
			RequiresApproval: true,
			Configured:       func() bool { return integration.IsConfigured(deps.Integrations.Calendar) },
		}, t.bookMeeting),
		tool.MustNew(tool.Spec{
			Name:        SearchContacts,
			Description: "Search the contact directory by name, company or title.",
			Schema:      searchContactsSchema,
			Configured:  func() bool { return integration.IsConfigured(deps.Integrations.Contacts) },
		}, t.searchContacts),
		tool.MustNew(tool.Spec{
			Name:        EnrichContact,
			Description: "Fetch enriched profile data for a contact. Defaults to the contact in focus.",
			Schema:      enrichContactSchema,
			Configured:  func() bool { return integration.IsConfigured(deps.Integrations.Contacts) },
		}, t.enrichContact),
		tool.MustNew(tool.Spec{
			Name:        ResearchCompany,
			Description: "Look up public information about a company by its web domain.",
			Schema:      researchCompanySchema,
			Configured:  func() bool { return integration.IsConfigured(deps.Integrations.Research) },
		}, t.researchCompany),
		tool.MustNew(tool.Spec{
			Name:        LogNote,
			Description: "Record a note on a contact's activity timeline.",
			Schema:      logNoteSchema,
			Configured:  func() bool { return deps.Activity != nil },
		}, t.logNote),
	)
}

type tools struct {
	deps Deps
}

type sendEmailInput struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (t *tools) sendEmail(ctx context.Context, tc tool.Context, in sendEmailInput) (integration.Result, error) {
	res := t.deps.Integrations.Mail.SendEmail(ctx, integration.Email{
		To:        in.To,
		Subject:   in.Subject,
		Body:      in.Body,
		ContactID: tc.ContactID,
		SentBy:    tc.Actor,
	})
	if res.OK {
		t.advanceWorkflow(ctx, tc, SendEmail)
		t.recordEngagement(ctx, tc, "email_sent", map[string]any{"subject": in.Subject})
	}
	return res, nil
}

type bookMeetingInput struct {
	Title     string    `json:"title"`
	Start     time.Time `json:"start"`
	Minutes   int       `json:"duration_minutes"`
	Attendees []string  `json:"attendees"`
}

func (t *tools) bookMeeting(ctx context.Context, tc tool.Context, in bookMeetingInput) (integration.Result, error) {
	if !in.Start.After(t.deps.Now()) {
		return integration.Failure("meeting start %s is in the past", in.Start.Format(time.RFC3339)), nil
	}
	minutes := in.Minutes
	if minutes == 0 {
		minutes = 30
	}

	res := t.deps.Integrations.Calendar.BookMeeting(ctx, integration.Meeting{
		Title:     in.Title,
		Start:     in.Start,
		Minutes:   minutes,
		Attendees: in.Attendees,
		ContactID: tc.ContactID,
		Organizer: tc.Actor,
	})
	if res.OK {
		t.advanceWorkflow(ctx, tc, BookMeeting)
		t.recordEngagement(ctx, tc, "meeting_booked", map[string]any{"start": in.Start.Format(time.RFC3339)})
	}
	return res, nil
}

type searchContactsInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (t *tools) searchContacts(ctx context.Context, tc tool.Context, in searchContactsInput) (integration.Result, error) {
	limit := in.Limit
	if limit == 0 {
		limit = 10
	}
	return t.deps.Integrations.Contacts.SearchContacts(ctx, integration.ContactQuery{
		Query:     in.Query,
		AccountID: tc.AccountID,
		Limit:     limit,
	}), nil
}

type enrichContactInput struct {
	ContactID string `json:"contact_id"`
}

func (t *tools) enrichContact(ctx context.Context, tc tool.Context, in enrichContactInput) (integration.Result, error) {
	id := in.ContactID
	if id == "" {
		id = tc.ContactID
	}
	if id == "" {
		return integration.Failure("no contact_id given and no contact is in focus"), nil
	}
	return t.deps.Integrations.Contacts.EnrichContact(ctx, id), nil
}

type researchCompanyInput struct {
	Domain string `json:"domain"`
}

func (t *tools) researchCompany(ctx context.Context, _ tool.Context, in researchCompanyInput) (integration.Result, error) {
	return t.deps.Integrations.Research.ResearchCompany(ctx, in.Domain), nil
}

type logNoteInput struct {
	ContactID string `json:"contact_id"`
	Note      string `json:"note"`
}

func (t *tools) logNote(ctx context.Context, tc tool.Context, in logNoteInput) (integration.Result, error) {
	id := in.ContactID
	if id == "" {
		id = tc.ContactID
	}
	if id == "" {
		return integration.Failure("no contact_id given and no contact is in focus"), nil
	}

	a := &store.Activity{
		ID:        uuid.NewString(),
		ActorRef:  tc.Actor,
		ContactID: id,
		Kind:      "note",
		Details:   map[string]any{"note": in.Note},
		CreatedAt: t.deps.Now(),
	}
	if err := t.deps.Activity.AppendActivity(ctx, a); err != nil {
		return integration.Result{}, err
	}
	return integration.Success(map[string]string{"activity_id": a.ID}), nil
}

// advanceWorkflow records that the contact moved past its current workflow
// step. It is bookkeeping: the primary action already happened.
func (t *tools) advanceWorkflow(ctx context.Context, tc tool.Context, via string) {
	if tc.ContactID == "" || tc.WorkflowStep == "" || t.deps.Activity == nil {
		return
	}
	t.deps.Bookkeeping.Go(ctx, "workflow_advance", func(ctx context.Context) error {
		return t.deps.Activity.AppendActivity(ctx, &store.Activity{
			ID:        uuid.NewString(),
			ActorRef:  tc.Actor,
			ContactID: tc.ContactID,
			Kind:      store.ActivityWorkflowAdvanced,
			Details:   map[string]any{"from_step": tc.WorkflowStep, "via": via},
			CreatedAt: t.deps.Now(),
		})
	})
}

func (t *tools) recordEngagement(ctx context.Context, tc tool.Context, event string, details map[string]any) {
	if tc.ContactID == "" || t.deps.Activity == nil {
		return
	}
	details["event"] = event
	t.deps.Bookkeeping.Go(ctx, "engagement", func(ctx context.Context) error {
		return t.deps.Activity.AppendActivity(ctx, &store.Activity{
			ID:        uuid.NewString(),
			ActorRef:  tc.Actor,
			ContactID: tc.ContactID,
			Kind:      store.ActivityEngagement,
			Details:   details,
			CreatedAt: t.deps.Now(),
		})
	})
}
