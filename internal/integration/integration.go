// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

// Package integration defines the external adapters that tool executors
// call: mail, calendar, contact directory and company research. Every
// adapter answers with the same Result shape so the agent loop can treat
// all tool failures identically.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Result is the uniform adapter response.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Success wraps data in an OK result. A value that cannot be marshalled
// yields a failure instead.
func Success(data any) Result {
	if data == nil {
		return Result{OK: true}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Failure("encoding result: %v", err)
	}
	return Result{OK: true, Data: raw}
}

// Failure builds a failed result with a formatted message.
func Failure(format string, args ...any) Result {
	return Result{OK: false, Error: fmt.Sprintf(format, args...)}
}

// JSON renders r for the model context.
func (r Result) JSON() string {
	raw, err := json.Marshal(r)
	if err != nil {
		return `{"ok":false,"error":"unencodable result"}`
	}
	return string(raw)
}

// Email is an outbound message.
type Email struct {
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	ContactID string `json:"contact_id,omitempty"`
	SentBy    string `json:"sent_by"`
}

// Meeting is a calendar booking request.
type Meeting struct {
	Title     string    `json:"title"`
	Start     time.Time `json:"start"`
	Minutes   int       `json:"duration_minutes"`
	Attendees []string  `json:"attendees"`
	ContactID string    `json:"contact_id,omitempty"`
	Organizer string    `json:"organizer"`
}

// ContactQuery searches the contact directory.
type ContactQuery struct {
	Query     string `json:"query"`
	AccountID string `json:"account_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// Adapter is implemented by every integration.
type Adapter interface {
	// Configured reports whether the adapter has what it needs to make
	// calls, such as an endpoint and credentials.
	Configured() bool
}

type MailSender interface {
	Adapter
	SendEmail(ctx context.Context, email Email) Result
}

type Calendar interface {
	Adapter
	BookMeeting(ctx context.Context, meeting Meeting) Result
}

type ContactDirectory interface {
	Adapter
	SearchContacts(ctx context.Context, q ContactQuery) Result
	EnrichContact(ctx context.Context, contactID string) Result
}

type Research interface {
	Adapter
	ResearchCompany(ctx context.Context, domain string) Result
}

// Set groups the adapters a deployment has. Nil members are treated as
// unconfigured.
type Set struct {
	Mail     MailSender
	Calendar Calendar
	Contacts ContactDirectory
	Research Research
}

// IsConfigured reports whether a is non-nil and configured.
func IsConfigured(a Adapter) bool {
	if a == nil {
		return false
	}
	return a.Configured()
}
