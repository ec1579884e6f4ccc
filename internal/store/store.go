// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package store

import (
	"context"
	"encoding/json"
	"time"
)

// Store bundles the persistence the chat pipeline needs. Backends register
// a Factory under a name and callers obtain a Store through Open.
type Store interface {
	Audit() AuditStore
	Steps() StepStore
	Approvals() ApprovalStore
	Accounts() AccountStore
	Activity() ActivityStore
	Close() error
}

// AuditStore is the append-only security and event log.
type AuditStore interface {
	Append(ctx context.Context, event *AuditEvent) error
	Query(ctx context.Context, filter AuditFilter) ([]*AuditEvent, error)
}

// StepStore persists one record per agent loop round.
type StepStore interface {
	AppendStep(ctx context.Context, step *StepRecord) error
	ListSteps(ctx context.Context, conversationID string, limit int) ([]*StepRecord, error)
}

// ApprovalStore holds durable approval requests for gated tool calls.
type ApprovalStore interface {
	CreateApproval(ctx context.Context, approval *Approval) error
	GetApproval(ctx context.Context, toolCallID string) (*Approval, error)
	// ResolveApproval moves a pending approval to status. It returns
	// ErrConflict if the approval is no longer pending.
	ResolveApproval(ctx context.Context, toolCallID string, status ApprovalStatus, resolvedBy string, at time.Time) error
	SetApprovalResult(ctx context.Context, toolCallID string, result json.RawMessage) error
	ListApprovals(ctx context.Context, filter ApprovalFilter) ([]*Approval, error)
}

// AccountStore resolves the accounts a conversation may reference.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*Account, error)
	PutAccount(ctx context.Context, account *Account) error
}

// ActivityStore records secondary bookkeeping such as workflow position
// changes and engagement events.
type ActivityStore interface {
	AppendActivity(ctx context.Context, activity *Activity) error
	ListActivity(ctx context.Context, contactID string, limit int) ([]*Activity, error)
}

// AuditEvent is immutable once written.
type AuditEvent struct {
	ID          string            `json:"id"`
	EventType   string            `json:"event_type"`
	Severity    string            `json:"severity"`
	ActorRef    string            `json:"actor_ref"`
	ContextRefs map[string]string `json:"context_refs,omitempty"`
	Details     map[string]any    `json:"details,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// AuditFilter narrows an audit query. Zero values match everything.
type AuditFilter struct {
	EventType string
	ActorRef  string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// ToolCallSummary is the bounded snapshot of one tool call in a round.
type ToolCallSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Args   string `json:"args"`
	Status string `json:"status"`
}

// Usage counts model tokens spent in a round.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// StepRecord describes one agent loop round.
type StepRecord struct {
	ConversationID string            `json:"conversation_id"`
	TurnID         string            `json:"turn_id"`
	Index          int               `json:"index"`
	ToolCalls      []ToolCallSummary `json:"tool_calls"`
	Usage          Usage             `json:"usage"`
	Outcome        string            `json:"outcome"`
	CreatedAt      time.Time         `json:"created_at"`
}

// ApprovalStatus is the state of a gated tool call.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Approval is a gated tool call awaiting or past human review. Input and
// Context are captured when the request opens and are never rewritten.
type Approval struct {
	ToolCallID     string            `json:"tool_call_id"`
	ConversationID string            `json:"conversation_id"`
	ToolName       string            `json:"tool_name"`
	Input          json.RawMessage   `json:"input"`
	Context        map[string]string `json:"context,omitempty"`
	ActorRef       string            `json:"actor_ref"`
	Status         ApprovalStatus    `json:"status"`
	ResolvedBy     string            `json:"resolved_by,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	ResolvedAt     time.Time         `json:"resolved_at,omitzero"`
}

// ApprovalFilter narrows ListApprovals. Zero values match everything.
type ApprovalFilter struct {
	ActorRef       string
	ConversationID string
	Status         ApprovalStatus
	Limit          int
}

// Account is the CRM account a conversation can be anchored to.
type Account struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain,omitempty"`
	Industry  string    `json:"industry,omitempty"`
	OwnerRef  string    `json:"owner_ref,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Activity is a bookkeeping event tied to a contact.
type Activity struct {
	ID        string         `json:"id"`
	ActorRef  string         `json:"actor_ref"`
	ContactID string         `json:"contact_id"`
	Kind      string         `json:"kind"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

const (
	ActivityWorkflowAdvanced = "workflow.advanced"
	ActivityEngagement       = "engagement.recorded"
)
