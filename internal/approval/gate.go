// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

// Package approval holds side-effecting tool calls until a person approves
// or rejects them. Requests are durable records, so the decision may arrive
// in a later request or on another instance. An approved call runs with the
// input captured when it was requested, never with input supplied at
// approval time.
package approval

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/dealdesk-dev/dealdesk/internal/audit"
	"github.com/dealdesk-dev/dealdesk/internal/integration"
	"github.com/dealdesk-dev/dealdesk/internal/store"
	"github.com/dealdesk-dev/dealdesk/internal/tool"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

// DeclinedMessage is the result the model sees for a rejected call.
const DeclinedMessage = "the user declined this action; it was not performed"

const defaultExecTimeout = 30 * time.Second

// Decision is a reviewer's verdict.
type Decision string

const (
	Approve Decision = "approve"
	Reject  Decision = "reject"
)

// Config wires a Gate.
type Config struct {
	Store   store.ApprovalStore
	Catalog *tool.Catalog
	Audit   audit.Sink
	// ExecTimeout bounds an approved call's executor.
	ExecTimeout time.Duration
	Now         func() time.Time
}

// Gate is the approval state machine: pending, then approved or rejected.
type Gate struct {
	store       store.ApprovalStore
	catalog     *tool.Catalog
	sink        audit.Sink
	execTimeout time.Duration
	now         func() time.Time
}

// NewGate validates cfg.
func NewGate(cfg Config) (*Gate, error) {
	if cfg.Store == nil {
		return nil, dderr.New(dderr.CodeApprovalInvalid, "approval store is required")
	}
	if cfg.Catalog == nil {
		return nil, dderr.New(dderr.CodeApprovalInvalid, "tool catalog is required")
	}
	g := &Gate{
		store:       cfg.Store,
		catalog:     cfg.Catalog,
		sink:        cfg.Audit,
		execTimeout: cfg.ExecTimeout,
		now:         cfg.Now,
	}
	if g.sink == nil {
		g.sink = audit.Discard{}
	}
	if g.execTimeout <= 0 {
		g.execTimeout = defaultExecTimeout
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g, nil
}

// OpenRequest captures a gated call.
type OpenRequest struct {
	ToolCallID string
	ToolName   string
	Input      json.RawMessage
	Context    tool.Context
}

// Open records req as pending. Input and context are frozen in the record.
func (g *Gate) Open(ctx context.Context, req OpenRequest) (*store.Approval, error) {
	if req.ToolCallID == "" || req.ToolName == "" {
		return nil, dderr.New(dderr.CodeApprovalInvalid, "approval requires a tool call id and tool name")
	}
	if req.Context.Actor == "" {
		return nil, dderr.New(dderr.CodeApprovalInvalid, "approval requires an owning actor", dderr.FieldToolCallID(req.ToolCallID))
	}

	input := req.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}

	a := &store.Approval{
		ToolCallID:     req.ToolCallID,
		ConversationID: req.Context.ConversationID,
		ToolName:       req.ToolName,
		Input:          append(json.RawMessage(nil), input...),
		Context:        req.Context.Map(),
		ActorRef:       req.Context.Actor,
		Status:         store.ApprovalPending,
		CreatedAt:      g.now().UTC(),
	}
	if err := g.store.CreateApproval(ctx, a); err != nil {
		if dderr.IsConflict(err) {
			return nil, dderr.New(dderr.CodeApprovalConflict, "approval already exists", dderr.FieldToolCallID(req.ToolCallID))
		}
		return nil, dderr.Wrapf(err, dderr.CodeApprovalStoreError, "opening approval %s", req.ToolCallID)
	}

	approvalsTotal.WithLabelValues(req.ToolName, string(store.ApprovalPending)).Inc()
	g.sink.Record(ctx, audit.Event{
		Type:     audit.EventApprovalRequested,
		Severity: audit.SeverityMedium,
		Actor:    a.ActorRef,
		Refs: map[string]string{
			"tool_call_id":    a.ToolCallID,
			"conversation_id": a.ConversationID,
		},
		Details: map[string]any{"tool": a.ToolName},
	})
	return a, nil
}

// Outcome is the result of a resolution.
type Outcome struct {
	Approval *store.Approval
	// Executed is true when the tool ran. It is false for rejections.
	Executed bool
	Result   integration.Result
}

// Resolve applies a decision by actor. Only the actor who owns the request
// may resolve it, and only while it is pending. On approval the tool runs
// with the stored input and context.
func (g *Gate) Resolve(ctx context.Context, toolCallID string, decision Decision, actor string) (*Outcome, error) {
	status, err := decision.status()
	if err != nil {
		return nil, err
	}

	a, err := g.Check(ctx, toolCallID, actor)
	if err != nil {
		return nil, err
	}

	at := g.now().UTC()
	if err := g.store.ResolveApproval(ctx, toolCallID, status, actor, at); err != nil {
		if dderr.IsConflict(err) {
			return nil, dderr.New(dderr.CodeApprovalConflict, "approval was resolved concurrently",
				dderr.FieldToolCallID(toolCallID))
		}
		return nil, dderr.Wrapf(err, dderr.CodeApprovalStoreError, "resolving approval %s", toolCallID)
	}
	a.Status = status
	a.ResolvedBy = actor
	a.ResolvedAt = at
	approvalsTotal.WithLabelValues(a.ToolName, string(status)).Inc()

	out := &Outcome{Approval: a}
	if status == store.ApprovalApproved {
		out.Result = g.execute(ctx, a)
		out.Executed = true
	} else {
		out.Result = integration.Result{OK: false, Error: DeclinedMessage}
	}

	raw, err := json.Marshal(out.Result)
	if err == nil {
		err = g.store.SetApprovalResult(ctx, toolCallID, raw)
	}
	if err != nil {
		// The decision and any side effect already happened; losing the
		// stored result must not report the call as failed.
		slog.Error("storing approval result failed",
			"tool_call_id", toolCallID,
			"tool", a.ToolName,
			"error", err,
		)
	} else {
		a.Result = raw
	}

	g.sink.Record(ctx, audit.Event{
		Type:     audit.EventApprovalResolved,
		Severity: audit.SeverityMedium,
		Actor:    actor,
		Refs: map[string]string{
			"tool_call_id":    toolCallID,
			"conversation_id": a.ConversationID,
		},
		Details: map[string]any{
			"tool":     a.ToolName,
			"decision": string(status),
			"executed": out.Executed,
			"ok":       out.Result.OK,
		},
	})
	return out, nil
}

// Check reports whether actor may resolve toolCallID now: the approval
// exists, belongs to actor and is still pending. The record is left as is.
func (g *Gate) Check(ctx context.Context, toolCallID, actor string) (*store.Approval, error) {
	a, err := g.Get(ctx, toolCallID)
	if err != nil {
		return nil, err
	}
	if a.ActorRef != actor {
		g.sink.Record(ctx, audit.Event{
			Type:     audit.EventApprovalResolved,
			Severity: audit.SeverityHigh,
			Actor:    actor,
			Refs:     map[string]string{"tool_call_id": toolCallID},
			Details:  map[string]any{"denied": "not owner"},
		})
		return nil, dderr.New(dderr.CodeApprovalForbidden, "approval belongs to another user",
			dderr.FieldToolCallID(toolCallID), dderr.FieldActor(actor))
	}
	if a.Status != store.ApprovalPending {
		return nil, dderr.New(dderr.CodeApprovalConflict, "approval is already "+string(a.Status),
			dderr.FieldToolCallID(toolCallID))
	}
	return a, nil
}

func (g *Gate) execute(ctx context.Context, a *store.Approval) integration.Result {
	d, ok := g.catalog.Lookup(a.ToolName)
	if !ok {
		return integration.Failure("tool %s is no longer available", a.ToolName)
	}

	// The reviewer's request may be cancelled; the approved action still
	// runs to completion once started.
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.execTimeout)
	defer cancel()

	res, err := d.Execute(execCtx, tool.ContextFromMap(a.Context), a.Input)
	if err != nil {
		slog.Warn("approved tool call failed",
			"tool_call_id", a.ToolCallID,
			"tool", a.ToolName,
			"error", err,
		)
		return integration.Failure("%s failed: %v", a.ToolName, err)
	}

	g.sink.Record(ctx, audit.Event{
		Type:     audit.EventToolExecuted,
		Severity: audit.SeverityMedium,
		Actor:    a.ActorRef,
		Refs: map[string]string{
			"tool_call_id":    a.ToolCallID,
			"conversation_id": a.ConversationID,
		},
		Details: map[string]any{"tool": a.ToolName, "ok": res.OK, "approved": true},
	})
	return res
}

// Get loads one approval.
func (g *Gate) Get(ctx context.Context, toolCallID string) (*store.Approval, error) {
	a, err := g.store.GetApproval(ctx, toolCallID)
	if err != nil {
		if dderr.IsNotFound(err) {
			return nil, dderr.New(dderr.CodeApprovalNotFound, "approval not found", dderr.FieldToolCallID(toolCallID))
		}
		return nil, dderr.Wrapf(err, dderr.CodeApprovalStoreError, "loading approval %s", toolCallID)
	}
	return a, nil
}

// Pending lists actor's open requests, oldest first. An empty actor lists
// everyone's.
func (g *Gate) Pending(ctx context.Context, actor string, limit int) ([]*store.Approval, error) {
	list, err := g.store.ListApprovals(ctx, store.ApprovalFilter{
		ActorRef: actor,
		Status:   store.ApprovalPending,
		Limit:    limit,
	})
	if err != nil {
		return nil, dderr.Wrapf(err, dderr.CodeApprovalStoreError, "listing pending approvals")
	}
	return list, nil
}

func (d Decision) status() (store.ApprovalStatus, error) {
	switch d {
	case Approve:
		return store.ApprovalApproved, nil
	case Reject:
		return store.ApprovalRejected, nil
	default:
		return "", dderr.Errorf(dderr.CodeApprovalInvalid, "unknown decision %q", d)
	}
}

// DecisionOf maps a boolean approve flag to a Decision.
func DecisionOf(approve bool) Decision {
	if approve {
		return Approve
	}
	return Reject
}
