// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

// Package storetest holds the behavioural checks every store backend must
// pass. Backend test files call Run with a constructor for a fresh Store.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealdesk-dev/dealdesk/internal/store"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

// Run exercises all sub-stores of the Store returned by open.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("audit", func(t *testing.T) { testAudit(t, open(t)) })
	t.Run("steps", func(t *testing.T) { testSteps(t, open(t)) })
	t.Run("approvals", func(t *testing.T) { testApprovals(t, open(t)) })
	t.Run("accounts", func(t *testing.T) { testAccounts(t, open(t)) })
	t.Run("activity", func(t *testing.T) { testActivity(t, open(t)) })
}

func testAudit(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, typ := range []string{"ratelimit.denied", "classifier.injection", "ratelimit.denied"} {
		require.NoError(t, s.Audit().Append(ctx, &store.AuditEvent{
			ID:          uuid.NewString(),
			EventType:   typ,
			Severity:    "medium",
			ActorRef:    "user-1",
			ContextRefs: map[string]string{"conversation_id": "conv-1"},
			Details:     map[string]any{"n": i},
			Timestamp:   base.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := s.Audit().Query(ctx, store.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].Timestamp.Before(all[2].Timestamp))
	assert.Equal(t, "conv-1", all[0].ContextRefs["conversation_id"])
	assert.EqualValues(t, 0, all[0].Details["n"])

	denied, err := s.Audit().Query(ctx, store.AuditFilter{EventType: "ratelimit.denied"})
	require.NoError(t, err)
	assert.Len(t, denied, 2)

	windowed, err := s.Audit().Query(ctx, store.AuditFilter{From: base.Add(time.Second), To: base.Add(2 * time.Second)})
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, "classifier.injection", windowed[0].EventType)

	err = s.Audit().Append(ctx, &store.AuditEvent{EventType: "x"})
	assert.True(t, errors.Is(err, store.ErrInvalidInput))
}

func testSteps(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now()

	for i := range 3 {
		require.NoError(t, s.Steps().AppendStep(ctx, &store.StepRecord{
			ConversationID: "conv-1",
			TurnID:         "turn-1",
			Index:          i,
			ToolCalls:      []store.ToolCallSummary{{ID: "c", Name: "search_contacts", Args: `{"q":"acme"}`, Status: "ok"}},
			Usage:          store.Usage{InputTokens: 10 * (i + 1), OutputTokens: 5},
			Outcome:        "tool_dispatch",
			CreatedAt:      now.Add(time.Duration(i) * time.Millisecond),
		}))
	}

	err := s.Steps().AppendStep(ctx, &store.StepRecord{ConversationID: "conv-1", TurnID: "turn-1", Index: 0, CreatedAt: now})
	assert.True(t, errors.Is(err, store.ErrConflict))

	steps, err := s.Steps().ListSteps(ctx, "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, 2, steps[2].Index)
	assert.Equal(t, 30, steps[2].Usage.InputTokens)
	assert.Equal(t, "search_contacts", steps[0].ToolCalls[0].Name)
}

func testApprovals(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := &store.Approval{
		ToolCallID:     "call-1",
		ConversationID: "conv-1",
		ToolName:       "send_email",
		Input:          json.RawMessage(`{"to":"a@example.com"}`),
		Context:        map[string]string{"caller_id": "user-1"},
		ActorRef:       "user-1",
		Status:         store.ApprovalPending,
		CreatedAt:      time.Now(),
	}
	require.NoError(t, s.Approvals().CreateApproval(ctx, a))

	err := s.Approvals().CreateApproval(ctx, a)
	assert.True(t, errors.Is(err, store.ErrConflict))

	got, err := s.Approvals().GetApproval(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, store.ApprovalPending, got.Status)
	assert.JSONEq(t, `{"to":"a@example.com"}`, string(got.Input))
	assert.Equal(t, "user-1", got.Context["caller_id"])
	assert.True(t, got.ResolvedAt.IsZero())

	pending, err := s.Approvals().ListApprovals(ctx, store.ApprovalFilter{ActorRef: "user-1", Status: store.ApprovalPending})
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, s.Approvals().ResolveApproval(ctx, "call-1", store.ApprovalApproved, "user-1", time.Now()))

	err = s.Approvals().ResolveApproval(ctx, "call-1", store.ApprovalRejected, "user-1", time.Now())
	assert.True(t, errors.Is(err, store.ErrConflict))
	assert.True(t, dderr.IsConflict(err))

	err = s.Approvals().ResolveApproval(ctx, "missing", store.ApprovalRejected, "user-1", time.Now())
	assert.True(t, errors.Is(err, store.ErrNotFound))

	require.NoError(t, s.Approvals().SetApprovalResult(ctx, "call-1", json.RawMessage(`{"ok":true}`)))
	got, err = s.Approvals().GetApproval(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, store.ApprovalApproved, got.Status)
	assert.Equal(t, "user-1", got.ResolvedBy)
	assert.False(t, got.ResolvedAt.IsZero())
	assert.JSONEq(t, `{"ok":true}`, string(got.Result))
	assert.JSONEq(t, `{"to":"a@example.com"}`, string(got.Input))

	pending, err = s.Approvals().ListApprovals(ctx, store.ApprovalFilter{Status: store.ApprovalPending})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func testAccounts(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.Accounts().GetAccount(ctx, "acct-1")
	assert.True(t, errors.Is(err, store.ErrNotFound))
	assert.True(t, dderr.IsNotFound(err))

	require.NoError(t, s.Accounts().PutAccount(ctx, &store.Account{ID: "acct-1", Name: "Acme", Domain: "acme.test", CreatedAt: time.Now()}))
	require.NoError(t, s.Accounts().PutAccount(ctx, &store.Account{ID: "acct-1", Name: "Acme Corp", Domain: "acme.test", CreatedAt: time.Now()}))

	got, err := s.Accounts().GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", got.Name)
	assert.Equal(t, "acme.test", got.Domain)
}

func testActivity(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.Activity().AppendActivity(ctx, &store.Activity{
		ID:        uuid.NewString(),
		ActorRef:  "user-1",
		ContactID: "contact-1",
		Kind:      store.ActivityWorkflowAdvanced,
		Details:   map[string]any{"step": "follow_up"},
		CreatedAt: time.Now(),
	}))

	acts, err := s.Activity().ListActivity(ctx, "contact-1", 10)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, "follow_up", acts[0].Details["step"])
}
