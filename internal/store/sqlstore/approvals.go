// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/dealdesk-dev/dealdesk/internal/store"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

type approvalStore struct {
	conn
}

const approvalColumns = `tool_call_id, conversation_id, tool_name, input, context, actor_ref, status, resolved_by, result, created_at, resolved_at`

func (s *approvalStore) CreateApproval(ctx context.Context, a *store.Approval) error {
	if a.ToolCallID == "" || a.ToolName == "" || len(a.Input) == 0 {
		return dderr.Wrap(store.ErrInvalidInput, dderr.CodeStoreInvalidInput,
			"approval requires tool call id, tool name and input", dderr.FieldToolCallID(a.ToolCallID))
	}

	ctxJSON, err := marshalOrEmpty(a.Context)
	if err != nil {
		return dderr.Wrapf(err, dderr.CodeStoreInvalidInput, "marshalling approval context")
	}

	status := a.Status
	if status == "" {
		status = store.ApprovalPending
	}

	q := `INSERT INTO approvals (` + approvalColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.exec(ctx, q,
		a.ToolCallID, a.ConversationID, a.ToolName, string(a.Input), ctxJSON, a.ActorRef,
		string(status), a.ResolvedBy, string(a.Result), formatTime(a.CreatedAt), formatTime(a.ResolvedAt),
	)
	if err != nil {
		if s.uniqueViolation(err) {
			return dderr.Wrap(store.ErrConflict, dderr.CodeStoreConflict, "approval already exists", dderr.FieldToolCallID(a.ToolCallID))
		}
		return dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "creating approval %s", a.ToolCallID)
	}
	return nil
}

func (s *approvalStore) GetApproval(ctx context.Context, toolCallID string) (*store.Approval, error) {
	row := s.queryRow(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE tool_call_id = ?`, toolCallID)
	a, err := scanApproval(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dderr.Wrap(store.ErrNotFound, dderr.CodeStoreNotFound, "approval not found", dderr.FieldToolCallID(toolCallID))
		}
		return nil, dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "loading approval %s", toolCallID)
	}
	return a, nil
}

func (s *approvalStore) ResolveApproval(ctx context.Context, toolCallID string, status store.ApprovalStatus, resolvedBy string, at time.Time) error {
	if status != store.ApprovalApproved && status != store.ApprovalRejected {
		return dderr.Wrapf(store.ErrInvalidInput, dderr.CodeStoreInvalidInput, "cannot resolve approval to %q", status)
	}

	const q = `UPDATE approvals SET status = ?, resolved_by = ?, resolved_at = ?
WHERE tool_call_id = ? AND status = ?`

	res, err := s.exec(ctx, q, string(status), resolvedBy, formatTime(at), toolCallID, string(store.ApprovalPending))
	if err != nil {
		return dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "resolving approval %s", toolCallID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "resolving approval %s", toolCallID)
	}
	if n == 1 {
		return nil
	}

	// Distinguish a missing record from one that already left pending.
	if _, err := s.GetApproval(ctx, toolCallID); err != nil {
		return err
	}
	return dderr.Wrap(store.ErrConflict, dderr.CodeStoreConflict, "approval is no longer pending", dderr.FieldToolCallID(toolCallID))
}

func (s *approvalStore) SetApprovalResult(ctx context.Context, toolCallID string, result json.RawMessage) error {
	res, err := s.exec(ctx, `UPDATE approvals SET result = ? WHERE tool_call_id = ?`, string(result), toolCallID)
	if err != nil {
		return dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "storing approval %s result", toolCallID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return dderr.Wrap(store.ErrNotFound, dderr.CodeStoreNotFound, "approval not found", dderr.FieldToolCallID(toolCallID))
	}
	return nil
}

func (s *approvalStore) ListApprovals(ctx context.Context, filter store.ApprovalFilter) ([]*store.Approval, error) {
	var qb strings.Builder
	qb.WriteString(`SELECT ` + approvalColumns + ` FROM approvals`)

	var conditions []string
	var args []any
	if filter.ActorRef != "" {
		conditions = append(conditions, "actor_ref = ?")
		args = append(args, filter.ActorRef)
	}
	if filter.ConversationID != "" {
		conditions = append(conditions, "conversation_id = ?")
		args = append(args, filter.ConversationID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(conditions) > 0 {
		qb.WriteString(" WHERE ")
		qb.WriteString(strings.Join(conditions, " AND "))
	}
	qb.WriteString(" ORDER BY created_at ASC LIMIT ?")
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.query(ctx, qb.String(), args...)
	if err != nil {
		return nil, dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "listing approvals")
	}
	defer rows.Close() //nolint:errcheck // read-path close error is not actionable

	var out []*store.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "scanning approval row")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "iterating approvals")
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row rowScanner) (*store.Approval, error) {
	var a store.Approval
	var input, ctxJSON, status, result, created, resolved string
	if err := row.Scan(&a.ToolCallID, &a.ConversationID, &a.ToolName, &input, &ctxJSON,
		&a.ActorRef, &status, &a.ResolvedBy, &result, &created, &resolved); err != nil {
		return nil, err
	}

	a.Input = json.RawMessage(input)
	a.Status = store.ApprovalStatus(status)
	if result != "" {
		a.Result = json.RawMessage(result)
	}
	if err := unmarshalIfSet(ctxJSON, &a.Context); err != nil {
		return nil, err
	}

	var err error
	if a.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if a.ResolvedAt, err = parseTime(resolved); err != nil {
		return nil, err
	}
	return &a, nil
}
