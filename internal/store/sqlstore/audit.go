// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package sqlstore

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/dealdesk-dev/dealdesk/internal/store"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

type auditStore struct {
	conn
}

func (s *auditStore) Append(ctx context.Context, ev *store.AuditEvent) error {
	if ev.ID == "" || ev.EventType == "" {
		return dderr.Wrap(store.ErrInvalidInput, dderr.CodeStoreInvalidInput, "audit event requires id and event type")
	}

	refs, err := marshalOrEmpty(ev.ContextRefs)
	if err != nil {
		return dderr.Wrapf(err, dderr.CodeStoreInvalidInput, "marshalling audit context refs")
	}
	details, err := marshalOrEmpty(ev.Details)
	if err != nil {
		return dderr.Wrapf(err, dderr.CodeStoreInvalidInput, "marshalling audit details")
	}

	const q = `INSERT INTO audit_events (id, event_type, severity, actor_ref, context_refs, details, occurred_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = s.exec(ctx, q, ev.ID, ev.EventType, ev.Severity, ev.ActorRef, refs, details, formatTime(ev.Timestamp))
	if err != nil {
		if s.uniqueViolation(err) {
			return dderr.Wrapf(store.ErrConflict, dderr.CodeStoreConflict, "audit event %s already written", ev.ID)
		}
		return dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "appending audit event %s", ev.ID)
	}
	return nil
}

func (s *auditStore) Query(ctx context.Context, filter store.AuditFilter) ([]*store.AuditEvent, error) {
	var qb strings.Builder
	qb.WriteString(`SELECT id, event_type, severity, actor_ref, context_refs, details, occurred_at FROM audit_events`)

	var conditions []string
	var args []any

	if filter.EventType != "" {
		conditions = append(conditions, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.ActorRef != "" {
		conditions = append(conditions, "actor_ref = ?")
		args = append(args, filter.ActorRef)
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, "occurred_at >= ?")
		args = append(args, formatTime(filter.From))
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, "occurred_at < ?")
		args = append(args, formatTime(filter.To))
	}

	if len(conditions) > 0 {
		qb.WriteString(" WHERE ")
		qb.WriteString(strings.Join(conditions, " AND "))
	}
	qb.WriteString(" ORDER BY occurred_at ASC, id ASC LIMIT ? OFFSET ?")
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)

	rows, err := s.query(ctx, qb.String(), args...)
	if err != nil {
		return nil, dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "querying audit events")
	}
	defer rows.Close() //nolint:errcheck // read-path close error is not actionable

	var events []*store.AuditEvent
	for rows.Next() {
		var ev store.AuditEvent
		var refsJSON, detailsJSON, ts string
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.Severity, &ev.ActorRef, &refsJSON, &detailsJSON, &ts); err != nil {
			return nil, dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "scanning audit row")
		}
		if ev.Timestamp, err = parseTime(ts); err != nil {
			return nil, dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "parsing audit event %s timestamp", ev.ID)
		}
		if err := unmarshalIfSet(refsJSON, &ev.ContextRefs); err != nil {
			return nil, dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "decoding audit event %s refs", ev.ID)
		}
		if err := unmarshalIfSet(detailsJSON, &ev.Details); err != nil {
			return nil, dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "decoding audit event %s details", ev.ID)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "iterating audit events")
	}
	return events, nil
}

func marshalOrEmpty[T any](v T) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return "{}", nil
	}
	return string(b), nil
}

func unmarshalIfSet(raw string, dst any) error {
	if raw == "" || raw == "{}" || raw == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}
