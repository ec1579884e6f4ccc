// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package sqlstore

import (
	"context"

	"github.com/dealdesk-dev/dealdesk/internal/store"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

type activityStore struct {
	conn
}

func (s *activityStore) AppendActivity(ctx context.Context, a *store.Activity) error {
	if a.ID == "" || a.ContactID == "" || a.Kind == "" {
		return dderr.Wrap(store.ErrInvalidInput, dderr.CodeStoreInvalidInput, "activity requires id, contact and kind")
	}

	details, err := marshalOrEmpty(a.Details)
	if err != nil {
		return dderr.Wrapf(err, dderr.CodeStoreInvalidInput, "marshalling activity details")
	}

	const q = `INSERT INTO activity_log (id, actor_ref, contact_id, kind, details, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.exec(ctx, q, a.ID, a.ActorRef, a.ContactID, a.Kind, details, formatTime(a.CreatedAt)); err != nil {
		return dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "appending activity %s", a.ID)
	}
	return nil
}

func (s *activityStore) ListActivity(ctx context.Context, contactID string, limit int) ([]*store.Activity, error) {
	const q = `SELECT id, actor_ref, contact_id, kind, details, created_at FROM activity_log
WHERE contact_id = ? ORDER BY created_at ASC LIMIT ?`

	rows, err := s.query(ctx, q, contactID, limitOrDefault(limit))
	if err != nil {
		return nil, dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "listing activity for %s", contactID)
	}
	defer rows.Close() //nolint:errcheck // read-path close error is not actionable

	var out []*store.Activity
	for rows.Next() {
		var a store.Activity
		var details, created string
		if err := rows.Scan(&a.ID, &a.ActorRef, &a.ContactID, &a.Kind, &details, &created); err != nil {
			return nil, dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "scanning activity row")
		}
		if err := unmarshalIfSet(details, &a.Details); err != nil {
			return nil, dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "decoding activity details")
		}
		if a.CreatedAt, err = parseTime(created); err != nil {
			return nil, dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "parsing activity timestamp")
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "iterating activity")
	}
	return out, nil
}
