// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dealdesk-dev/dealdesk/internal/store"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

type accountStore struct {
	conn
}

func (s *accountStore) GetAccount(ctx context.Context, id string) (*store.Account, error) {
	const q = `SELECT id, name, domain, industry, owner_ref, notes, created_at FROM accounts WHERE id = ?`

	var a store.Account
	var created string
	err := s.queryRow(ctx, q, id).Scan(&a.ID, &a.Name, &a.Domain, &a.Industry, &a.OwnerRef, &a.Notes, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dderr.Wrap(store.ErrNotFound, dderr.CodeStoreNotFound, "account not found", dderr.FieldAccountID(id))
		}
		return nil, dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "loading account %s", id)
	}
	if a.CreatedAt, err = parseTime(created); err != nil {
		return nil, dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "parsing account %s timestamp", id)
	}
	return &a, nil
}

func (s *accountStore) PutAccount(ctx context.Context, a *store.Account) error {
	if a.ID == "" || a.Name == "" {
		return dderr.Wrap(store.ErrInvalidInput, dderr.CodeStoreInvalidInput, "account requires id and name")
	}

	const q = `INSERT INTO accounts (id, name, domain, industry, owner_ref, notes, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	name = excluded.name,
	domain = excluded.domain,
	industry = excluded.industry,
	owner_ref = excluded.owner_ref,
	notes = excluded.notes`

	_, err := s.exec(ctx, q, a.ID, a.Name, a.Domain, a.Industry, a.OwnerRef, a.Notes, formatTime(a.CreatedAt))
	if err != nil {
		return dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "storing account %s", a.ID)
	}
	return nil
}
