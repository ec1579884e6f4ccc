// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

// Package postgres registers the "postgres" storage backend, used when
// several gateway instances share approvals and audit history.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/dealdesk-dev/dealdesk/internal/store"
	"github.com/dealdesk-dev/dealdesk/internal/store/sqlstore"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

func init() {
	store.RegisterBackend("postgres", func(cfg store.Config) (store.Store, error) {
		return Open(context.Background(), cfg.DSN)
	})
}

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Dialect is the sqlstore dialect for pgx.
var Dialect = sqlstore.Dialect{
	Name:        "postgres",
	Placeholder: sqlstore.DollarPlaceholder,
	IsUniqueViolation: func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
	},
}

// Open connects to PostgreSQL through pgx's database/sql driver and applies
// the schema.
func Open(ctx context.Context, dsn string) (*sqlstore.Store, error) {
	if dsn == "" {
		return nil, dderr.New(dderr.CodeStoreInvalidInput, "postgres: dsn must not be empty")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, dderr.Wrap(err, dderr.CodeStoreDatabaseFailure, "opening postgres")
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, dderr.Wrap(err, dderr.CodeStoreDatabaseFailure, "pinging postgres")
	}

	s, err := sqlstore.New(ctx, db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
