// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"

	"github.com/dealdesk-dev/dealdesk/internal/store"
	"github.com/dealdesk-dev/dealdesk/internal/store/sqlstore"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

func init() {
	store.RegisterBackend("sqlite", func(cfg store.Config) (store.Store, error) {
		return Open(cfg.Path)
	})
}

// Dialect is the sqlstore dialect for mattn/go-sqlite3.
var Dialect = sqlstore.Dialect{
	Name:              "sqlite",
	Placeholder:       sqlstore.QuestionPlaceholder,
	IsUniqueViolation: isUniqueViolation,
}

// Open opens (or creates) the SQLite database at path in WAL mode and
// applies the schema.
func Open(path string) (*sqlstore.Store, error) {
	if path == "" {
		return nil, dderr.New(dderr.CodeStoreInvalidInput, "sqlite: database path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, dderr.Wrap(err, dderr.CodeStoreDatabaseFailure, "creating sqlite directory")
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, dderr.Wrap(err, dderr.CodeStoreDatabaseFailure, "opening sqlite db")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, dderr.Wrap(err, dderr.CodeStoreDatabaseFailure, "pinging sqlite db")
	}

	s, err := sqlstore.New(context.Background(), db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
