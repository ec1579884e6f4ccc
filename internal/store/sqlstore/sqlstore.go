// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

// Package sqlstore implements store.Store on database/sql. Backends supply a
// Dialect describing placeholder syntax and constraint errors; the schema is
// portable between SQLite and PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/dealdesk-dev/dealdesk/internal/store"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

// Dialect captures the differences between SQL backends.
type Dialect struct {
	Name string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// IsUniqueViolation reports whether err is a primary key or unique
	// constraint failure.
	IsUniqueViolation func(err error) bool
}

// QuestionPlaceholder renders "?" for every parameter.
func QuestionPlaceholder(int) string { return "?" }

// DollarPlaceholder renders "$1", "$2", ...
func DollarPlaceholder(n int) string { return "$" + strconv.Itoa(n) }

var (
	_ store.Store         = (*Store)(nil)
	_ store.AuditStore    = (*auditStore)(nil)
	_ store.StepStore     = (*stepStore)(nil)
	_ store.ApprovalStore = (*approvalStore)(nil)
	_ store.AccountStore  = (*accountStore)(nil)
	_ store.ActivityStore = (*activityStore)(nil)
)

// Store implements store.Store over one *sql.DB.
type Store struct {
	db        *sql.DB
	audit     *auditStore
	steps     *stepStore
	approvals *approvalStore
	accounts  *accountStore
	activity  *activityStore
}

// New migrates db and returns a Store that owns it.
func New(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	if err := migrate(ctx, db); err != nil {
		return nil, dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "migrating %s schema", d.Name)
	}

	c := conn{db: db, d: d}
	return &Store{
		db:        db,
		audit:     &auditStore{conn: c},
		steps:     &stepStore{conn: c},
		approvals: &approvalStore{conn: c},
		accounts:  &accountStore{conn: c},
		activity:  &activityStore{conn: c},
	}, nil
}

func (s *Store) Audit() store.AuditStore        { return s.audit }
func (s *Store) Steps() store.StepStore         { return s.steps }
func (s *Store) Approvals() store.ApprovalStore { return s.approvals }
func (s *Store) Accounts() store.AccountStore   { return s.accounts }
func (s *Store) Activity() store.ActivityStore  { return s.activity }

func (s *Store) Close() error { return s.db.Close() }

// conn is shared by the sub-stores and rewrites "?" placeholders for the
// backend dialect.
type conn struct {
	db *sql.DB
	d  Dialect
}

func (c conn) rebind(q string) string {
	if c.d.Placeholder == nil {
		return q
	}

	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString(c.d.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (c conn) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, c.rebind(q), args...)
}

func (c conn) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, c.rebind(q), args...)
}

func (c conn) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, c.rebind(q), args...)
}

func (c conn) uniqueViolation(err error) bool {
	return c.d.IsUniqueViolation != nil && c.d.IsUniqueViolation(err)
}

// timeLayout is fixed width so lexical order matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 1000
	}
	return limit
}
