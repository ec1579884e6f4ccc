// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package sqlstore

import (
	"context"
	"database/sql"

	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

// schema is executed one statement at a time; the pgx driver rejects
// multi-statement strings on the extended protocol.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS audit_events (
	id           TEXT PRIMARY KEY,
	event_type   TEXT NOT NULL,
	severity     TEXT NOT NULL,
	actor_ref    TEXT NOT NULL DEFAULT '',
	context_refs TEXT NOT NULL DEFAULT '{}',
	details      TEXT NOT NULL DEFAULT '{}',
	occurred_at  TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(event_type, occurred_at)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_actor ON audit_events(actor_ref, occurred_at)`,

	`CREATE TABLE IF NOT EXISTS agent_steps (
	conversation_id TEXT NOT NULL,
	turn_id         TEXT NOT NULL,
	step_index      INTEGER NOT NULL,
	tool_calls      TEXT NOT NULL DEFAULT '[]',
	input_tokens    INTEGER NOT NULL DEFAULT 0,
	output_tokens   INTEGER NOT NULL DEFAULT 0,
	outcome         TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	PRIMARY KEY (turn_id, step_index)
)`,
	`CREATE INDEX IF NOT EXISTS idx_agent_steps_conversation ON agent_steps(conversation_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS approvals (
	tool_call_id    TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	tool_name       TEXT NOT NULL,
	input           TEXT NOT NULL,
	context         TEXT NOT NULL DEFAULT '{}',
	actor_ref       TEXT NOT NULL,
	status          TEXT NOT NULL,
	resolved_by     TEXT NOT NULL DEFAULT '',
	result          TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	resolved_at     TEXT NOT NULL DEFAULT ''
)`,
	`CREATE INDEX IF NOT EXISTS idx_approvals_actor_status ON approvals(actor_ref, status)`,

	`CREATE TABLE IF NOT EXISTS accounts (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	domain     TEXT NOT NULL DEFAULT '',
	industry   TEXT NOT NULL DEFAULT '',
	owner_ref  TEXT NOT NULL DEFAULT '',
	notes      TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
)`,

	`CREATE TABLE IF NOT EXISTS activity_log (
	id         TEXT PRIMARY KEY,
	actor_ref  TEXT NOT NULL DEFAULT '',
	contact_id TEXT NOT NULL,
	kind       TEXT NOT NULL,
	details    TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_contact ON activity_log(contact_id, created_at)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "applying schema statement %d", i)
		}
	}
	return nil
}
