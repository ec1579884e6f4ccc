// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package postgres_test

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dealdesk-dev/dealdesk/internal/store"
	"github.com/dealdesk-dev/dealdesk/internal/store/postgres"
	"github.com/dealdesk-dev/dealdesk/internal/store/storetest"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

// These tests need a disposable database; every table is truncated.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("DEALDESK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DEALDESK_TEST_POSTGRES_DSN not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := postgres.Open(context.Background(), dsn)
		require.NoError(t, err)
		truncateAll(t, dsn)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := postgres.Open(context.Background(), "")
	require.Error(t, err)
	require.True(t, dderr.HasCode(err, dderr.CodeStoreInvalidInput))
}

func truncateAll(t *testing.T, dsn string) {
	t.Helper()
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // test cleanup

	_, err = db.Exec(`TRUNCATE audit_events, agent_steps, approvals, accounts, activity_log`)
	require.NoError(t, err)
}
