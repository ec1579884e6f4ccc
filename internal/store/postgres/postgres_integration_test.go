// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

//go:build integration

package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/dealdesk-dev/dealdesk/internal/store"
	"github.com/dealdesk-dev/dealdesk/internal/store/postgres"
	"github.com/dealdesk-dev/dealdesk/internal/store/storetest"
)

// startPostgres runs a throwaway Postgres and returns its DSN.
func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("dealdesk"),
		tcpostgres.WithUsername("dealdesk"),
		tcpostgres.WithPassword("dealdesk"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "starting postgres container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestPostgresStoreContainer(t *testing.T) {
	dsn := startPostgres(t)

	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := postgres.Open(context.Background(), dsn)
		require.NoError(t, err)
		truncateAll(t, dsn)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
