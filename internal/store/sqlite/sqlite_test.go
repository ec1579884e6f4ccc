// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dealdesk-dev/dealdesk/internal/store"
	"github.com/dealdesk-dev/dealdesk/internal/store/sqlite"
	"github.com/dealdesk-dev/dealdesk/internal/store/storetest"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

func testDBPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name+".db")
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := sqlite.Open(testDBPath(t, "dealdesk"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "dealdesk.db")
	s, err := sqlite.Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestOpenEmptyPath(t *testing.T) {
	_, err := sqlite.Open("")
	require.Error(t, err)
	require.True(t, dderr.HasCode(err, dderr.CodeStoreInvalidInput))
}

func TestOpenViaRegistry(t *testing.T) {
	s, err := store.Open(store.Config{Backend: "sqlite", Path: testDBPath(t, "registry")})
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestReopenKeepsData(t *testing.T) {
	path := testDBPath(t, "reopen")
	s, err := sqlite.Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Accounts().PutAccount(t.Context(), &store.Account{ID: "a", Name: "A"}))
	require.NoError(t, s.Close())

	s, err = sqlite.Open(path)
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck // test cleanup

	got, err := s.Accounts().GetAccount(t.Context(), "a")
	require.NoError(t, err)
	require.Equal(t, "A", got.Name)
}
