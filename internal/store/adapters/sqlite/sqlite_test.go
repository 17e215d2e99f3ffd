package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/cilogonauth/internal/store"
	_ "github.com/dropDatabas3/cilogonauth/internal/store/adapters/sqlite"
	"github.com/dropDatabas3/cilogonauth/internal/store/storetest"
)

func openTemp(t *testing.T) store.Connection {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "cilogon.db")
	conn, err := store.Open(context.Background(), "sqlite3", store.AdapterConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestContract(t *testing.T) {
	conn := openTemp(t)
	res, err := conn.Migrate(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Applied, 2)

	storetest.Run(t, conn)
}

func TestMigrateIsIdempotent(t *testing.T) {
	conn := openTemp(t)
	_, err := conn.Migrate(context.Background())
	require.NoError(t, err)

	res, err := conn.Migrate(context.Background())
	require.NoError(t, err)
	require.Empty(t, res.Applied)
	require.Len(t, res.Skipped, 2)
}
