package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenSQLiteAndMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "league.db")
	db, err := OpenSQLite(path, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, MigrateSQLite(ctx, db))
	// Migrations are idempotent.
	require.NoError(t, MigrateSQLite(ctx, db))

	var n int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('participants', 'contracts', 'offer_sets')`).Scan(&n)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}
