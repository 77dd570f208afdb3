package testdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"
)

// NewSQLite opens a private in-memory SQLite database named after the test
// and applies the given migrations. No container is needed, so it also
// runs under -short.
func NewSQLite(t *testing.T, migrations ...func(context.Context, bun.IDB) error) *bun.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	sqldb, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)

	// A single connection keeps the in-memory database alive and serializes writes.
	sqldb.SetMaxOpenConns(1)

	database := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = database.Close() })

	ctx := context.Background()
	for _, migrate := range migrations {
		require.NoError(t, migrate(ctx, database), "failed to migrate")
	}

	return database
}
