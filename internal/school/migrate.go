package school

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// SQLite gives numeric(10,6) NUMERIC affinity and stores whole-number
// coordinates as INTEGER, which bun refuses to scan into float64.
const sqliteSchoolsDDL = `CREATE TABLE IF NOT EXISTS "schools" (
	"id" INTEGER NOT NULL PRIMARY KEY,
	"name" VARCHAR(255) NOT NULL,
	"address" TEXT NOT NULL,
	"latitude" REAL NOT NULL,
	"longitude" REAL NOT NULL,
	"created_at" TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

// CreateTable creates the schools table unless it already exists.
func CreateTable(ctx context.Context, db bun.IDB) error {
	var err error
	if db.Dialect().Name() == dialect.SQLite {
		_, err = db.ExecContext(ctx, sqliteSchoolsDDL)
	} else {
		_, err = db.NewCreateTable().Model((*School)(nil)).IfNotExists().Exec(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to create %s table: %w", table, err)
	}
	return nil
}
