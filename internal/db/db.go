package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"school-service/internal/config"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

const pingTimeout = 5 * time.Second

// DSN returns the connection string for cfg. An explicit URL wins over the
// discrete host/port/user fields.
func DSN(cfg config.DatabaseConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Path:     "/" + cfg.DBName,
		RawQuery: "sslmode=" + sslMode,
	}
	return u.String()
}

// New opens the pool, configures it and verifies connectivity.
func New(ctx context.Context, cfg config.DatabaseConfig) (*bun.DB, error) {
	db, err := NewWithDSN(cfg.Driver, DSN(cfg))
	if err != nil {
		return nil, err
	}

	configurePool(db, cfg)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("database connected successfully", "driver", cfg.Driver, "host", cfg.Host)
	return db, nil
}

// NewWithDSN creates a bun.DB on top of the selected postgres driver
// without pinging it (useful for testing).
func NewWithDSN(driver, dsn string) (*bun.DB, error) {
	var sqldb *sql.DB

	switch driver {
	case "", "pgdriver":
		sqldb = sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	case "pgx":
		connConfig, err := pgx.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to parse pgx dsn: %w", err)
		}
		sqldb = stdlib.OpenDB(*connConfig)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	return bun.NewDB(sqldb, pgdialect.New()), nil
}

func configurePool(db *bun.DB, cfg config.DatabaseConfig) {
	maxOpen := orDefault(cfg.MaxOpenConns, 25)
	maxIdle := orDefault(cfg.MaxIdleConns, 10)
	lifetime := orDefault(cfg.ConnMaxLifetime, 300)
	idleTime := orDefault(cfg.ConnMaxIdleTime, 60)

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(time.Duration(lifetime) * time.Second)
	db.SetConnMaxIdleTime(time.Duration(idleTime) * time.Second)

	slog.Info("database pool configured",
		"max_open_conns", maxOpen,
		"max_idle_conns", maxIdle,
		"conn_max_lifetime_seconds", lifetime,
		"conn_max_idle_time_seconds", idleTime,
	)
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func Close(db *bun.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

// RunMigrations creates the table of every model unless it already exists.
func RunMigrations(ctx context.Context, db *bun.DB, models ...any) error {
	for _, model := range models {
		_, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create table for model: %w", err)
		}
	}
	slog.Info("database migrations completed successfully")
	return nil
}

// DropTables drops the tables of the given models if they exist.
func DropTables(ctx context.Context, db *bun.DB, models ...any) error {
	for _, model := range models {
		_, err := db.NewDropTable().
			Model(model).
			IfExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to drop table for model: %w", err)
		}
	}
	return nil
}

// Now returns the database server clock.
func Now(ctx context.Context, db bun.IDB) (time.Time, error) {
	var now time.Time
	if err := db.NewSelect().ColumnExpr("CURRENT_TIMESTAMP").Scan(ctx, &now); err != nil {
		return time.Time{}, fmt.Errorf("failed to query database time: %w", err)
	}
	return now, nil
}
