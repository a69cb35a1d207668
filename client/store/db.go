package store

import (
	"context"
	"database/sql"
	"fmt"

	"fieldserve.com/fieldserve/client/store/migrations"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// OpenDB opens (or creates) the client database and applies pending
// migrations. The returned handle is shared by the snapshot store and the
// sync queue; the caller owns its lifecycle.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open client database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping client database: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("failed to run client migrations: %w", err)
	}

	return nil
}
