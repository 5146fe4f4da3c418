// Package store bootstraps the picocash local datastore: a single SQLite
// database file under the caller-provided data directory, with the schema
// managed by embedded goose migrations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/picocash/picocash/internal/store/migrations"
)

// FileName is the datastore file created under the data directory.
const FileName = "picocash.db"

// Open opens (creating if needed) the datastore under dir and brings the
// schema up to date. The directory itself must already exist. When
// forceReset is true all stored state is wiped before the handle is
// returned.
func Open(ctx context.Context, dir string, forceReset bool) (*sql.DB, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat data dir %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("data dir %s is not a directory", dir)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open datastore: %w", err)
	}

	// WAL keeps readers consistent while a writer transaction is open.
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout=5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if forceReset {
		if err := Wipe(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to reset datastore: %w", err)
		}
	}

	return db, nil
}

// RunMigrations applies the embedded goose migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// Wipe deletes all stored state, leaving the schema in place. Used by
// force-reset at init time.
func Wipe(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, table := range []string{"tokens", "purchases", "purchase_prices", "metadata"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}
