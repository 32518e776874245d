package postgres

import (
	"context"
	"embed"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its dialect and filesystem in package globals.
var gooseMu sync.Mutex

func gooseDialect(db *sqlx.DB) (string, error) {
	switch db.DriverName() {
	case "postgres", "pgx":
		return "postgres", nil
	case "sqlite", "sqlite3":
		return "sqlite3", nil
	default:
		return "", fmt.Errorf("no migration dialect for driver %q", db.DriverName())
	}
}

func withGoose(db *sqlx.DB, fn func() error) error {
	dialect, err := gooseDialect(db)
	if err != nil {
		return err
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return fn()
}

// Migrate applies every pending migration.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	return withGoose(db, func() error {
		if err := goose.UpContext(ctx, db.DB, "migrations"); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		return nil
	})
}

// Rollback reverts the most recent migration.
func Rollback(ctx context.Context, db *sqlx.DB) error {
	return withGoose(db, func() error {
		if err := goose.DownContext(ctx, db.DB, "migrations"); err != nil {
			return fmt.Errorf("failed to roll back migration: %w", err)
		}
		return nil
	})
}

// MigrationVersion reports the current schema version.
func MigrationVersion(ctx context.Context, db *sqlx.DB) (int64, error) {
	var version int64
	err := withGoose(db, func() error {
		v, err := goose.GetDBVersionContext(ctx, db.DB)
		version = v
		return err
	})
	return version, err
}
