// Package migrations embeds SQL migration files and provides a function to apply them.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// FS contains the embedded SQL migration files, one directory per dialect.
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS

// Dialect maps a database driver name to its goose dialect and migration directory.
func Dialect(driver string) (dialect, dir string, err error) {
	switch driver {
	case "sqlite", "sqlite3":
		return "sqlite3", "sqlite", nil
	case "postgres", "pgx":
		return "postgres", "postgres", nil
	}
	return "", "", fmt.Errorf("unsupported driver %q", driver)
}

// Run applies all pending migrations for driver to the given database.
func Run(db *sql.DB, driver string) error {
	dialect, dir, err := Dialect(driver)
	if err != nil {
		return err
	}

	goose.SetBaseFS(FS)

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}
