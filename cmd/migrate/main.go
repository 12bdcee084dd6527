package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"metro_alerts/migrations"
)

func main() {
	driver := flag.String("driver", envOrDefault("DATABASE_DRIVER", "sqlite"), "database driver: sqlite or postgres")
	dsn := flag.String("dsn", envOrDefault("DATABASE_DSN", "./data/bot.db"), "database path or connection string")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-driver sqlite|postgres] [-dsn dsn] <command>")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Commands:")
		fmt.Fprintln(os.Stderr, "  up          Migrate to the latest version")
		fmt.Fprintln(os.Stderr, "  up-one      Migrate one version up")
		fmt.Fprintln(os.Stderr, "  down        Roll back one version")
		fmt.Fprintln(os.Stderr, "  status      Show migration status")
		fmt.Fprintln(os.Stderr, "  version     Show current version")
		fmt.Fprintln(os.Stderr, "  reset       Roll back all migrations")
		os.Exit(1)
	}

	dialect, dir, err := migrations.Dialect(*driver)
	if err != nil {
		log.Fatal(err)
	}
	sqlDriver := "sqlite"
	if dialect == "postgres" {
		sqlDriver = "pgx"
	}

	db, err := sqlx.Open(sqlDriver, *dsn)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(dialect); err != nil {
		log.Fatalf("set dialect: %v", err)
	}

	cmd := args[0]
	switch cmd {
	case "up":
		err = goose.Up(db.DB, dir)
	case "up-one":
		err = goose.UpByOne(db.DB, dir)
	case "down":
		err = goose.Down(db.DB, dir)
	case "status":
		err = goose.Status(db.DB, dir)
	case "version":
		err = goose.Version(db.DB, dir)
	case "reset":
		err = goose.Reset(db.DB, dir)
	default:
		log.Fatalf("unknown command: %s", cmd)
	}

	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
