// Command migrate applies database schema migrations.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

func main() {
	var (
		databaseURL string
		source      string
		down        bool
		steps       int
	)
	flag.StringVar(&databaseURL, "database-url", os.Getenv("CALLFLOW_DATABASE_URL"), "postgres connection URL")
	flag.StringVar(&source, "source", "file://migrations", "migration source")
	flag.BoolVar(&down, "down", false, "roll back instead of applying")
	flag.IntVar(&steps, "steps", 0, "number of migrations to apply (0 = all)")
	flag.Parse()

	if err := run(databaseURL, source, down, steps); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(databaseURL, source string, down bool, steps int) error {
	if databaseURL == "" {
		return fmt.Errorf("database URL is required (flag -database-url or CALLFLOW_DATABASE_URL)")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}

	switch {
	case steps != 0:
		if down {
			steps = -steps
		}
		err = m.Steps(steps)
	case down:
		err = m.Down()
	default:
		err = m.Up()
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}

	version, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return fmt.Errorf("reading version: %w", verr)
	}
	fmt.Printf("schema version: %d (dirty: %v)\n", version, dirty)
	return nil
}
