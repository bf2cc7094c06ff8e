package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/mbolis/intelliform/log"
)

//go:embed migrations
var dbMigrations embed.FS

const migrationsTable = "schema_migrations"

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(dbMigrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("db.migrate.source: %w", err)
	}

	dst, err := sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return nil, fmt.Errorf("db.migrate.driver: %w", err)
	}

	return migrate.NewWithInstance("iofs", src, "sqlite3", dst)
}

// migrateDB brings the schema to the latest embedded version. A schema left
// dirty by a failed migration is reported instead of being migrated over.
func migrateDB(db *sql.DB) error {
	migrator, err := newMigrator(db)
	if err != nil {
		return err
	}

	from, dirty, err := migrator.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		from = 0
	case err != nil:
		return fmt.Errorf("db.migrate.version: %w", err)
	case dirty:
		return fmt.Errorf("db.migrate: schema version %d is dirty", from)
	}

	err = migrator.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		log.Debugf("db.migrate: schema up to date at version %d", from)
		return nil
	}
	if err != nil {
		return fmt.Errorf("db.migrate.up: %w", err)
	}

	to, _, err := migrator.Version()
	if err != nil {
		return fmt.Errorf("db.migrate.version: %w", err)
	}
	log.Infof("db.migrate: schema migrated from version %d to %d", from, to)
	return nil
}
