package postgres

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// migrationsTable records the applied schema version.
const migrationsTable = "mtpsched_schema_migrations"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrateUp applies the bundled migrations over a connection of its own.
// The pgx driver holds a Postgres advisory lock for the duration, so
// replicas starting together apply each migration once.
func migrateUp(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	drv, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{MigrationsTable: migrationsTable})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	// Closing the migrator closes drv, and with it db.
	return runMigrations(drv, "pgx5")
}

// runMigrations moves drv up to the newest bundled version.
func runMigrations(drv database.Driver, name string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		_ = drv.Close()
		return fmt.Errorf("postgres: load migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, name, drv)
	if err != nil {
		_ = src.Close()
		_ = drv.Close()
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}
