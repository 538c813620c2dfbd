package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"adsdash/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqliteDSN appends the pragmas every connection to the store needs. The
// busy timeout makes a second writer wait for the lock instead of failing.
func sqliteDSN(dbPath string) string {
	return dbPath + "?_pragma=busy_timeout(10000)"
}

// RunMigrations brings the schema up to date over a dedicated connection,
// so the main pool is never entangled with migration state.
func RunMigrations(dbPath string) error {
	logger := log.New(log.DefaultConfig()).WithComponent(log.ComponentStorage)

	migrateDB, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return fmt.Errorf("open migration database: %w", err)
	}
	defer migrateDB.Close()

	driver, err := sqlite.WithInstance(migrateDB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("run migrations: %w", err)
	}

	logger.Info("schema migrated")
	return nil
}
