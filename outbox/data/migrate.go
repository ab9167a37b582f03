package data

import (
	"database/sql"
	"embed"
	"fmt"

	"inviqa/event-outbox/config"
	"inviqa/event-outbox/log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/johejo/golang-migrate-extra/source/iofs"
	"github.com/pkg/errors"
)

const migrationsTable = "event_outbox_schema_migrations"

//go:embed migrations
var migrations embed.FS

// MigrateDatabase creates or upgrades the outbox_events and processed_events
// tables. Services that rename those tables set SKIP_MIGRATIONS and own the
// schema themselves.
func MigrateDatabase(db *sql.DB, cfg *config.Config) error {
	if cfg.SkipMigrations {
		log.Logger.Info("skipping database migrations because they are disabled")
		return nil
	}

	target, err := migrationTarget(db, cfg.DBDriver)
	if err != nil {
		return errors.Wrap(err, "unable to create migration instance from database")
	}

	src, err := migrationSource(cfg.DBDriver)
	if err != nil {
		return errors.Wrap(err, "unable to load migration files from embedded filesystem")
	}

	m, err := migrate.NewWithInstance("iofs", src, cfg.DBSchema, target)
	if err != nil {
		return errors.Wrap(err, "failed to load migration files from source driver")
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "failed to migrate database")
	}

	version, dirty, _ := m.Version()
	log.Logger.WithField("version", version).WithField("dirty", dirty).Info("database is up-to-date")

	return nil
}

func migrationTarget(db *sql.DB, driver config.DbDriver) (database.Driver, error) {
	if driver.Postgres() {
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: migrationsTable})
	}

	return mysql.WithInstance(db, &mysql.Config{MigrationsTable: migrationsTable})
}

func migrationSource(driver config.DbDriver) (source.Driver, error) {
	return iofs.New(migrations, fmt.Sprintf("migrations/%s", driver))
}
