package data

import (
	"context"
	"database/sql"
	"time"

	"inviqa/event-outbox/config"
	"inviqa/event-outbox/log"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v4/stdlib"
)

const (
	connectionAttempts    = 30
	maxOpenConnections    = 10
	maxIdleConnections    = 5
	maxConnectionLifetime = time.Minute * 1
	pingTimeout           = 2 * time.Second
)

func init() {
	setupLoggers()
}

func setupLoggers() {
	err := mysql.SetLogger(log.Logger)
	if err != nil {
		log.Logger.WithError(err).Fatalf("unable to set up JSON logger for MySQL driver")
	}
}

// NewDB opens the database holding the outbox and ledger tables, waits for it
// to become reachable and applies migrations unless they are disabled.
func NewDB(cfg *config.Config) (*sql.DB, func()) {
	log.Logger.Debug("connecting to the database")

	db, err := sql.Open(driverName(cfg.DBDriver), cfg.GetDSN())
	if err != nil {
		log.Logger.Fatalf("unable to connect to the database: %s", err)
	}

	db.SetMaxOpenConns(maxOpenConnections)
	db.SetMaxIdleConns(maxIdleConnections)
	db.SetConnMaxLifetime(maxConnectionLifetime)

	waitForDatabase(db)
	if err := MigrateDatabase(db, cfg); err != nil {
		log.Logger.Fatalf("unable to migrate the database: %s", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			log.Logger.WithError(err).Error("error closing database during shutdown process")
		}
	}

	return db, cleanup
}

// the pgx stdlib adapter registers itself as "pgx"
func driverName(d config.DbDriver) string {
	if d.Postgres() {
		return "pgx"
	}

	return d.String()
}

func waitForDatabase(db *sql.DB) {
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		err := db.PingContext(ctx)
		cancel()
		if err == nil {
			return
		}

		if attempt == connectionAttempts {
			log.Logger.Fatalf("database did not become available within %d connection attempts: %s", connectionAttempts, err)
		}

		log.Logger.WithError(err).Infof("database is not available, retrying %d more time(s)", connectionAttempts-attempt)
		time.Sleep(time.Second)
	}
}
