// Package ledger records which events a consumer has already applied. A row
// for an event id means its side effect happened; rows are never updated.
package ledger

import (
	"context"
	"database/sql"
	"time"

	"inviqa/event-outbox/config"
	"inviqa/event-outbox/log"
	s "inviqa/event-outbox/outbox/data/sql"

	"github.com/pkg/errors"
)

var ErrAlreadyProcessed = errors.New("event has already been processed")

type ProcessedEvent struct {
	EventId              string
	EventType            string
	ProcessedAt          time.Time
	ProcessingDurationMs int64
}

type queryProvider interface {
	ProcessedExistsSql() string
	ProcessedInsertSql() string
}

type Repository struct {
	db            *sql.DB
	queryProvider queryProvider
}

func NewRepository(db *sql.DB, cfg *config.Config) Repository {
	var qp queryProvider
	if cfg.DBDriver.Postgres() {
		qp = &s.PostgresQueryProvider{Table: cfg.DBOutboxTable, LedgerTable: cfg.DBLedgerTable}
	} else {
		qp = &s.MysqlQueryProvider{Table: cfg.DBOutboxTable, LedgerTable: cfg.DBLedgerTable}
	}

	return NewRepositoryWithQueryProvider(db, qp)
}

func NewRepositoryWithQueryProvider(db *sql.DB, qp queryProvider) Repository {
	return Repository{
		db:            db,
		queryProvider: qp,
	}
}

func (r Repository) Exists(ctx context.Context, eventId string) (bool, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, r.queryProvider.ProcessedExistsSql(), eventId).Scan(&count); err != nil {
		return false, errors.Wrapf(err, "ledger: unable to look up event %s", eventId)
	}

	return count > 0, nil
}

// InTx runs fn in a transaction, committing when it returns nil and rolling
// back otherwise.
func (r Repository) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "ledger: unable to begin transaction")
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Logger.WithError(rbErr).Error("error rolling back the ledger transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "ledger: unable to commit transaction")
	}

	return nil
}

// Record inserts pe through tx. If another delivery recorded the same event id
// first, it returns ErrAlreadyProcessed and the caller must roll back.
func (r Repository) Record(ctx context.Context, tx *sql.Tx, pe ProcessedEvent) error {
	res, err := tx.ExecContext(ctx, r.queryProvider.ProcessedInsertSql(), pe.EventId, pe.EventType, pe.ProcessedAt, pe.ProcessingDurationMs)
	if err != nil {
		return errors.Wrapf(err, "ledger: unable to record event %s", pe.EventId)
	}

	if count, _ := res.RowsAffected(); count < 1 {
		return ErrAlreadyProcessed
	}

	return nil
}
