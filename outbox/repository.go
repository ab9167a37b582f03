package outbox

import (
	"context"
	"database/sql"
	"time"

	"inviqa/event-outbox/config"
	"inviqa/event-outbox/log"
	s "inviqa/event-outbox/outbox/data/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	ErrNoEvents   = errors.New("no events in the batch")
	ErrNotClaimed = errors.New("event was claimed by another relay")

	columns = []string{"id", "event_id", "event_type", "aggregate_id", "aggregate_type", "payload", "status", "created_at", "processed_at", "published_at", "retry_count", "last_error", "next_retry_at"}
)

type queryProvider interface {
	InsertEventSql() string
	DueEventsSql(batchSize int) string
	ClaimEventSql() string
	EventPublishedUpdateSql() string
	EventFailedUpdateSql() string
	ReplayEventsSql(statusCount int, byEventType bool) string
	GetQueueSizeSql() string
	GetTotalSizeSql() string
}

type Repository struct {
	db            *sql.DB
	cfg           *config.Config
	policy        RetryPolicy
	queryProvider queryProvider
	now           func() time.Time
}

func NewRepository(db *sql.DB, cfg *config.Config) Repository {
	return NewRepositoryWithQueryProvider(db, cfg, newQueryProvider(cfg))
}

func NewRepositoryWithQueryProvider(db *sql.DB, cfg *config.Config, qp queryProvider) Repository {
	return Repository{
		db:            db,
		cfg:           cfg,
		policy:        NewRetryPolicy(cfg),
		queryProvider: qp,
		now:           utcNow,
	}
}

// GetBatch selects up to BatchSize due events in creation order: pending rows,
// failed rows whose retry time has passed and processing rows abandoned for
// longer than the stale threshold. Selection does not lock anything, each row
// must still be claimed before it is published.
// If there are no due events the special ErrNoEvents value is returned.
func (r Repository) GetBatch(ctx context.Context) (*Batch, error) {
	now := r.now()
	stale := now.Add(-r.cfg.GetStaleAfterDuration())

	rows, err := r.db.QueryContext(ctx, r.queryProvider.DueEventsSql(r.cfg.BatchSize), now, stale)
	if err != nil {
		return nil, errors.Errorf("outbox: error selecting due events in repository: %s", err)
	}
	defer rows.Close()

	batch := &Batch{
		Id:     uuid.New(),
		Events: []*Event{},
	}

	for rows.Next() {
		e := &Event{}
		var status string
		err := rows.Scan(&e.Id, &e.EventId, &e.EventType, &e.AggregateId, &e.AggregateType, &e.Payload, &status, &e.CreatedAt, &e.ProcessedAt, &e.PublishedAt, &e.RetryCount, &e.LastError, &e.NextRetryAt)
		if err != nil {
			return nil, errors.Errorf("outbox: error scanning event result into memory in repository: %s", err)
		}
		e.Status = Status(status)
		batch.Events = append(batch.Events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Errorf("outbox: error iterating due events in repository: %s", err)
	}

	if len(batch.Events) == 0 {
		return nil, ErrNoEvents
	}

	return batch, nil
}

// Claim moves e to Processing with a single compare-and-set statement. It
// returns ErrNotClaimed when another relay got there first.
func (r Repository) Claim(ctx context.Context, e *Event) error {
	now := r.now()
	stale := now.Add(-r.cfg.GetStaleAfterDuration())

	res, err := r.db.ExecContext(ctx, r.queryProvider.ClaimEventSql(), now, e.Id, now, stale)
	if err != nil {
		return errors.Errorf("outbox: error claiming event %s: %s", e.EventId, err)
	}

	// the drivers we use never return an error here
	count, _ := res.RowsAffected()
	if count < 1 {
		return ErrNotClaimed
	}

	e.Status = StatusProcessing
	e.ProcessedAt = sql.NullTime{Time: now, Valid: true}

	return nil
}

func (r Repository) MarkPublished(ctx context.Context, e *Event) error {
	now := r.now()

	log.Logger.WithFields(logrus.Fields{"event_id": e.EventId, "id": e.Id}).Debug("marking event as published")

	res, err := r.db.ExecContext(ctx, r.queryProvider.EventPublishedUpdateSql(), now, now, e.Id)
	if err != nil {
		return errors.Errorf("outbox: error marking event %s as published: %s", e.EventId, err)
	}

	if count, _ := res.RowsAffected(); count < 1 {
		return ErrNotClaimed
	}

	e.Status = StatusPublished
	e.PublishedAt = sql.NullTime{Time: now, Valid: true}
	e.ProcessedAt = sql.NullTime{Time: now, Valid: true}

	return nil
}

// MarkFailed applies the retry policy to e and persists the outcome.
func (r Repository) MarkFailed(ctx context.Context, e *Event, cause error) error {
	r.policy.Fail(e, cause, r.now())

	log.Logger.WithFields(logrus.Fields{
		"event_id":      e.EventId,
		"status":        e.Status,
		"retry_count":   e.RetryCount,
		"next_retry_at": e.NextRetryAt.Time,
	}).Debug("marking event as failed")

	res, err := r.db.ExecContext(ctx, r.queryProvider.EventFailedUpdateSql(), string(e.Status), e.RetryCount, e.LastError, e.NextRetryAt, e.Id)
	if err != nil {
		return errors.Errorf("outbox: error marking event %s as failed: %s", e.EventId, err)
	}

	if count, _ := res.RowsAffected(); count < 1 {
		return ErrNotClaimed
	}

	return nil
}

// Replay moves dead events back to pending with a fresh retry budget so they
// are relayed again. With includeFailed, events still waiting out a backoff are
// made due immediately too. An empty eventType replays every type.
func (r Repository) Replay(ctx context.Context, eventType string, includeFailed bool) (int64, error) {
	statuses := []interface{}{string(StatusDead)}
	if includeFailed {
		statuses = append(statuses, string(StatusFailed))
	}

	args := statuses
	if eventType != "" {
		args = append(args, eventType)
	}

	res, err := r.db.ExecContext(ctx, r.queryProvider.ReplayEventsSql(len(statuses), eventType != ""), args...)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (r Repository) GetQueueSize() (uint, error) {
	return r.count(r.queryProvider.GetQueueSizeSql())
}

func (r Repository) GetTotalSize() (uint, error) {
	return r.count(r.queryProvider.GetTotalSizeSql())
}

func (r Repository) count(q string) (uint, error) {
	var count uint
	if err := r.db.QueryRow(q).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

func utcNow() time.Time {
	return time.Now().In(time.UTC)
}

func newQueryProvider(cfg *config.Config) queryProvider {
	switch true {
	case cfg.DBDriver.Postgres():
		return &s.PostgresQueryProvider{
			Table:       cfg.DBOutboxTable,
			LedgerTable: cfg.DBLedgerTable,
			Columns:     columns,
		}
	case cfg.DBDriver.MySQL():
		return &s.MysqlQueryProvider{
			Table:       cfg.DBOutboxTable,
			LedgerTable: cfg.DBLedgerTable,
			Columns:     columns,
		}
	}

	return nil
}
